package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

type LedgerBackend interface {
	GetProfile(ctx context.Context, token string) (*models.UserProfile, error)
	ListPlans(ctx context.Context) ([]models.CreditPlan, error)
}

// LedgerService is the read-only view of credits and the plan catalog. It
// never adjusts a balance locally; callers refetch after anything that could
// change it.
type LedgerService struct {
	backend LedgerBackend
	log     *slog.Logger
}

func NewLedgerService(backend LedgerBackend, log *slog.Logger) *LedgerService {
	return &LedgerService{backend: backend, log: logger.OrDiscard(log)}
}

func (s *LedgerService) FetchProfile(ctx context.Context, credential string) (*models.UserProfile, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, apperr.E(apperr.KindUnauthenticated, "ledger.fetch_profile", "not signed in")
	}
	return s.backend.GetProfile(ctx, credential)
}

// Balance is FetchProfile reduced to the credit count.
func (s *LedgerService) Balance(ctx context.Context, credential string) (int, error) {
	p, err := s.FetchProfile(ctx, credential)
	if err != nil {
		return 0, err
	}
	return p.CreditBalance, nil
}

// FetchActivePlans returns the active plans in catalog order.
func (s *LedgerService) FetchActivePlans(ctx context.Context) ([]models.CreditPlan, error) {
	plans, err := s.backend.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	active := models.ActivePlans(plans)
	s.log.Debug("plans fetched", "total", len(plans), "active", len(active))
	return active, nil
}
