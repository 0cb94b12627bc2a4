package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/digkill/flashgen/internal/backend"
	"github.com/digkill/flashgen/internal/clipboard"
	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/identity"
	"github.com/digkill/flashgen/internal/loop"
	"github.com/digkill/flashgen/internal/notify"
	"github.com/digkill/flashgen/internal/repository"
	"github.com/digkill/flashgen/internal/service"
	"github.com/digkill/flashgen/internal/session"
	"github.com/digkill/flashgen/internal/store"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg config.Config
	log *slog.Logger
	out io.Writer

	store    store.Store
	backend  *backend.Client
	results  *repository.ResultRepository
	identity *identity.Loopback
	session  *session.Context
	ledger   *service.LedgerService
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, out io.Writer) (*app, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		out:     out,
		store:   st,
		backend: backend.NewClient(cfg, log),
		results: repository.NewResultRepository(st, clockwork.NewRealClock(), log),
	}
	a.ledger = service.NewLedgerService(a.backend, log)

	var provider session.Provider
	if cfg.IdentityConfigured() {
		a.identity = identity.NewLoopback(
			identity.Config{AuthURL: cfg.AuthURL, AnonKey: cfg.AuthAnonKey},
			repository.NewSessionRepository(st),
			a.printAuthorizeURL,
			log,
		)
		provider = a.identity
	} else {
		log.Warn("identity provider not configured, running signed out")
	}

	a.session = session.New(provider, a.backend, repository.NewTokenRepository(st), session.Options{
		OAuthProvider: cfg.OAuthProvider,
		Scopes:        cfg.OAuthScopes,
		RedirectURL:   cfg.OAuthRedirectURL,
	}, log)
	return a, nil
}

func (a *app) printAuthorizeURL(u string) error {
	_, err := fmt.Fprintf(a.out, "Open this URL in your browser to sign in:\n\n  %s\n\n", u)
	return err
}

func (a *app) close() {
	a.session.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", "err", err)
	}
}

// newFlow starts an event loop for ctx and builds an orchestrator on it.
func (a *app) newFlow(ctx context.Context, planHint string, onNavigate func(flow.Destination)) *flow.Orchestrator {
	l := loop.New(clockwork.NewRealClock(), a.log)
	go func() {
		if err := l.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("event loop stopped", "err", err)
		}
	}()

	payments := service.NewPaymentFlow(l, a.backend, clipboard.New(), service.PaymentTimings{
		PollInterval: a.cfg.PaymentPollInterval,
		GraceDelay:   a.cfg.PaymentGraceDelay,
		CopiedAck:    a.cfg.CopiedAckDuration,
	}, a.log)
	jobs := service.NewGenerationService(l, a.backend, service.GenerationTimings{
		PollInterval: a.cfg.JobPollInterval,
		TickInterval: a.cfg.ProgressTickInterval,
	}, a.log)

	if planHint == "" {
		planHint = a.cfg.PlanHint
	}
	return flow.New(flow.Deps{
		Loop:          l,
		Session:       a.session,
		Ledger:        a.ledger,
		Payments:      payments,
		Jobs:          jobs,
		Results:       a.results,
		Notifier:      a.notifier(),
		Log:           a.log,
		PlanHint:      planHint,
		RedirectDelay: a.cfg.CompleteRedirectDelay,
		OnNavigate:    onNavigate,
	})
}

func (a *app) notifier() flow.Notifier {
	if a.cfg.TelegramBotToken == "" {
		return nil
	}
	n, err := notify.NewTelegram(a.cfg.TelegramBotToken, a.cfg.TelegramChatID, a.log)
	if err != nil {
		a.log.Warn("telegram notifications disabled", "err", err)
		return nil
	}
	return n
}
