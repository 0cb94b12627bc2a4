package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/digkill/flashgen/internal/store"
)

const auxiliaryTokenKey = "auxiliary_token"

// TokenRepository holds the auxiliary token captured after OAuth sign-in.
type TokenRepository struct {
	store store.Store
}

func NewTokenRepository(s store.Store) *TokenRepository {
	return &TokenRepository{store: s}
}

// Load returns "" when no token has been saved.
func (r *TokenRepository) Load(ctx context.Context) (string, error) {
	raw, err := r.store.Get(ctx, auxiliaryTokenKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load auxiliary token: %w", err)
	}
	return string(raw), nil
}

func (r *TokenRepository) Save(ctx context.Context, token string) error {
	if token == "" {
		return r.Clear(ctx)
	}
	if err := r.store.Set(ctx, auxiliaryTokenKey, []byte(token)); err != nil {
		return fmt.Errorf("save auxiliary token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, auxiliaryTokenKey); err != nil {
		return fmt.Errorf("clear auxiliary token: %w", err)
	}
	return nil
}
