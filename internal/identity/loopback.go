// Package identity implements the identity provider used by the session
// context: an OAuth round-trip captured on a local HTTP callback.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/repository"
	"github.com/digkill/flashgen/pkg/logger"
)

// pendingTTL bounds how long an authorize round-trip may take.
const pendingTTL = 10 * time.Minute

// ErrUnexpectedCallback rejects callback posts that do not answer a sign-in
// started by this process.
var ErrUnexpectedCallback = errors.New("identity: no matching sign-in in progress")

// Opener presents the authorize URL to the user (prints it, opens a browser...).
type Opener func(authorizeURL string) error

type Config struct {
	AuthURL string
	AnonKey string
}

// TokenSet is what the provider hands back in the callback fragment.
type TokenSet struct {
	AccessToken   string
	RefreshToken  string
	ProviderToken string
	ExpiresIn     int
	// State echoes the nonce carried in the redirect URL.
	State string
}

// Loopback keeps the session in a SessionRepository and pushes change events
// to subscribers when the callback completes, a refresh happens or the user
// signs out.
type Loopback struct {
	cfg        Config
	sessions   *repository.SessionRepository
	open       Opener
	httpClient *http.Client
	clock      clockwork.Clock
	log        *slog.Logger

	mu       sync.Mutex
	handlers map[int]func(models.SessionEvent)
	nextID   int
	pending  map[string]time.Time
}

func NewLoopback(cfg Config, sessions *repository.SessionRepository, open Opener, log *slog.Logger) *Loopback {
	return &Loopback{
		cfg:        Config{AuthURL: strings.TrimRight(cfg.AuthURL, "/"), AnonKey: cfg.AnonKey},
		sessions:   sessions,
		open:       open,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      clockwork.NewRealClock(),
		log:        logger.OrDiscard(log),
		handlers:   make(map[int]func(models.SessionEvent)),
		pending:    make(map[string]time.Time),
	}
}

// WithClock replaces the clock used for expiry checks.
func (p *Loopback) WithClock(c clockwork.Clock) *Loopback {
	p.clock = c
	return p
}

func (p *Loopback) WithHTTPClient(hc *http.Client) *Loopback {
	p.httpClient = hc
	return p
}

// GetSession returns the stored session, refreshing it first when the access
// credential has expired and a refresh token is available. Nil means signed out.
func (p *Loopback) GetSession(ctx context.Context) (*models.Session, error) {
	s, err := p.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.Expired(p.clock.Now()) {
		return s, nil
	}
	if s.RefreshToken == "" {
		p.log.Info("stored session expired", "identity_id", s.IdentityID)
		return nil, p.sessions.Clear(ctx)
	}

	refreshed, err := p.refresh(ctx, s.RefreshToken)
	if err != nil {
		p.log.Warn("session refresh failed", "err", err)
		return nil, p.sessions.Clear(ctx)
	}
	if err := p.sessions.Save(ctx, refreshed); err != nil {
		return nil, err
	}
	p.emit(models.SessionEvent{Kind: models.SessionTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// OnSessionChange registers handler for every later session event.
func (p *Loopback) OnSessionChange(handler func(models.SessionEvent)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// SignInWithOAuth builds the provider authorize URL and hands it to the opener.
// The redirect carries a fresh state nonce; the round-trip finishes when the
// callback posts the tokens and that nonce back to the session route.
func (p *Loopback) SignInWithOAuth(_ context.Context, provider string, scopes []string, redirect string) error {
	if p.open == nil {
		return errors.New("identity: no opener configured")
	}
	state := uuid.NewString()
	redirectWithState, err := withState(redirect, state)
	if err != nil {
		return fmt.Errorf("identity: redirect url: %w", err)
	}

	p.mu.Lock()
	p.pending[state] = p.clock.Now().Add(pendingTTL)
	p.mu.Unlock()

	if err := p.open(p.AuthorizeURL(provider, scopes, redirectWithState)); err != nil {
		p.mu.Lock()
		delete(p.pending, state)
		p.mu.Unlock()
		return err
	}
	return nil
}

// consumeState accepts a nonce once, and only before it expires.
func (p *Loopback) consumeState(state string) bool {
	if state == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for k, exp := range p.pending {
		if now.After(exp) {
			delete(p.pending, k)
		}
	}
	if _, ok := p.pending[state]; !ok {
		return false
	}
	delete(p.pending, state)
	return true
}

func withState(redirect, state string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Loopback) AuthorizeURL(provider string, scopes []string, redirect string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirect)
	if len(scopes) > 0 {
		q.Set("scopes", strings.Join(scopes, " "))
	}
	return p.cfg.AuthURL + "/authorize?" + q.Encode()
}

// CompleteSignIn turns callback tokens into a session, stores it and emits
// SIGNED_IN carrying the provider token.
func (p *Loopback) CompleteSignIn(ctx context.Context, tokens TokenSet) (*models.Session, error) {
	s, err := p.sessionFromTokens(tokens)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	p.log.Info("signed in", "identity_id", s.IdentityID, "provider_token", tokens.ProviderToken != "")

	evt := *s
	evt.AuxiliaryToken = tokens.ProviderToken
	p.emit(models.SessionEvent{Kind: models.SessionSignedIn, Session: &evt})
	return s, nil
}

// SignOut revokes the session upstream when possible, then forgets it locally.
// The upstream call is best-effort: an unreachable provider must not keep the
// user signed in on this machine.
func (p *Loopback) SignOut(ctx context.Context) error {
	s, err := p.sessions.Load(ctx)
	if err != nil {
		p.log.Warn("load session for sign out", "err", err)
	}
	if s != nil && s.AccessCredential != "" {
		if err := p.logout(ctx, s.AccessCredential); err != nil {
			p.log.Warn("upstream logout failed", "err", err)
		}
	}
	if err := p.sessions.Clear(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	p.emit(models.SessionEvent{Kind: models.SessionSignedOut})
	return nil
}

func (p *Loopback) emit(evt models.SessionEvent) {
	p.mu.Lock()
	handlers := make([]func(models.SessionEvent), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (p *Loopback) sessionFromTokens(tokens TokenSet) (*models.Session, error) {
	if tokens.AccessToken == "" {
		return nil, errors.New("identity: access token missing")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("identity: parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("identity: access token has no subject")
	}

	s := &models.Session{
		IdentityID:       sub,
		AccessCredential: tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
	}
	if tokens.ExpiresIn > 0 {
		s.ExpiresAt = p.clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second).UTC()
	} else if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time.UTC()
	}
	return s, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (p *Loopback) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthURL+"/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.cfg.AnonKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh request: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}
	return p.sessionFromTokens(TokenSet{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, ExpiresIn: tr.ExpiresIn})
}

func (p *Loopback) logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", p.cfg.AnonKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout: status %d", resp.StatusCode)
	}
	return nil
}
