package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/repository"
	"github.com/digkill/flashgen/internal/store"
)

type fakeProvider struct {
	mu         sync.Mutex
	session    *models.Session
	handler    func(models.SessionEvent)
	signInArgs []string
	signOutErr error
	signOuts   int
}

func (p *fakeProvider) GetSession(context.Context) (*models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

func (p *fakeProvider) OnSessionChange(h func(models.SessionEvent)) func() {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) SignInWithOAuth(_ context.Context, provider string, scopes []string, redirect string) error {
	p.signInArgs = append([]string{provider, redirect}, scopes...)
	return nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.signOuts++
	return p.signOutErr
}

func (p *fakeProvider) emit(evt models.SessionEvent) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

type fakeUsers struct {
	mu       sync.Mutex
	ensured  map[string]int
	balance  int
	updated  string
	fetchErr error
}

func newFakeUsers(balance int) *fakeUsers {
	return &fakeUsers{ensured: map[string]int{}, balance: balance}
}

func (u *fakeUsers) EnsureUser(_ context.Context, token string) error {
	u.mu.Lock()
	u.ensured[token]++
	u.mu.Unlock()
	return nil
}

func (u *fakeUsers) GetProfile(_ context.Context, token string) (*models.UserProfile, error) {
	if u.fetchErr != nil {
		return nil, u.fetchErr
	}
	return &models.UserProfile{IdentityID: "id-" + token, CreditBalance: u.balance}, nil
}

func (u *fakeUsers) UpdateProfile(_ context.Context, token, link string) (*models.UserProfile, error) {
	u.updated = link
	return &models.UserProfile{IdentityID: "id-" + token, ExternalProfileURL: &link}, nil
}

func newContext(t *testing.T, p Provider, users *fakeUsers) (*Context, *repository.TokenRepository) {
	t.Helper()
	tokens := repository.NewTokenRepository(store.NewMemory())
	c := New(p, users, tokens, Options{OAuthProvider: "github", Scopes: []string{"read:user", "repo"}, RedirectURL: "http://cb"}, nil)
	t.Cleanup(c.Close)
	return c, tokens
}

func TestEstablish_ReadsPersistedTokenAndSession(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{session: &models.Session{IdentityID: "u1", AccessCredential: "cred"}}
	users := newFakeUsers(3)
	c, tokens := newContext(t, p, users)
	require.NoError(t, tokens.Save(ctx, "gho_saved"))

	require.NoError(t, c.Establish(ctx))
	snap := c.Snapshot()
	assert.False(t, snap.Loading)
	assert.True(t, snap.SignedIn())
	assert.Equal(t, "gho_saved", snap.AuxiliaryToken)
	assert.Equal(t, "cred", snap.Credential)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, 3, snap.Profile.CreditBalance)
	assert.Equal(t, 1, users.ensured["cred"])

	require.NoError(t, c.Establish(ctx))
	assert.Equal(t, 1, users.ensured["cred"], "establish runs once")
}

func TestEvents_AuxiliaryTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	users := newFakeUsers(0)
	c, tokens := newContext(t, p, users)
	require.NoError(t, c.Establish(ctx))
	assert.False(t, c.Snapshot().SignedIn())

	p.emit(models.SessionEvent{Kind: models.SessionSignedIn, Session: &models.Session{IdentityID: "u1", AccessCredential: "a1", AuxiliaryToken: "gho_1"}})
	assert.Equal(t, "gho_1", c.AuxiliaryToken())
	saved, _ := tokens.Load(ctx)
	assert.Equal(t, "gho_1", saved)

	p.emit(models.SessionEvent{Kind: models.SessionTokenRefreshed, Session: &models.Session{IdentityID: "u1", AccessCredential: "a2"}})
	assert.Equal(t, "gho_1", c.AuxiliaryToken(), "refresh keeps the captured token")
	assert.Equal(t, "a2", c.Credential())
	assert.Equal(t, 1, users.ensured["a1"]+users.ensured["a2"], "provisioned once per identity")

	p.emit(models.SessionEvent{Kind: models.SessionSignedIn, Session: &models.Session{IdentityID: "u1", AccessCredential: "a3", AuxiliaryToken: "gho_2"}})
	assert.Equal(t, "gho_2", c.AuxiliaryToken())

	p.emit(models.SessionEvent{Kind: models.SessionSignedOut})
	assert.Empty(t, c.AuxiliaryToken())
	assert.False(t, c.Snapshot().SignedIn())
	saved, _ = tokens.Load(ctx)
	assert.Empty(t, saved)
}

func TestUnconfiguredProvider(t *testing.T) {
	ctx := context.Background()
	c, _ := newContext(t, nil, newFakeUsers(0))

	require.NoError(t, c.Establish(ctx))
	assert.False(t, c.Snapshot().Loading)

	assert.ErrorIs(t, c.SignIn(ctx), apperr.ErrConfiguration)
	assert.ErrorIs(t, c.SignOut(ctx), apperr.ErrConfiguration)
}

func TestSignIn_DelegatesWithScopes(t *testing.T) {
	p := &fakeProvider{}
	c, _ := newContext(t, p, newFakeUsers(0))
	require.NoError(t, c.SignIn(context.Background()))
	assert.Equal(t, []string{"github", "http://cb", "read:user", "repo"}, p.signInArgs)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{session: &models.Session{IdentityID: "u1", AccessCredential: "cred"}}
	c, tokens := newContext(t, p, newFakeUsers(1))
	require.NoError(t, tokens.Save(ctx, "gho"))
	require.NoError(t, c.Establish(ctx))

	require.NoError(t, c.SignOut(ctx))
	assert.Empty(t, c.AuxiliaryToken())
	assert.False(t, c.Snapshot().SignedIn())
	saved, _ := tokens.Load(ctx)
	assert.Empty(t, saved)
}

func TestSignOut_ProviderFailureStillClearsLocalState(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{session: &models.Session{IdentityID: "u1", AccessCredential: "cred"}}
	c, tokens := newContext(t, p, newFakeUsers(1))
	require.NoError(t, tokens.Save(ctx, "gho"))
	require.NoError(t, c.Establish(ctx))
	require.Equal(t, "gho", c.AuxiliaryToken())

	p.signOutErr = errors.New("provider down")
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := c.SignOut(cancelled)
	require.Error(t, err)
	assert.Equal(t, "provider down", err.Error())
	assert.Empty(t, c.AuxiliaryToken())
	assert.False(t, c.Snapshot().SignedIn())
	saved, _ := tokens.Load(ctx)
	assert.Empty(t, saved)
	assert.Equal(t, 1, p.signOuts)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	users := newFakeUsers(5)
	p := &fakeProvider{}
	c, _ := newContext(t, p, users)
	require.NoError(t, c.Establish(ctx))

	_, err := c.Profile(ctx)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	p.emit(models.SessionEvent{Kind: models.SessionSignedIn, Session: &models.Session{IdentityID: "u1", AccessCredential: "cred"}})

	_, err = c.UpdateProfile(ctx, "https://example.com/me")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, users.updated, "invalid link never reaches the backend")

	prof, err := c.UpdateProfile(ctx, "https://www.linkedin.com/in/me")
	require.NoError(t, err)
	assert.Equal(t, "https://www.linkedin.com/in/me", *prof.ExternalProfileURL)
	assert.Equal(t, prof, c.Snapshot().Profile)
}

func TestProfileFetchFailureIsNotFatal(t *testing.T) {
	users := newFakeUsers(0)
	users.fetchErr = apperr.E(apperr.KindUnreachable, "x", "down")
	p := &fakeProvider{session: &models.Session{IdentityID: "u1", AccessCredential: "cred"}}
	c, _ := newContext(t, p, users)

	require.NoError(t, c.Establish(context.Background()))
	assert.True(t, c.Snapshot().SignedIn())
	assert.Nil(t, c.Snapshot().Profile)
}

func TestSubscribe(t *testing.T) {
	p := &fakeProvider{}
	c, _ := newContext(t, p, newFakeUsers(0))
	var seen []State
	cancel := c.Subscribe(func(s State) { seen = append(seen, s) })
	require.NoError(t, c.Establish(context.Background()))
	require.NotEmpty(t, seen)
	assert.False(t, seen[len(seen)-1].Loading)

	cancel()
	n := len(seen)
	p.emit(models.SessionEvent{Kind: models.SessionSignedOut})
	assert.Len(t, seen, n)
}
