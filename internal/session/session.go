// Package session holds the signed-in identity for the lifetime of the process.
//
// The auxiliary token follows a fixed lifecycle: it is read from the token
// store on Establish, overwritten whenever a session event carries a fresh
// one, and cleared when the session goes away or the user signs out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

// Provider is the external identity collaborator.
type Provider interface {
	GetSession(ctx context.Context) (*models.Session, error)
	OnSessionChange(handler func(models.SessionEvent)) (unsubscribe func())
	SignInWithOAuth(ctx context.Context, provider string, scopes []string, redirect string) error
	SignOut(ctx context.Context) error
}

// Users is the part of the backend the session context talks to.
type Users interface {
	EnsureUser(ctx context.Context, token string) error
	GetProfile(ctx context.Context, token string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, token, externalProfileURL string) (*models.UserProfile, error)
}

type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type Options struct {
	OAuthProvider string
	Scopes        []string
	RedirectURL   string
}

// State is an immutable snapshot handed to readers and subscribers.
type State struct {
	IdentityID     string
	Credential     string
	AuxiliaryToken string
	Profile        *models.UserProfile
	Loading        bool
}

func (s State) SignedIn() bool { return s.Credential != "" }

type Context struct {
	provider Provider
	users    Users
	tokens   TokenStore
	opts     Options
	log      *slog.Logger

	mu          sync.Mutex
	state       State
	established bool
	unsubscribe func()
	provisioned map[string]bool
	subs        map[int]func(State)
	nextSub     int
}

// New builds a session context. A nil provider means the identity
// integration is not configured: sign-in and sign-out fail with a
// configuration error and no session ever appears.
func New(provider Provider, users Users, tokens TokenStore, opts Options, log *slog.Logger) *Context {
	return &Context{
		provider:    provider,
		users:       users,
		tokens:      tokens,
		opts:        opts,
		log:         logger.OrDiscard(log),
		provisioned: make(map[string]bool),
		subs:        make(map[int]func(State)),
	}
}

// Establish reads the persisted auxiliary token and the provider session once,
// then follows provider events until Close. Later calls are no-ops.
func (c *Context) Establish(ctx context.Context) error {
	c.mu.Lock()
	if c.established {
		c.mu.Unlock()
		return nil
	}
	c.established = true
	c.state.Loading = c.provider != nil
	c.mu.Unlock()

	aux, err := c.tokens.Load(ctx)
	if err != nil {
		c.log.Warn("load auxiliary token", "err", err)
	}
	c.update(func(s *State) { s.AuxiliaryToken = aux })

	if c.provider == nil {
		c.log.Warn("identity provider not configured, authentication disabled")
		return nil
	}

	unsubscribe := c.provider.OnSessionChange(c.handleEvent)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	sess, err := c.provider.GetSession(ctx)
	if err != nil {
		c.update(func(s *State) { s.Loading = false })
		return apperr.Wrap(apperr.KindUnauthenticated, "session.establish", err)
	}
	c.applySession(ctx, sess)
	c.update(func(s *State) { s.Loading = false })
	return nil
}

func (c *Context) handleEvent(evt models.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.log.Info("session changed", "event", evt.Kind, "signed_in", evt.Session != nil)

	switch {
	case evt.Session == nil:
		if err := c.tokens.Clear(ctx); err != nil {
			c.log.Warn("clear auxiliary token", "err", err)
		}
		c.update(func(s *State) { s.AuxiliaryToken = "" })
	case evt.Session.AuxiliaryToken != "":
		if err := c.tokens.Save(ctx, evt.Session.AuxiliaryToken); err != nil {
			c.log.Warn("save auxiliary token", "err", err)
		}
		aux := evt.Session.AuxiliaryToken
		c.update(func(s *State) { s.AuxiliaryToken = aux })
	}

	c.applySession(ctx, evt.Session)
	c.update(func(s *State) { s.Loading = false })
}

// applySession records identity and credential, provisions the user once per
// identity and loads the profile. Network failures leave the profile empty.
func (c *Context) applySession(ctx context.Context, sess *models.Session) {
	if sess == nil {
		c.update(func(s *State) {
			s.IdentityID = ""
			s.Credential = ""
			s.Profile = nil
		})
		return
	}

	identityID, token := sess.IdentityID, sess.AccessCredential
	c.update(func(s *State) {
		if s.IdentityID != identityID {
			s.Profile = nil
		}
		s.IdentityID = identityID
		s.Credential = token
	})

	c.mu.Lock()
	needsProvision := !c.provisioned[identityID]
	c.mu.Unlock()
	if needsProvision {
		if err := c.users.EnsureUser(ctx, token); err != nil {
			c.log.Warn("ensure user", "identity_id", identityID, "err", err)
		} else {
			c.mu.Lock()
			c.provisioned[identityID] = true
			c.mu.Unlock()
		}
	}

	if _, err := c.Profile(ctx); err != nil {
		c.log.Warn("fetch profile", "identity_id", identityID, "err", err)
	}
}

// SignIn starts the OAuth round-trip with the minimum scopes needed to read
// profile and repository data.
func (c *Context) SignIn(ctx context.Context) error {
	if c.provider == nil {
		return apperr.E(apperr.KindConfiguration, "session.sign_in", "identity provider is not configured")
	}
	return c.provider.SignInWithOAuth(ctx, c.opts.OAuthProvider, c.opts.Scopes, c.opts.RedirectURL)
}

// SignOut ends the provider session and clears the persisted auxiliary token.
func (c *Context) SignOut(ctx context.Context) error {
	if c.provider == nil {
		return apperr.E(apperr.KindConfiguration, "session.sign_out", "identity provider is not configured")
	}
	signOutErr := c.provider.SignOut(ctx)
	// Local state goes regardless: a stale auxiliary token must not outlive
	// a sign-out request.
	if err := c.tokens.Clear(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn("clear auxiliary token", "err", err)
	}
	c.update(func(s *State) {
		*s = State{}
	})
	return signOutErr
}

// Profile refetches the profile; the balance is never cached for decisions.
func (c *Context) Profile(ctx context.Context) (*models.UserProfile, error) {
	snap := c.Snapshot()
	if snap.Credential == "" {
		return nil, apperr.E(apperr.KindUnauthenticated, "session.profile", "not signed in")
	}
	p, err := c.users.GetProfile(ctx, snap.Credential)
	if err != nil {
		return nil, err
	}
	c.update(func(s *State) {
		if s.IdentityID == snap.IdentityID {
			s.Profile = p
		}
	})
	return p, nil
}

// UpdateProfile validates the link before anything leaves the process.
func (c *Context) UpdateProfile(ctx context.Context, externalProfileURL string) (*models.UserProfile, error) {
	link, err := models.ValidateProfileURL(externalProfileURL)
	if err != nil {
		return nil, err
	}
	snap := c.Snapshot()
	if snap.Credential == "" {
		return nil, apperr.E(apperr.KindUnauthenticated, "session.update_profile", "not signed in")
	}
	p, err := c.users.UpdateProfile(ctx, snap.Credential, link)
	if err != nil {
		return nil, err
	}
	c.update(func(s *State) {
		if s.IdentityID == snap.IdentityID {
			s.Profile = p
		}
	})
	return p, nil
}

func (c *Context) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) Credential() string     { return c.Snapshot().Credential }
func (c *Context) AuxiliaryToken() string { return c.Snapshot().AuxiliaryToken }

// Subscribe calls fn after every state change until cancel is called.
func (c *Context) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close stops following provider events.
func (c *Context) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Context) update(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snap := c.state
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
