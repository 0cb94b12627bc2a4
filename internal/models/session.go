package models

import "time"

// Session is the authenticated identity as seen by the client.
type Session struct {
	IdentityID       string    `json:"identity_id"`
	AccessCredential string    `json:"access_credential"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	// AuxiliaryToken is only present on the event emitted right after an OAuth
	// round-trip. Later refreshes never repeat it.
	AuxiliaryToken string `json:"-"`
}

// Expired reports whether the access credential is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type SessionEventKind string

const (
	SessionSignedIn       SessionEventKind = "SIGNED_IN"
	SessionTokenRefreshed SessionEventKind = "TOKEN_REFRESHED"
	SessionSignedOut      SessionEventKind = "SIGNED_OUT"
)

// SessionEvent is pushed by the identity provider whenever the session changes.
// A nil Session means the user is signed out.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

type UserProfile struct {
	IdentityID         string
	ExternalProfileURL *string
	SourceUsername     *string
	CreditBalance      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
