package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/digkill/flashgen/internal/models"
)

// profilePath lives under the provisioning resource, after BACKEND_API_PREFIX.
// A backend that serves the profile at a bare /profile needs this changed.
const profilePath = "/users/profile"

type profileResponse struct {
	ID             string    `json:"id"`
	LinkedInURL    *string   `json:"linkedin_url"`
	GithubUsername *string   `json:"github_username"`
	Credits        *int      `json:"credits"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (p *profileResponse) validate() error {
	if p.ID == "" {
		return errors.New("profile id is empty")
	}
	if p.Credits == nil {
		return errors.New("profile credits missing")
	}
	if *p.Credits < 0 {
		return errors.New("profile credits negative")
	}
	return nil
}

func (p *profileResponse) toModel() *models.UserProfile {
	return &models.UserProfile{
		IdentityID:         p.ID,
		ExternalProfileURL: p.LinkedInURL,
		SourceUsername:     p.GithubUsername,
		CreditBalance:      *p.Credits,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// EnsureUser provisions the user on first login. The endpoint is idempotent.
func (c *Client) EnsureUser(ctx context.Context, token string) error {
	const op = "backend.ensure_user"
	if err := requireToken(op, token); err != nil {
		return err
	}
	return c.do(ctx, request{op: op, method: http.MethodPost, path: "/users", token: token}, nil)
}

func (c *Client) GetProfile(ctx context.Context, token string) (*models.UserProfile, error) {
	const op = "backend.get_profile"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	var resp profileResponse
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: profilePath, token: token}, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

func (c *Client) UpdateProfile(ctx context.Context, token, externalProfileURL string) (*models.UserProfile, error) {
	const op = "backend.update_profile"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	body, err := jsonBody(map[string]string{"linkedin_url": externalProfileURL})
	if err != nil {
		return nil, err
	}
	var resp profileResponse
	req := request{op: op, method: http.MethodPut, path: profilePath, token: token, body: body, contentType: "application/json"}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}
