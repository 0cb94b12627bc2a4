package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/digkill/flashgen/internal/models"
)

type planResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreditsAmount int    `json:"credits_amount"`
	PriceCents    int    `json:"price_cents"`
	IsActive      bool   `json:"is_active"`
}

type planList []planResponse

func (l *planList) validate() error {
	for i, p := range *l {
		if p.ID == "" {
			return fmt.Errorf("plan %d: id is empty", i)
		}
		if p.CreditsAmount <= 0 {
			return fmt.Errorf("plan %s: credits_amount must be positive", p.ID)
		}
		if p.PriceCents < 0 {
			return fmt.Errorf("plan %s: price_cents is negative", p.ID)
		}
	}
	return nil
}

type paymentResponse struct {
	ID               string               `json:"id"`
	AmountCents      int                  `json:"amount_cents"`
	CreditsPurchased int                  `json:"credits_purchased"`
	Status           models.PaymentStatus `json:"status"`
	BRCode           string               `json:"br_code"`
	BRCodeBase64     string               `json:"br_code_base64"`
	CreatedAt        time.Time            `json:"created_at"`
	ExpiresAt        *time.Time           `json:"expires_at"`
}

func (p *paymentResponse) validate() error {
	if p.ID == "" {
		return errors.New("payment id is empty")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown payment status %q", p.Status)
	}
	return nil
}

type paymentStatusResponse struct {
	ID               string               `json:"id"`
	Status           models.PaymentStatus `json:"status"`
	CreditsPurchased int                  `json:"credits_purchased"`
	ExpiresAt        *time.Time           `json:"expires_at"`
}

func (p *paymentStatusResponse) validate() error {
	if !p.Status.Valid() {
		return fmt.Errorf("unknown payment status %q", p.Status)
	}
	return nil
}

// ListPlans returns the full catalog, inactive plans included.
func (c *Client) ListPlans(ctx context.Context) ([]models.CreditPlan, error) {
	var resp planList
	if err := c.do(ctx, request{op: "backend.list_plans", method: http.MethodGet, path: "/payment/plans"}, &resp); err != nil {
		return nil, err
	}
	plans := make([]models.CreditPlan, 0, len(resp))
	for _, p := range resp {
		plans = append(plans, models.CreditPlan{
			ID:              p.ID,
			DisplayName:     p.Name,
			CreditsAmount:   p.CreditsAmount,
			PriceMinorUnits: p.PriceCents,
			IsActive:        p.IsActive,
		})
	}
	return plans, nil
}

func (c *Client) CreatePayment(ctx context.Context, token, planID string) (*models.Payment, error) {
	const op = "backend.create_payment"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	body, err := jsonBody(map[string]string{"plan_id": planID})
	if err != nil {
		return nil, err
	}
	var resp paymentResponse
	req := request{op: op, method: http.MethodPost, path: "/payment/create", token: token, body: body, contentType: "application/json"}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &models.Payment{
		ID:               resp.ID,
		AmountMinorUnits: resp.AmountCents,
		CreditsPurchased: resp.CreditsPurchased,
		Status:           resp.Status,
		Code:             resp.BRCode,
		CodeRendering:    resp.BRCodeBase64,
		CreatedAt:        resp.CreatedAt,
		ExpiresAt:        resp.ExpiresAt,
	}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentID, token string) (*models.PaymentStatusUpdate, error) {
	const op = "backend.payment_status"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	var resp paymentStatusResponse
	req := request{op: op, method: http.MethodGet, path: "/payment/" + url.PathEscape(paymentID), token: token}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	id := resp.ID
	if id == "" {
		id = paymentID
	}
	return &models.PaymentStatusUpdate{
		ID:               id,
		Status:           resp.Status,
		CreditsPurchased: resp.CreditsPurchased,
		ExpiresAt:        resp.ExpiresAt,
	}, nil
}
