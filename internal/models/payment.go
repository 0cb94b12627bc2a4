package models

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentExpired   PaymentStatus = "EXPIRED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentExpired, PaymentCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentExpired || s == PaymentCancelled
}

type Payment struct {
	ID               string
	AmountMinorUnits int
	CreditsPurchased int
	Status           PaymentStatus
	Code             string
	// CodeRendering is the QR image as transportable text (data URL or bare base64).
	CodeRendering string
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// PaymentStatusUpdate is the result of a settlement poll.
type PaymentStatusUpdate struct {
	ID               string
	Status           PaymentStatus
	CreditsPurchased int
	ExpiresAt        *time.Time
}

func (p Payment) FormattedAmount() string {
	return FormatMinorUnits(p.AmountMinorUnits)
}

// CodeImage decodes CodeRendering into raw image bytes.
func (p Payment) CodeImage() ([]byte, error) {
	raw := strings.TrimSpace(p.CodeRendering)
	if raw == "" {
		return nil, fmt.Errorf("payment %s has no code rendering", p.ID)
	}
	if strings.HasPrefix(raw, "data:") {
		idx := strings.Index(raw, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		raw = raw[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode code rendering: %w", err)
	}
	return data, nil
}
