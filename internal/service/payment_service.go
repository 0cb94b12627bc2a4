package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/loop"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

type PaymentBackend interface {
	CreatePayment(ctx context.Context, token, planID string) (*models.Payment, error)
	GetPaymentStatus(ctx context.Context, paymentID, token string) (*models.PaymentStatusUpdate, error)
}

// Clipboard receives the payment code on copy.
type Clipboard interface {
	WriteAll(text string) error
}

type PaymentPhase string

const (
	PaymentCreating           PaymentPhase = "creating"
	PaymentAwaitingSettlement PaymentPhase = "awaiting_settlement"
	PaymentConfirmed          PaymentPhase = "confirmed"
	PaymentExpired            PaymentPhase = "expired"
	PaymentCancelled          PaymentPhase = "cancelled"
	PaymentCreationFailed     PaymentPhase = "creation_failed"
)

// PaymentCallbacks are invoked on the loop goroutine. Any of them may be nil.
type PaymentCallbacks struct {
	OnPhase     func(PaymentPhase, *models.Payment)
	OnConfirmed func(*models.Payment)
	OnError     func(error)
	OnCopied    func(copied bool)
}

type PaymentTimings struct {
	PollInterval time.Duration
	GraceDelay   time.Duration
	CopiedAck    time.Duration
}

func DefaultPaymentTimings() PaymentTimings {
	return PaymentTimings{
		PollInterval: 3 * time.Second,
		GraceDelay:   1500 * time.Millisecond,
		CopiedAck:    2 * time.Second,
	}
}

// PaymentFlow drives one payment attempt at a time: create, poll for
// settlement, confirm after a grace delay. Starting a new attempt abandons
// the previous one locally; the server-side expiry cleans it up.
//
// Every method must be called on the loop goroutine.
type PaymentFlow struct {
	loop      *loop.Loop
	backend   PaymentBackend
	clipboard Clipboard
	timings   PaymentTimings
	log       *slog.Logger

	attempt *paymentAttempt
}

type paymentAttempt struct {
	planID     string
	credential string
	phase      PaymentPhase
	payment    *models.Payment
	copied     bool
	confirmed  bool
	cb         PaymentCallbacks

	create *loop.Task
	poll   *loop.Task
	grace  *loop.Task
	copy   *loop.Task
	ack    *loop.Task
}

func (a *paymentAttempt) stop() {
	for _, t := range []*loop.Task{a.create, a.poll, a.grace, a.copy, a.ack} {
		t.Cancel()
	}
}

func NewPaymentFlow(l *loop.Loop, backend PaymentBackend, clipboard Clipboard, timings PaymentTimings, log *slog.Logger) *PaymentFlow {
	def := DefaultPaymentTimings()
	if timings.PollInterval <= 0 {
		timings.PollInterval = def.PollInterval
	}
	if timings.GraceDelay <= 0 {
		timings.GraceDelay = def.GraceDelay
	}
	if timings.CopiedAck <= 0 {
		timings.CopiedAck = def.CopiedAck
	}
	return &PaymentFlow{
		loop:      l,
		backend:   backend,
		clipboard: clipboard,
		timings:   timings,
		log:       logger.OrDiscard(log),
	}
}

// Begin abandons any live attempt and creates a payment for planID. Creation
// is attempted once; a failure ends the attempt in CreationFailed.
func (f *PaymentFlow) Begin(credential, planID string, cb PaymentCallbacks) {
	f.Dismiss()

	a := &paymentAttempt{planID: planID, credential: credential, phase: PaymentCreating, cb: cb}
	f.attempt = a
	f.setPhase(a, PaymentCreating)

	a.create = loop.Go(f.loop, "payment-create",
		func(ctx context.Context) (*models.Payment, error) {
			return f.backend.CreatePayment(ctx, credential, planID)
		},
		func(p *models.Payment, err error) {
			if err != nil {
				f.log.Warn("create payment failed", "plan_id", planID, "err", err)
				f.setPhase(a, PaymentCreationFailed)
				if a.cb.OnError != nil {
					a.cb.OnError(err)
				}
				return
			}
			a.payment = p
			f.log.Info("payment created", "payment_id", p.ID, "plan_id", planID, "amount", p.FormattedAmount())
			if p.Status != models.PaymentPending {
				f.settle(a, p.Status)
				return
			}
			f.setPhase(a, PaymentAwaitingSettlement)
			f.startPolling(a)
		})
}

func (f *PaymentFlow) startPolling(a *paymentAttempt) {
	paymentID := a.payment.ID
	a.poll = loop.Poll(f.loop, "payment-status", f.timings.PollInterval, false,
		func(ctx context.Context) (*models.PaymentStatusUpdate, error) {
			return f.backend.GetPaymentStatus(ctx, paymentID, a.credential)
		},
		func(u *models.PaymentStatusUpdate, err error) bool {
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					f.log.Warn("payment poll failed, retrying", "payment_id", paymentID, "err", err)
				}
				return true
			}
			if u.Status == models.PaymentPending {
				return true
			}
			f.settle(a, u.Status)
			return false
		})
}

// settle handles a terminal payment status.
func (f *PaymentFlow) settle(a *paymentAttempt, status models.PaymentStatus) {
	a.payment.Status = status
	f.log.Info("payment settled", "payment_id", a.payment.ID, "status", status)

	switch status {
	case models.PaymentPaid:
		f.setPhase(a, PaymentConfirmed)
		a.grace = loop.After(f.loop, "payment-grace", f.timings.GraceDelay, func() {
			if a.confirmed {
				return
			}
			a.confirmed = true
			if a.cb.OnConfirmed != nil {
				a.cb.OnConfirmed(a.payment)
			}
		})
	case models.PaymentExpired, models.PaymentCancelled:
		phase := PaymentExpired
		if status == models.PaymentCancelled {
			phase = PaymentCancelled
		}
		f.setPhase(a, phase)
		if a.cb.OnError != nil {
			a.cb.OnError(apperr.E(apperr.KindTerminalPayment, "payment.poll", "Payment expired or cancelled. Select a plan to generate a new code."))
		}
	}
}

func (f *PaymentFlow) setPhase(a *paymentAttempt, phase PaymentPhase) {
	a.phase = phase
	if a.cb.OnPhase != nil {
		a.cb.OnPhase(phase, a.payment)
	}
}

// Dismiss stops the live attempt. Nothing it scheduled will run afterwards.
func (f *PaymentFlow) Dismiss() {
	if f.attempt == nil {
		return
	}
	f.attempt.stop()
	if f.attempt.payment != nil && f.attempt.phase == PaymentAwaitingSettlement {
		f.log.Info("payment abandoned", "payment_id", f.attempt.payment.ID)
	}
	f.attempt = nil
}

// CopyCode writes the payment code to the clipboard off the loop. Failures
// are logged only. A successful copy is acknowledged for CopiedAck.
func (f *PaymentFlow) CopyCode() bool {
	a := f.attempt
	if a == nil || a.payment == nil || a.payment.Code == "" || f.clipboard == nil {
		return false
	}
	code := a.payment.Code
	a.copy.Cancel()
	a.copy = loop.Go(f.loop, "payment-copy",
		func(context.Context) (struct{}, error) {
			return struct{}{}, f.clipboard.WriteAll(code)
		},
		func(_ struct{}, err error) {
			if err != nil {
				f.log.Warn("copy payment code failed", "err", err)
				return
			}
			f.setCopied(a, true)
			a.ack.Cancel()
			a.ack = loop.After(f.loop, "payment-copied-ack", f.timings.CopiedAck, func() {
				f.setCopied(a, false)
			})
		})
	return true
}

func (f *PaymentFlow) setCopied(a *paymentAttempt, copied bool) {
	a.copied = copied
	if a.cb.OnCopied != nil {
		a.cb.OnCopied(copied)
	}
}

func (f *PaymentFlow) Phase() PaymentPhase {
	if f.attempt == nil {
		return ""
	}
	return f.attempt.phase
}

func (f *PaymentFlow) Payment() *models.Payment {
	if f.attempt == nil {
		return nil
	}
	return f.attempt.payment
}

func (f *PaymentFlow) Copied() bool {
	return f.attempt != nil && f.attempt.copied
}

// ActivePaymentID is the id being polled, or "" when no payment is live.
func (f *PaymentFlow) ActivePaymentID() string {
	if f.attempt == nil || f.attempt.payment == nil || f.attempt.phase != PaymentAwaitingSettlement {
		return ""
	}
	return f.attempt.payment.ID
}
