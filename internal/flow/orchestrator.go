// Package flow sequences ledger, payment and job submission into the
// generation workflow:
//
//	Options -> [Payment ->] Generating -> Complete
//
// with Error reachable from Payment and Generating. All state lives on the
// loop goroutine; public methods hop onto it.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/loop"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/service"
	"github.com/digkill/flashgen/pkg/logger"
)

// ErrNotAllowed is returned when an action does not apply to the current state.
var ErrNotAllowed = errors.New("flow: action not allowed in current state")

const signOutTimeout = 30 * time.Second

type Session interface {
	Credential() string
	AuxiliaryToken() string
	SignOut(ctx context.Context) error
}

type Ledger interface {
	Balance(ctx context.Context, credential string) (int, error)
	FetchActivePlans(ctx context.Context) ([]models.CreditPlan, error)
}

type Results interface {
	Append(ctx context.Context, job *models.GenerationJob) (models.SavedResultRecord, bool, error)
}

// Notifier is told about saved results. Failures are logged only.
type Notifier interface {
	ResultSaved(ctx context.Context, rec models.SavedResultRecord) error
}

type Deps struct {
	Loop     *loop.Loop
	Session  Session
	Ledger   Ledger
	Payments *service.PaymentFlow
	Jobs     *service.GenerationService
	Results  Results
	Notifier Notifier
	Log      *slog.Logger

	// PlanHint preselects an active plan by id.
	PlanHint      string
	RedirectDelay time.Duration
	OnNavigate    func(Destination)
}

type Orchestrator struct {
	loop     *loop.Loop
	session  Session
	ledger   Ledger
	payments *service.PaymentFlow
	jobs     *service.GenerationService
	results  Results
	notifier Notifier
	log      *slog.Logger
	planHint string
	delay    time.Duration
	navigate func(Destination)

	// Loop-owned.
	state     State
	options   models.GenerationOptions
	plans     []models.CreditPlan
	paymentID string
	tracker   *service.JobTracker
	redirect  *loop.Task
	pending   []*loop.Task
	epoch     int
	completed map[string]bool
	closed    bool
	subs      map[int]func(State)
	nextSub   int

	mu        sync.RWMutex
	published State
}

func New(d Deps) *Orchestrator {
	delay := d.RedirectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	navigate := d.OnNavigate
	if navigate == nil {
		navigate = func(Destination) {}
	}
	initial := OptionsState{Options: models.DefaultGenerationOptions()}
	return &Orchestrator{
		loop:      d.Loop,
		session:   d.Session,
		ledger:    d.Ledger,
		payments:  d.Payments,
		jobs:      d.Jobs,
		results:   d.Results,
		notifier:  d.Notifier,
		log:       logger.OrDiscard(d.Log),
		planHint:  d.PlanHint,
		delay:     delay,
		navigate:  navigate,
		state:     initial,
		options:   initial.Options,
		completed: make(map[string]bool),
		subs:      make(map[int]func(State)),
		published: initial,
	}
}

// State returns the latest published state. Safe from any goroutine.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.published
}

// Subscribe registers fn for every state change; fn runs on the loop.
func (o *Orchestrator) Subscribe(fn func(State)) (cancel func()) {
	_ = o.loop.Do(context.Background(), func() {
		id := o.nextSub
		o.nextSub++
		o.subs[id] = fn
		cancel = func() {
			o.loop.Post(func() { delete(o.subs, id) })
		}
	})
	if cancel == nil {
		cancel = func() {}
	}
	return cancel
}

// Start enters Options and loads the balance for display.
func (o *Orchestrator) Start() error {
	return o.call(func() error {
		o.enterOptions(o.options)
		return nil
	})
}

// Continue submits the options: validation first, then the branch decision.
func (o *Orchestrator) Continue(opts models.GenerationOptions) error {
	return o.call(func() error {
		st, ok := o.state.(OptionsState)
		if !ok || st.Checking {
			return ErrNotAllowed
		}
		opts = opts.Normalize()
		o.options = opts
		st.Options = opts
		if err := opts.Validate(); err != nil {
			st.Err = err
			o.setState(st)
			return err
		}
		o.branch()
		return nil
	})
}

// SelectPlan switches the payment to another plan, or starts a new payment
// after a payment failure. The previous payment is abandoned.
func (o *Orchestrator) SelectPlan(planID string) error {
	return o.call(func() error {
		switch st := o.state.(type) {
		case PaymentState:
		case ErrorState:
			if !st.CanSelectPlan() {
				return ErrNotAllowed
			}
		default:
			return ErrNotAllowed
		}
		plan, ok := models.FindPlan(o.plans, planID)
		if !ok {
			return apperr.E(apperr.KindValidation, "flow.select_plan", "unknown or inactive plan: "+planID)
		}
		o.beginPayment(plan)
		return nil
	})
}

func (o *Orchestrator) CopyPaymentCode() error {
	return o.call(func() error {
		if _, ok := o.state.(PaymentState); !ok {
			return ErrNotAllowed
		}
		if !o.payments.CopyCode() {
			return ErrNotAllowed
		}
		return nil
	})
}

// Retry leaves Error for Options, keeping the last options.
func (o *Orchestrator) Retry() error {
	return o.call(func() error {
		if _, ok := o.state.(ErrorState); !ok {
			return ErrNotAllowed
		}
		o.enterOptions(o.options)
		return nil
	})
}

// Close tears the flow down. Nothing scheduled by it runs afterwards.
func (o *Orchestrator) Close() {
	_ = o.loop.Do(context.Background(), func() {
		o.teardown()
		o.closed = true
	})
}

func (o *Orchestrator) call(fn func() error) error {
	var err error
	if doErr := o.loop.Do(context.Background(), func() {
		if o.closed {
			err = loop.ErrClosed
			return
		}
		err = fn()
	}); doErr != nil {
		return doErr
	}
	return err
}

// teardown cancels every task owned by the current step and invalidates
// results still in flight.
func (o *Orchestrator) teardown() {
	o.epoch++
	for _, t := range o.pending {
		t.Cancel()
	}
	o.pending = nil
	o.payments.Dismiss()
	o.tracker.Stop()
	o.tracker = nil
	o.redirect.Cancel()
	o.redirect = nil
}

func (o *Orchestrator) setState(s State) {
	if o.closed {
		return
	}
	o.state = s
	o.mu.Lock()
	o.published = s
	o.mu.Unlock()
	for _, fn := range o.subs {
		fn(s)
	}
}

// async runs fetch off the loop and hands the result to handle on the loop,
// unless the flow was torn down in between.
func async[T any](o *Orchestrator, name string, fetch func(ctx context.Context) (T, error), handle func(T, error)) {
	epoch := o.epoch
	t := loop.Go(o.loop, name, fetch, func(v T, err error) {
		if o.closed || epoch != o.epoch {
			return
		}
		handle(v, err)
	})
	o.pending = append(o.pending, t)
}

func (o *Orchestrator) enterOptions(opts models.GenerationOptions) {
	o.teardown()
	o.paymentID = ""
	o.setState(OptionsState{Options: opts})

	cred := o.session.Credential()
	if cred == "" {
		return
	}
	async(o, "flow-balance-display",
		func(ctx context.Context) (int, error) { return o.ledger.Balance(ctx, cred) },
		func(n int, err error) {
			if err != nil {
				o.log.Warn("fetch balance for display", "err", err)
				return
			}
			if st, ok := o.state.(OptionsState); ok {
				st.Balance = &n
				o.setState(st)
			}
		})
}

// branch refetches the balance and either submits or enters Payment. It runs
// from Options and again after every payment confirmation.
func (o *Orchestrator) branch() {
	cred := o.session.Credential()
	if cred == "" {
		o.unauthenticated(apperr.E(apperr.KindUnauthenticated, "flow.branch", "Please sign in to continue."))
		return
	}

	if st, ok := o.state.(OptionsState); ok {
		st.Checking, st.Err = true, nil
		o.setState(st)
	}

	async(o, "flow-balance",
		func(ctx context.Context) (int, error) { return o.ledger.Balance(ctx, cred) },
		func(n int, err error) {
			if err != nil {
				o.log.Warn("balance check failed", "err", err)
				if errors.Is(err, apperr.ErrUnauthenticated) {
					o.unauthenticated(err)
					return
				}
				o.failBranch(err)
				return
			}
			o.log.Info("balance checked", "credits", n)
			if n > 0 {
				o.submit()
				return
			}
			o.enterPayment()
		})
}

// failBranch surfaces a failed balance read inline in Options, or as an
// error when the read followed a payment confirmation.
func (o *Orchestrator) failBranch(err error) {
	if st, ok := o.state.(OptionsState); ok {
		st.Checking, st.Err = false, err
		o.setState(st)
		return
	}
	o.fail(err, StepPayment)
}

func (o *Orchestrator) unauthenticated(err error) {
	if st, ok := o.state.(OptionsState); ok {
		st.Checking, st.Err = false, err
		o.setState(st)
	} else {
		o.fail(err, o.state.Step())
	}
	o.navigate(Login)
}

func (o *Orchestrator) enterPayment() {
	async(o, "flow-plans",
		func(ctx context.Context) ([]models.CreditPlan, error) { return o.ledger.FetchActivePlans(ctx) },
		func(plans []models.CreditPlan, err error) {
			if err != nil {
				o.fail(err, StepPayment)
				return
			}
			plan, ok := models.DefaultPlan(plans, o.planHint)
			if !ok {
				o.fail(apperr.E(apperr.KindConfiguration, "flow.plans", "No credit plans are available right now."), StepPayment)
				return
			}
			o.plans = plans
			o.beginPayment(plan)
		})
}

func (o *Orchestrator) beginPayment(plan models.CreditPlan) {
	o.setState(PaymentState{Plans: o.plans, Selected: plan, Phase: service.PaymentCreating})
	o.payments.Begin(o.session.Credential(), plan.ID, service.PaymentCallbacks{
		OnPhase: func(phase service.PaymentPhase, p *models.Payment) {
			if st, ok := o.state.(PaymentState); ok {
				st.Phase, st.Payment = phase, p
				o.setState(st)
			}
		},
		OnCopied: func(copied bool) {
			if st, ok := o.state.(PaymentState); ok {
				st.Copied = copied
				o.setState(st)
			}
		},
		OnConfirmed: func(p *models.Payment) {
			o.log.Info("payment confirmed, rechecking balance", "payment_id", p.ID)
			o.paymentID = p.ID
			o.branch()
		},
		OnError: func(err error) {
			o.fail(err, StepPayment)
		},
	})
}

func (o *Orchestrator) submit() {
	o.payments.Dismiss()
	paymentID := o.paymentID
	o.setState(GeneratingState{PaymentID: paymentID, Status: models.JobPending, Submitting: true})

	aux, cred, opts := o.session.AuxiliaryToken(), o.session.Credential(), o.options
	async(o, "flow-submit",
		func(ctx context.Context) (string, error) {
			return o.jobs.Submit(ctx, aux, cred, opts, paymentID)
		},
		func(jobID string, err error) {
			if err != nil {
				if errors.Is(err, apperr.ErrMissingAuxiliaryToken) {
					o.reauthenticate(err)
					return
				}
				o.fail(err, StepGenerating)
				return
			}
			o.setState(GeneratingState{JobID: jobID, PaymentID: paymentID, Status: models.JobPending})
			o.track(jobID, paymentID)
		})
}

// reauthenticate signs the user out and sends them to login instead of
// retrying a submission the backend cannot act on. The error state is
// published only once sign-out has finished, so observers that stop at the
// error never leave a stale token behind.
func (o *Orchestrator) reauthenticate(err error) {
	o.log.Warn("auxiliary token missing, signing out", "err", err)
	async(o, "flow-signout",
		func(ctx context.Context) (struct{}, error) {
			// Sign-out outlives Close: the token must go even if the flow is torn down.
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signOutTimeout)
			defer cancel()
			return struct{}{}, o.session.SignOut(sctx)
		},
		func(_ struct{}, signOutErr error) {
			if signOutErr != nil {
				o.log.Warn("sign out failed", "err", signOutErr)
			}
			o.fail(err, StepGenerating)
			o.navigate(Login)
		})
}

func (o *Orchestrator) track(jobID, paymentID string) {
	o.tracker = o.jobs.Track(jobID, service.JobCallbacks{
		OnProgress: func(percent int, status models.JobStatus) {
			if st, ok := o.state.(GeneratingState); ok && st.JobID == jobID {
				st.Progress, st.Status = percent, status
				o.setState(st)
			}
		},
		OnComplete: func(job *models.GenerationJob) {
			o.complete(job)
		},
		OnError: func(err error) {
			o.fail(err, StepGenerating)
		},
	})
}

// complete saves the result once per job id, then navigates to the
// dashboard after the redirect delay.
func (o *Orchestrator) complete(job *models.GenerationJob) {
	if o.completed[job.ID] {
		o.log.Info("completion already handled", "job_id", job.ID)
		return
	}
	o.completed[job.ID] = true
	o.tracker = nil
	o.setState(CompleteState{Job: job})

	async(o, "flow-save-result",
		func(ctx context.Context) (models.SavedResultRecord, error) {
			rec, written, err := o.results.Append(ctx, job)
			if err == nil && written && o.notifier != nil {
				if nerr := o.notifier.ResultSaved(ctx, rec); nerr != nil {
					o.log.Warn("notify result saved", "job_id", job.ID, "err", nerr)
				}
			}
			return rec, err
		},
		func(rec models.SavedResultRecord, err error) {
			if err != nil {
				o.log.Error("save result", "job_id", job.ID, "err", err)
			} else if st, ok := o.state.(CompleteState); ok && st.Job.ID == job.ID {
				st.Record = &rec
				o.setState(st)
			}
			o.redirect = loop.After(o.loop, "flow-redirect", o.delay, func() {
				o.navigate(Dashboard)
			})
		})
}

func (o *Orchestrator) fail(err error, from Step) {
	o.log.Info("flow failed", "from", from.String(), "kind", apperr.KindOf(err), "err", err)
	o.tracker.Stop()
	o.tracker = nil
	st := ErrorState{Err: err, From: from}
	if from == StepPayment {
		st.Plans = o.plans
		if ps, ok := o.state.(PaymentState); ok {
			sel := ps.Selected
			st.Selected = &sel
		}
	} else {
		o.payments.Dismiss()
	}
	o.setState(st)
}
