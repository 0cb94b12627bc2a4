package flow

import (
	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/service"
)

type Step int

const (
	StepOptions Step = iota
	StepPayment
	StepGenerating
	StepComplete
	StepError
)

func (s Step) String() string {
	switch s {
	case StepOptions:
		return "options"
	case StepPayment:
		return "payment"
	case StepGenerating:
		return "generating"
	case StepComplete:
		return "complete"
	case StepError:
		return "error"
	default:
		return "unknown"
	}
}

// State is one of OptionsState, PaymentState, GeneratingState,
// CompleteState or ErrorState.
type State interface {
	Step() Step
	isState()
}

// OptionsState collects the generation options. Checking is set while the
// balance is being fetched for the branch decision.
type OptionsState struct {
	Options  models.GenerationOptions
	Balance  *int
	Checking bool
	Err      error
}

type PaymentState struct {
	Plans    []models.CreditPlan
	Selected models.CreditPlan
	Phase    service.PaymentPhase
	Payment  *models.Payment
	Copied   bool
}

type GeneratingState struct {
	JobID      string
	PaymentID  string
	Status     models.JobStatus
	Progress   int
	Submitting bool
}

func (s GeneratingState) StatusMessage() string { return models.StatusMessage(s.Status) }

type CompleteState struct {
	Job    *models.GenerationJob
	Record *models.SavedResultRecord
}

// ErrorState is terminal until Retry. When the failure happened in the
// payment step the plan list is kept so a plan can be selected again.
type ErrorState struct {
	Err      error
	From     Step
	Plans    []models.CreditPlan
	Selected *models.CreditPlan
}

func (s ErrorState) Message() string { return apperr.MessageOf(s.Err) }

// CanSelectPlan reports whether SelectPlan leaves this state.
func (s ErrorState) CanSelectPlan() bool { return s.From == StepPayment && len(s.Plans) > 0 }

func (OptionsState) Step() Step    { return StepOptions }
func (PaymentState) Step() Step    { return StepPayment }
func (GeneratingState) Step() Step { return StepGenerating }
func (CompleteState) Step() Step   { return StepComplete }
func (ErrorState) Step() Step      { return StepError }

func (OptionsState) isState()    {}
func (PaymentState) isState()    {}
func (GeneratingState) isState() {}
func (CompleteState) isState()   {}
func (ErrorState) isState()      {}

var stepLabels = []string{"Options", "Payment", "Generating"}

// Indicator is the three-step progress header.
type Indicator struct {
	Visible bool     `json:"visible"`
	Current int      `json:"current"`
	Labels  []string `json:"labels"`
}

// StepIndicator is hidden once the flow completed or failed.
func StepIndicator(s State) Indicator {
	ind := Indicator{Labels: append([]string(nil), stepLabels...)}
	switch s.Step() {
	case StepOptions:
		ind.Visible, ind.Current = true, 0
	case StepPayment:
		ind.Visible, ind.Current = true, 1
	case StepGenerating:
		ind.Visible, ind.Current = true, 2
	}
	return ind
}

type Destination string

const (
	Dashboard Destination = "dashboard"
	Login     Destination = "login"
)
