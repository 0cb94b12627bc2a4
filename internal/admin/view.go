package admin

import (
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/models"
)

type stateView struct {
	Step      string         `json:"step"`
	Indicator flow.Indicator `json:"indicator"`

	Options  *models.GenerationOptions `json:"options,omitempty"`
	Balance  *int                      `json:"balance,omitempty"`
	Checking bool                      `json:"checking,omitempty"`

	Plans    []planView         `json:"plans,omitempty"`
	Selected *models.CreditPlan `json:"selected_plan,omitempty"`
	Phase    string             `json:"payment_phase,omitempty"`
	Payment  *paymentView       `json:"payment,omitempty"`
	Copied   bool               `json:"copied,omitempty"`

	JobID         string `json:"job_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	Progress      *int   `json:"progress,omitempty"`

	Record *models.SavedResultRecord `json:"record,omitempty"`
	Error  *errorView                `json:"error,omitempty"`
}

// planView is a catalog entry with the "most popular" badge resolved.
type planView struct {
	models.CreditPlan
	MostPopular bool `json:"most_popular"`
}

func newPlanViews(plans []models.CreditPlan) []planView {
	popular, hasPopular := models.MostPopular(plans)
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{CreditPlan: p, MostPopular: hasPopular && p.ID == popular.ID})
	}
	return views
}

type paymentView struct {
	ID               string     `json:"id"`
	Amount           string     `json:"amount"`
	CreditsPurchased int        `json:"credits_purchased"`
	Status           string     `json:"status"`
	Code             string     `json:"code"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

type errorView struct {
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	CanSelectPlan bool   `json:"can_select_plan"`
}

func newStateView(s flow.State) stateView {
	v := stateView{Step: s.Step().String(), Indicator: flow.StepIndicator(s)}
	switch st := s.(type) {
	case flow.OptionsState:
		opts := st.Options
		v.Options, v.Balance, v.Checking = &opts, st.Balance, st.Checking
		if st.Err != nil {
			v.Error = newErrorView(st.Err, false)
		}
	case flow.PaymentState:
		sel := st.Selected
		v.Plans, v.Selected, v.Phase, v.Copied = newPlanViews(st.Plans), &sel, string(st.Phase), st.Copied
		if st.Payment != nil {
			v.Payment = &paymentView{
				ID:               st.Payment.ID,
				Amount:           st.Payment.FormattedAmount(),
				CreditsPurchased: st.Payment.CreditsPurchased,
				Status:           string(st.Payment.Status),
				Code:             st.Payment.Code,
				ExpiresAt:        st.Payment.ExpiresAt,
			}
		}
	case flow.GeneratingState:
		progress := st.Progress
		v.JobID, v.PaymentID, v.Progress = st.JobID, st.PaymentID, &progress
		v.Status, v.StatusMessage = string(st.Status), st.StatusMessage()
	case flow.CompleteState:
		if st.Job != nil {
			v.JobID, v.Status = st.Job.ID, string(st.Job.Status)
		}
		v.Record = st.Record
	case flow.ErrorState:
		v.Plans, v.Selected = newPlanViews(st.Plans), st.Selected
		v.Error = newErrorView(st.Err, st.CanSelectPlan())
	}
	return v
}

func newErrorView(err error, canSelectPlan bool) *errorView {
	return &errorView{
		Kind:          string(apperr.KindOf(err)),
		Message:       apperr.MessageOf(err),
		Retryable:     apperr.Retryable(err),
		CanSelectPlan: canSelectPlan,
	}
}
