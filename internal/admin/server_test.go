package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/models"
)

type fakeFlow struct {
	state    flow.State
	options  []models.GenerationOptions
	plans    []string
	err      error
	retries  int
	copies   int
	startErr error
}

func (f *fakeFlow) State() flow.State { return f.state }
func (f *fakeFlow) Start() error      { return f.startErr }

func (f *fakeFlow) Continue(opts models.GenerationOptions) error {
	f.options = append(f.options, opts)
	return f.err
}

func (f *fakeFlow) SelectPlan(id string) error {
	f.plans = append(f.plans, id)
	return f.err
}

func (f *fakeFlow) CopyPaymentCode() error {
	f.copies++
	return f.err
}

func (f *fakeFlow) Retry() error {
	f.retries++
	return f.err
}

type fakeResults []models.SavedResultRecord

func (r fakeResults) List(context.Context) ([]models.SavedResultRecord, error) { return r, nil }

type fakePlans struct {
	plans []models.CreditPlan
	err   error
}

func (p fakePlans) FetchActivePlans(context.Context) ([]models.CreditPlan, error) {
	return p.plans, p.err
}

type publicRoutes struct{}

func (publicRoutes) Mount(r chi.Router) {
	r.Get("/auth/callback", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("callback"))
	})
}

func newTestServer(f *fakeFlow, plans fakePlans) *Server {
	return NewServer("127.0.0.1:0", "admin", "secret", nil, Deps{
		Flow:    f,
		Results: fakeResults{{RecordID: "r1", JobID: "job-1", Status: models.JobCompleted}},
		Plans:   plans,
		Public:  publicRoutes{},
	})
}

func do(t *testing.T, s *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuth(t *testing.T) {
	s := newTestServer(&fakeFlow{state: flow.OptionsState{}}, fakePlans{})

	rec := do(t, s, http.MethodGet, "/flow/", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "flashgen")

	rec = do(t, s, http.MethodGet, "/auth/callback", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "callback", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	open := NewServer("", "admin", "", nil, Deps{})
	rec = do(t, open, http.MethodGet, "/results", "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFlowState(t *testing.T) {
	balance := 3
	f := &fakeFlow{state: flow.OptionsState{Options: models.DefaultGenerationOptions(), Balance: &balance}}
	s := newTestServer(f, fakePlans{})

	rec := do(t, s, http.MethodGet, "/flow/", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "options", body["step"])
	assert.EqualValues(t, 3, body["balance"])
	ind := body["indicator"].(map[string]any)
	assert.Equal(t, true, ind["visible"])
	assert.EqualValues(t, 0, ind["current"])
}

func TestFlowActions(t *testing.T) {
	f := &fakeFlow{state: flow.GeneratingState{JobID: "job-1", Status: models.JobProcessing, Progress: 42}}
	s := newTestServer(f, fakePlans{})

	rec := do(t, s, http.MethodPost, "/flow/options", `{"job_context_url":"https://jobs.example.com/1","output_language":"PT-BR","source_emphasis":"mixed"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.options, 1)
	assert.Equal(t, models.LanguagePtBR, f.options[0].OutputLanguage)
	body := decode(t, rec)
	assert.Equal(t, "generating", body["step"])
	assert.EqualValues(t, 42, body["progress"])
	assert.Equal(t, models.StatusMessage(models.JobProcessing), body["status_message"])

	rec = do(t, s, http.MethodPost, "/flow/plan", `{"plan_id":"p25"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p25"}, f.plans)

	rec = do(t, s, http.MethodPost, "/flow/plan", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/flow/options", `nope`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.err = flow.ErrNotAllowed
	rec = do(t, s, http.MethodPost, "/flow/retry", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, f.retries)

	f.err = apperr.E(apperr.KindValidation, "options.validate", "job_context_url must be a valid URL")
	rec = do(t, s, http.MethodPost, "/flow/options", `{"job_context_url":"bad"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec)["kind"])

	f.err = errors.New("boom")
	rec = do(t, s, http.MethodPost, "/flow/copy-code", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestErrorStateView(t *testing.T) {
	sel := models.CreditPlan{ID: "p10", IsActive: true}
	f := &fakeFlow{state: flow.ErrorState{
		Err:      apperr.E(apperr.KindTerminalPayment, "payment.settle", "Payment expired or cancelled. Select a plan to generate a new code."),
		From:     flow.StepPayment,
		Plans:    []models.CreditPlan{sel},
		Selected: &sel,
	}}
	s := newTestServer(f, fakePlans{})

	body := decode(t, do(t, s, http.MethodGet, "/flow/", "", true))
	assert.Equal(t, "error", body["step"])
	errView := body["error"].(map[string]any)
	assert.Equal(t, "terminal_payment", errView["kind"])
	assert.Equal(t, true, errView["can_select_plan"])
	assert.Equal(t, false, errView["retryable"])
	assert.Equal(t, false, body["indicator"].(map[string]any)["visible"])
}

func TestListings(t *testing.T) {
	plans := fakePlans{plans: []models.CreditPlan{{ID: "p10", DisplayName: "Starter", CreditsAmount: 10, PriceMinorUnits: 5000, IsActive: true}}}
	s := newTestServer(&fakeFlow{state: flow.OptionsState{}}, plans)

	rec := do(t, s, http.MethodGet, "/plans", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var gotPlans []models.CreditPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gotPlans))
	assert.Equal(t, plans.plans, gotPlans)

	rec = do(t, s, http.MethodGet, "/results", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.SavedResultRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "job-1", records[0].JobID)

	failing := newTestServer(&fakeFlow{state: flow.OptionsState{}}, fakePlans{err: apperr.E(apperr.KindUnreachable, "backend.plans", "connection refused")})
	rec = do(t, failing, http.MethodGet, "/plans", "", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "unreachable", decode(t, rec)["kind"])
}

type fakeBackend struct{ err error }

func (b fakeBackend) Health(context.Context) error { return b.err }

func TestMostPopularPlan(t *testing.T) {
	catalog := []models.CreditPlan{
		{ID: "p10", DisplayName: "Starter", CreditsAmount: 10, PriceMinorUnits: 5000, IsActive: true},
		{ID: "p25", DisplayName: "Pro", CreditsAmount: 25, PriceMinorUnits: 10000, IsActive: true},
		{ID: "p50", DisplayName: "Team", CreditsAmount: 50, PriceMinorUnits: 18000, IsActive: true},
	}
	f := &fakeFlow{state: flow.PaymentState{Plans: catalog, Selected: catalog[0]}}
	s := newTestServer(f, fakePlans{plans: catalog})

	rec := do(t, s, http.MethodGet, "/plans", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []planView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 3)
	assert.Equal(t, []bool{false, true, false}, []bool{listed[0].MostPopular, listed[1].MostPopular, listed[2].MostPopular})
	assert.Equal(t, "Pro", listed[1].DisplayName)

	body := decode(t, do(t, s, http.MethodGet, "/flow/", "", true))
	plans := body["plans"].([]any)
	require.Len(t, plans, 3)
	assert.Equal(t, "p25", plans[1].(map[string]any)["id"])
	assert.Equal(t, true, plans[1].(map[string]any)["most_popular"])
	assert.Equal(t, false, plans[0].(map[string]any)["most_popular"])

	single := newTestServer(&fakeFlow{state: flow.OptionsState{}}, fakePlans{plans: catalog[:1]})
	require.NoError(t, json.Unmarshal(do(t, single, http.MethodGet, "/plans", "", true).Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.False(t, listed[0].MostPopular)
}

func TestHealthReportsBackend(t *testing.T) {
	up := NewServer("", "admin", "secret", nil, Deps{Backend: fakeBackend{}})
	rec := do(t, up, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["backend"])

	down := NewServer("", "admin", "secret", nil, Deps{Backend: fakeBackend{err: apperr.E(apperr.KindUnreachable, "backend.health", "connection refused")}})
	rec = do(t, down, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["backend"])
}
