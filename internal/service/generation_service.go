package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/loop"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

const (
	// progressCeiling is where the synthetic progress stops until the job resolves.
	progressCeiling = 90.0
	progressMaxStep = 15.0

	genericJobFailure = "Resume generation failed"
)

type JobBackend interface {
	GenerateResume(ctx context.Context, token string, r models.GenerationRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error)
}

type GenerationTimings struct {
	PollInterval time.Duration
	TickInterval time.Duration
}

func DefaultGenerationTimings() GenerationTimings {
	return GenerationTimings{
		PollInterval: 3 * time.Second,
		TickInterval: 800 * time.Millisecond,
	}
}

type GenerationService struct {
	loop    *loop.Loop
	backend JobBackend
	timings GenerationTimings
	rand    func() float64
	log     *slog.Logger
}

func NewGenerationService(l *loop.Loop, backend JobBackend, timings GenerationTimings, log *slog.Logger) *GenerationService {
	def := DefaultGenerationTimings()
	if timings.PollInterval <= 0 {
		timings.PollInterval = def.PollInterval
	}
	if timings.TickInterval <= 0 {
		timings.TickInterval = def.TickInterval
	}
	return &GenerationService{
		loop:    l,
		backend: backend,
		timings: timings,
		rand:    rand.Float64,
		log:     logger.OrDiscard(log),
	}
}

// WithRand replaces the source of progress increments; values are in [0,1).
func (s *GenerationService) WithRand(fn func() float64) *GenerationService {
	s.rand = fn
	return s
}

// Submit validates the request and creates a job. Without an auxiliary token
// the backend cannot read the source data, so the caller has to sign in again.
func (s *GenerationService) Submit(ctx context.Context, auxiliaryToken, credential string, opts models.GenerationOptions, paymentID string) (string, error) {
	const op = "generation.submit"
	if strings.TrimSpace(auxiliaryToken) == "" {
		return "", apperr.E(apperr.KindMissingAuxiliaryToken, op, "Source access token not found. Please sign in again.")
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return "", err
	}

	jobID, err := s.backend.GenerateResume(ctx, credential, models.GenerationRequest{
		AuxiliaryToken: auxiliaryToken,
		Options:        opts,
		PaymentID:      paymentID,
	})
	if err != nil {
		return "", err
	}
	s.log.Info("generation submitted", "job_id", jobID, "language", opts.OutputLanguage, "emphasis", opts.SourceEmphasis, "payment_id", paymentID)
	return jobID, nil
}

// JobCallbacks are invoked on the loop goroutine. Any of them may be nil.
type JobCallbacks struct {
	OnProgress func(percent int, status models.JobStatus)
	OnComplete func(*models.GenerationJob)
	OnError    func(error)
}

// JobTracker follows one job: a status poll and a cosmetic progress ticker,
// stopped together.
type JobTracker struct {
	jobID    string
	progress float64
	status   models.JobStatus
	done     bool
	cb       JobCallbacks
	rand     func() float64

	poll   *loop.Task
	ticker *loop.Task
}

// Track starts polling jobID immediately and every PollInterval after that.
// Must be called on the loop goroutine.
func (s *GenerationService) Track(jobID string, cb JobCallbacks) *JobTracker {
	t := &JobTracker{jobID: jobID, status: models.JobPending, cb: cb, rand: s.rand}

	t.ticker = loop.Every(s.loop, "job-progress", s.timings.TickInterval, func() bool {
		if t.done {
			return false
		}
		t.advance()
		return true
	})

	t.poll = loop.Poll(s.loop, "job-status", s.timings.PollInterval, true,
		func(ctx context.Context) (*models.GenerationJob, error) {
			return s.backend.GetJob(ctx, jobID)
		},
		func(job *models.GenerationJob, err error) bool {
			if t.done {
				return false
			}
			if err != nil {
				// No expiry backstop exists for jobs, so a failed read ends tracking.
				s.log.Warn("job poll failed", "job_id", jobID, "err", err)
				t.finish()
				t.fail(statusReadError(err))
				return false
			}

			t.status = job.Status
			switch job.Status {
			case models.JobCompleted:
				s.log.Info("job completed", "job_id", jobID)
				t.finish()
				t.progress = 100
				t.report()
				if t.cb.OnComplete != nil {
					t.cb.OnComplete(job)
				}
				return false
			case models.JobFailed:
				msg := genericJobFailure
				if job.ErrorMessage != nil && strings.TrimSpace(*job.ErrorMessage) != "" {
					msg = *job.ErrorMessage
				}
				s.log.Info("job failed", "job_id", jobID, "message", msg)
				t.finish()
				t.fail(apperr.E(apperr.KindJobFailure, "generation.poll", msg))
				return false
			default:
				t.report()
				return true
			}
		})
	return t
}

func statusReadError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(apperr.KindUnreachable, "generation.poll", err)
}

func (t *JobTracker) advance() {
	if t.progress >= progressCeiling {
		return
	}
	t.progress = math.Min(t.progress+t.rand()*progressMaxStep, progressCeiling)
	t.report()
}

func (t *JobTracker) report() {
	if t.cb.OnProgress != nil {
		t.cb.OnProgress(t.Progress(), t.status)
	}
}

func (t *JobTracker) fail(err error) {
	if t.cb.OnError != nil {
		t.cb.OnError(err)
	}
}

// finish stops both timers; the caller delivers the single terminal callback.
func (t *JobTracker) finish() {
	t.done = true
	t.poll.Cancel()
	t.ticker.Cancel()
}

// Stop tears the tracker down without any callback.
func (t *JobTracker) Stop() {
	if t == nil {
		return
	}
	t.done = true
	t.poll.Cancel()
	t.ticker.Cancel()
}

func (t *JobTracker) JobID() string            { return t.jobID }
func (t *JobTracker) Status() models.JobStatus { return t.status }
func (t *JobTracker) Done() bool               { return t.done }

// Progress is the displayed percentage, 100 only once the job completed.
func (t *JobTracker) Progress() int {
	return int(math.Floor(t.progress))
}
