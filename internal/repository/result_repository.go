package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/store"
	"github.com/digkill/flashgen/pkg/logger"
)

const resultsKey = "results"

// ResultRepository is the local, most-recent-first list of completed jobs.
type ResultRepository struct {
	store store.Store
	clock clockwork.Clock
	log   *slog.Logger

	mu sync.Mutex
}

func NewResultRepository(s store.Store, clock clockwork.Clock, log *slog.Logger) *ResultRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ResultRepository{store: s, clock: clock, log: logger.OrDiscard(log)}
}

func (r *ResultRepository) List(ctx context.Context) ([]models.SavedResultRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Append records a completed job at the head of the list. A job id that is
// already present is not written again; the existing record is returned with
// written=false.
func (r *ResultRepository) Append(ctx context.Context, job *models.GenerationJob) (rec models.SavedResultRecord, written bool, err error) {
	if job == nil || job.ID == "" {
		return models.SavedResultRecord{}, false, errors.New("append result: job id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return models.SavedResultRecord{}, false, err
	}
	for _, existing := range records {
		if existing.JobID == job.ID {
			r.log.Info("result already saved", "job_id", job.ID, "record_id", existing.RecordID)
			return existing, false, nil
		}
	}

	// The record carries the job's creation time; the clock only fills in
	// for jobs the backend returned without one.
	created := job.CreatedAt
	if created.IsZero() {
		created = r.clock.Now()
	}
	rec = models.SavedResultRecord{
		RecordID:       uuid.NewString(),
		JobID:          job.ID,
		Status:         job.Status,
		CreatedAt:      created.UTC(),
		Outputs:        job.Outputs,
		SourceIdentity: job.SourceIdentity,
	}
	records = append([]models.SavedResultRecord{rec}, records...)
	if err := r.save(ctx, records); err != nil {
		return models.SavedResultRecord{}, false, err
	}
	return rec, true, nil
}

func (r *ResultRepository) load(ctx context.Context) ([]models.SavedResultRecord, error) {
	raw, err := r.store.Get(ctx, resultsKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []models.SavedResultRecord{}, nil
		}
		return nil, fmt.Errorf("load results: %w", err)
	}
	var records []models.SavedResultRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		// An unreadable list is replaced rather than blocking every later save.
		r.log.Warn("saved results unreadable, resetting", "err", err)
		if err := r.save(ctx, nil); err != nil {
			return nil, err
		}
		return []models.SavedResultRecord{}, nil
	}
	if records == nil {
		records = []models.SavedResultRecord{}
	}
	return records, nil
}

func (r *ResultRepository) save(ctx context.Context, records []models.SavedResultRecord) error {
	if records == nil {
		records = []models.SavedResultRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := r.store.Set(ctx, resultsKey, raw); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}
