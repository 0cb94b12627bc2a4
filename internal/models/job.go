package models

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StatusMessage is the display line for a job status.
func StatusMessage(s JobStatus) string {
	switch s {
	case JobProcessing:
		return "Analyzing your profile and repository data..."
	case JobCompleted:
		return "Resume generated successfully!"
	case JobFailed:
		return "Resume generation failed"
	default:
		return "Preparing generation..."
	}
}

type OutputURLs struct {
	HTML *string `json:"html_url,omitempty"`
	PDF  *string `json:"pdf_url,omitempty"`
}

type GenerationJob struct {
	ID             string
	Status         JobStatus
	SourceIdentity *string
	Outputs        OutputURLs
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SavedResultRecord is the local, append-only trace of a completed job.
type SavedResultRecord struct {
	RecordID       string     `json:"id"`
	JobID          string     `json:"job_id"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	Outputs        OutputURLs `json:"outputs"`
	SourceIdentity *string    `json:"source_identity,omitempty"`
}

// ResultSummary is one entry of the server-side result listing.
type ResultSummary struct {
	Cover   string
	Outputs OutputURLs
}
