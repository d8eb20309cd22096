package types

import "time"

type JobStatus string

const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}

	return false
}

// rank orders statuses along the lifecycle; terminal statuses share a rank.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusSubmitted:
		return 0
	case JobStatusRunning:
		return 1
	default:
		return 2
	}
}

// CanAdvanceTo reports whether a job in status s may move to next.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}

	return next.rank() > s.rank()
}

// Job is a snapshot of one tracked generation. Snapshots are values; the
// registry never mutates a Result once it has been published.
type Job struct {
	GenerationID string              `json:"generation_id"`
	Status       JobStatus           `json:"status"`
	ModelType    ModelType           `json:"model_type"`
	Prompt       string              `json:"prompt"`
	ModelName    string              `json:"model_name,omitempty"`
	LoraName     string              `json:"lora_name,omitempty"`
	Parameters   map[string]any      `json:"parameters,omitempty"`
	Result       *GenerationResponse `json:"result,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

func NewJob(payload *Payload, now time.Time) Job {
	return Job{
		GenerationID: payload.GenerationID,
		Status:       JobStatusSubmitted,
		ModelType:    payload.ModelType,
		Prompt:       payload.Prompt,
		ModelName:    payload.ModelName,
		LoraName:     payload.LoraName,
		Parameters:   payload.Parameters,
		SubmittedAt:  now,
	}
}
