package webhook

import (
	"time"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// Payload is the wire shape for job lifecycle callbacks.
type Payload struct {
	Event       string       `json:"event"`
	JobID       string       `json:"jobId"`
	UserID      string       `json:"userId"`
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	CompletedAt string       `json:"completedAt,omitempty"`
	FailedAt    string       `json:"failedAt,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   string       `json:"timestamp"`
	Lora        *LoraPayload `json:"lora,omitempty"`
}

type LoraPayload struct {
	ModelURL string `json:"modelUrl"`
	Version  int    `json:"version"`
	Trigger  string `json:"trigger"`
}

// CompletionPayload builds the job.completed callback. The lora block is
// attached only for the lora-training job type.
func CompletionPayload(job *entity.Job, modelURL string, version int, trigger string) Payload {
	now := time.Now().UTC().Format(time.RFC3339)
	p := Payload{
		Event:       "job.completed",
		JobID:       job.ID.String(),
		UserID:      job.UserID,
		Type:        job.Type,
		Status:      string(entity.JobStatusCompleted),
		CompletedAt: now,
		Timestamp:   now,
	}
	if job.Type == entity.JobTypeLoraTraining {
		p.Lora = &LoraPayload{
			ModelURL: modelURL,
			Version:  version,
			Trigger:  trigger,
		}
	}
	return p
}

// FailurePayload builds the job.failed callback.
func FailurePayload(job *entity.Job, errMsg string) Payload {
	now := time.Now().UTC().Format(time.RFC3339)
	return Payload{
		Event:     "job.failed",
		JobID:     job.ID.String(),
		UserID:    job.UserID,
		Type:      job.Type,
		Status:    string(entity.JobStatusFailed),
		Error:     errMsg,
		FailedAt:  now,
		Timestamp: now,
	}
}
