package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeLoraTraining is the job type handled by this worker. The webhook
// payload carries it, and the lora block is attached only for this type.
const JobTypeLoraTraining = "lora-training"

// Job is one end-to-end training request. Created by the API front-end
// before the pipeline runs; mutated only through the job store.
type Job struct {
	ID           uuid.UUID
	UserID       string
	Type         string
	Status       JobStatus
	Progress     int
	Versions     []Version
	WebhookURL   string
	ErrorMessage string
	StorageBytes int64
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Version is an accepted training outcome appended to a job. Numbers are
// 1-based and strictly increasing; versions are never mutated or removed.
type Version struct {
	Number     int
	StorageKey string
	ModelURL   string
	SizeBytes  int64
	CreatedAt  time.Time
	Config     VersionConfig
}

// VersionConfig records the training configuration a version was built with.
type VersionConfig struct {
	Trigger      string  `json:"trigger"`
	Steps        int     `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	FrameCount   int     `json:"frame_count"`
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// NextVersion is the number the next appended version must carry.
func (j *Job) NextVersion() int {
	return len(j.Versions) + 1
}
