package entity

import "github.com/google/uuid"

// TrainingJobMessage is the inbound message from the lora.training queue.
// Zero-valued training parameters fall back to configured defaults.
type TrainingJobMessage struct {
	JobID         uuid.UUID `json:"job_id"`
	UserID        string    `json:"user_id"`
	VideoURL      string    `json:"video_url"`
	LoraName      string    `json:"lora_name"`
	Trigger       string    `json:"trigger,omitempty"`
	Steps         int       `json:"steps,omitempty"`
	LearningRate  float64   `json:"learning_rate,omitempty"`
	FilterQuality *bool     `json:"filter_quality,omitempty"`
}

// JobStatusMessage is the outbound event published to the lora.status queue
// on every job state change.
type JobStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Version      int       `json:"version,omitempty"`
	ModelURL     string    `json:"model_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
