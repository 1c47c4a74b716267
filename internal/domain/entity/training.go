package entity

// TrainingConfig is the structured parameter set submitted to the remote
// trainer.
type TrainingConfig struct {
	Steps                   int
	LearningRate            float64
	TriggerPhrase           string
	CreateMasks             bool
	SubjectCrop             bool
	MultiresolutionTraining bool
}

// TrainingResult is the normalized outcome of one remote training attempt.
// Provider-side failures are represented here, never as a returned error,
// so callers can uniformly persist failure state.
type TrainingResult struct {
	Success    bool
	ModelURL   string
	ConfigURL  string
	TrainingID string
	Provider   string
	Error      string
	Metadata   map[string]any
}
