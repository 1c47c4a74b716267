package entity

// TrainingDataset is an assembled, training-ready bundle on disk:
// images/NNNN.jpg, captions/NNNN.txt and metadata.json under Dir.
// Read-only once handed to a training provider.
type TrainingDataset struct {
	Dir           string
	ImagesDir     string
	CaptionsDir   string
	ImageCount    int
	TriggerPhrase string
	Metadata      DatasetMetadata
}

// DatasetMetadata mirrors the metadata.json written next to the bundle.
type DatasetMetadata struct {
	DatasetName   string          `json:"dataset_name"`
	TriggerPhrase string          `json:"trigger_phrase"`
	ImageCount    int             `json:"image_count"`
	FilterQuality bool            `json:"filter_quality"`
	Frames        []FrameMetadata `json:"frames"`
	QualityStats  *QualityStats   `json:"quality_stats,omitempty"`
}

type FrameMetadata struct {
	SceneNumber int     `json:"scene_number"`
	Timestamp   float64 `json:"timestamp"`
	Duration    float64 `json:"duration"`
	Resolution  string  `json:"resolution"`
}

// QualityStats aggregates assessments over every assessed frame,
// rejected ones included.
type QualityStats struct {
	TotalAssessed     int     `json:"total_assessed"`
	Accepted          int     `json:"accepted"`
	Rejected          int     `json:"rejected"`
	AvgFaceConfidence float64 `json:"avg_face_confidence"`
	AvgSharpness      float64 `json:"avg_blur_score"`
}
