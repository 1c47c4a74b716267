package entity

// Frame is one extracted video sample. SceneNumber ordering is significant
// and preserved end to end.
type Frame struct {
	SceneNumber    int
	FilePath       string
	TimestampStart float64
	TimestampEnd   float64
	Duration       float64
	Midpoint       float64
	Width          int
	Height         int
}

// QualityAssessment is the per-frame verdict. Immutable once computed.
type QualityAssessment struct {
	HasFace        bool
	FaceCount      int
	FaceConfidence float64
	Sharpness      float64
	Acceptable     bool
	Width          int
	Height         int
}
