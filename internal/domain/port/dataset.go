package port

import (
	"context"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// DatasetBuilder assembles a labeled training bundle from extracted frames.
type DatasetBuilder interface {
	Build(ctx context.Context, frames []entity.Frame, name, triggerPhrase string, filterQuality bool) (*entity.TrainingDataset, error)
}

// QualityAssessor scores single images for training suitability.
type QualityAssessor interface {
	// Assess returns nil (with no error) when the image cannot be decoded.
	Assess(ctx context.Context, imagePath string) (*entity.QualityAssessment, error)

	// FilterFrames keeps accepted frames in input order and returns the
	// assessments for every assessable input, rejected ones included.
	FilterFrames(ctx context.Context, frames []entity.Frame) ([]entity.Frame, []entity.QualityAssessment, error)
}
