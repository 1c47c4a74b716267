package port

import (
	"context"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// TrainingProvider is the external remote-training capability boundary.
// Provider-side failures come back inside the TrainingResult; an error
// return means the adapter itself could not run.
type TrainingProvider interface {
	Train(ctx context.Context, dataset *entity.TrainingDataset, cfg entity.TrainingConfig) *entity.TrainingResult
}
