package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// JobStore is the external job record datastore. Updates are field-level;
// progress never decreases and terminal states are final.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// UpdateStatus sets status and, when progress >= 0, progress. It stamps
	// started_at on the first transition to processing and completed_at on
	// completed. errMsg is recorded only when non-empty.
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, progress int, errMsg string) error

	// AppendVersion atomically allocates version.Number from the current
	// version count, appends the record and increments the job's cumulative
	// storage byte counter. The allocated number is returned.
	AppendVersion(ctx context.Context, id uuid.UUID, version entity.Version) (int, error)
}
