package port

import (
	"context"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// FrameExtractor partitions a local video into segments and samples one
// frame per segment, in order.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outputDir string) ([]entity.Frame, error)
}
