package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
	"github.com/superwebpros/content-generation-service/internal/domain/port"
)

// BuildError marks a fatal dataset assembly failure, typically too few
// frames surviving the quality gate.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("dataset build failed: %s", e.Reason)
}

// captionTemplates are cycled deterministically by frame position, which
// gives lexical diversity without randomness.
var captionTemplates = []string{
	"a portrait of %s",
	"a photo of %s",
	"%s looking at camera",
	"a professional photo of %s",
	"a headshot of %s",
}

type BuilderConfig struct {
	OutputDir string
	MinFrames int
	MaxFrames int
}

// Builder assembles training-ready bundles: quality-filtered frames renamed
// to a zero-padded sequence, matching caption files and a metadata record.
type Builder struct {
	assessor port.QualityAssessor
	cfg      BuilderConfig
	logger   *zap.Logger
}

func NewBuilder(assessor port.QualityAssessor, cfg BuilderConfig, logger *zap.Logger) *Builder {
	return &Builder{assessor: assessor, cfg: cfg, logger: logger}
}

func (b *Builder) Build(ctx context.Context, frames []entity.Frame, name, triggerPhrase string, filterQuality bool) (*entity.TrainingDataset, error) {
	var assessments []entity.QualityAssessment
	if filterQuality {
		var err error
		frames, assessments, err = b.assessor.FilterFrames(ctx, frames)
		if err != nil {
			return nil, fmt.Errorf("quality filter: %w", err)
		}
	}

	if len(frames) < b.cfg.MinFrames {
		return nil, &BuildError{
			Reason: fmt.Sprintf("insufficient frames: %d < %d required", len(frames), b.cfg.MinFrames),
		}
	}

	if len(frames) > b.cfg.MaxFrames {
		b.logger.Warn("limiting dataset size",
			zap.Int("have", len(frames)),
			zap.Int("max", b.cfg.MaxFrames),
		)
		// Front-biased truncation, preserving original order.
		frames = frames[:b.cfg.MaxFrames]
	}

	datasetDir := filepath.Join(b.cfg.OutputDir, name)
	imagesDir := filepath.Join(datasetDir, "images")
	captionsDir := filepath.Join(datasetDir, "captions")
	for _, dir := range []string{imagesDir, captionsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dataset dir %s: %w", dir, err)
		}
	}

	for i, frame := range frames {
		seq := i + 1
		destImage := filepath.Join(imagesDir, fmt.Sprintf("%04d.jpg", seq))
		if err := copyFile(frame.FilePath, destImage); err != nil {
			return nil, fmt.Errorf("copy frame %d: %w", seq, err)
		}

		// Captions cycle by the source scene number, not the post-filter
		// sequence, so a frame keeps its caption when neighbours are
		// filtered out.
		caption := CaptionFor(triggerPhrase, frame.SceneNumber)
		captionPath := filepath.Join(captionsDir, fmt.Sprintf("%04d.txt", seq))
		if err := os.WriteFile(captionPath, []byte(caption), 0644); err != nil {
			return nil, fmt.Errorf("write caption %d: %w", seq, err)
		}
	}

	metadata := entity.DatasetMetadata{
		DatasetName:   name,
		TriggerPhrase: triggerPhrase,
		ImageCount:    len(frames),
		FilterQuality: filterQuality,
		Frames:        frameMetadata(frames),
	}
	if len(assessments) > 0 {
		metadata.QualityStats = aggregateStats(assessments, len(frames))
	}

	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(datasetDir, "metadata.json"), metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	b.logger.Info("dataset assembled",
		zap.String("dataset", name),
		zap.Int("images", len(frames)),
		zap.String("trigger", triggerPhrase),
	)

	return &entity.TrainingDataset{
		Dir:           datasetDir,
		ImagesDir:     imagesDir,
		CaptionsDir:   captionsDir,
		ImageCount:    len(frames),
		TriggerPhrase: triggerPhrase,
		Metadata:      metadata,
	}, nil
}

// CaptionFor returns the caption for a frame's 1-based source position,
// cycling through the template set by position modulo its size.
func CaptionFor(triggerPhrase string, position int) string {
	tmpl := captionTemplates[position%len(captionTemplates)]
	return fmt.Sprintf(tmpl, triggerPhrase)
}

// TemplateCount reports the size of the caption template set.
func TemplateCount() int {
	return len(captionTemplates)
}

func frameMetadata(frames []entity.Frame) []entity.FrameMetadata {
	out := make([]entity.FrameMetadata, len(frames))
	for i, f := range frames {
		out[i] = entity.FrameMetadata{
			SceneNumber: f.SceneNumber,
			Timestamp:   f.Midpoint,
			Duration:    f.Duration,
			Resolution:  fmt.Sprintf("%dx%d", f.Width, f.Height),
		}
	}
	return out
}

func aggregateStats(assessments []entity.QualityAssessment, accepted int) *entity.QualityStats {
	var confSum, sharpSum float64
	for _, q := range assessments {
		confSum += q.FaceConfidence
		sharpSum += q.Sharpness
	}
	n := float64(len(assessments))
	return &entity.QualityStats{
		TotalAssessed:     len(assessments),
		Accepted:          accepted,
		Rejected:          len(assessments) - accepted,
		AvgFaceConfidence: confSum / n,
		AvgSharpness:      sharpSum / n,
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
