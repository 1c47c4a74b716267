package vision

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// FaceDetector locates faces in an image. The production implementation
// shells out to an OS-level detector tool; face recognition itself is an
// external capability, not implemented here.
type FaceDetector interface {
	Detect(ctx context.Context, imagePath string) ([]image.Rectangle, error)
}

type AssessorConfig struct {
	MinFaceConfidence float64
	MinSharpness      float64
}

// Assessor scores single images for face presence and sharpness and yields
// an accept/reject verdict against the configured thresholds.
type Assessor struct {
	detector FaceDetector
	cfg      AssessorConfig
	logger   *zap.Logger
}

func NewAssessor(detector FaceDetector, cfg AssessorConfig, logger *zap.Logger) *Assessor {
	return &Assessor{detector: detector, cfg: cfg, logger: logger}
}

// Assess returns nil (with no error) when the image cannot be decoded or
// the detector cannot run; such frames are skipped by callers.
func (a *Assessor) Assess(ctx context.Context, imagePath string) (*entity.QualityAssessment, error) {
	img, err := decodeImage(imagePath)
	if err != nil {
		a.logger.Warn("could not decode image", zap.String("path", imagePath), zap.Error(err))
		return nil, nil
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	faces, err := a.detector.Detect(ctx, imagePath)
	if err != nil {
		a.logger.Warn("face detection failed", zap.String("path", imagePath), zap.Error(err))
		return nil, nil
	}

	confidence := FaceConfidence(faces, width, height)
	sharpness := LaplacianVariance(img)
	hasFace := len(faces) > 0

	acceptable := hasFace &&
		confidence >= a.cfg.MinFaceConfidence &&
		sharpness >= a.cfg.MinSharpness

	return &entity.QualityAssessment{
		HasFace:        hasFace,
		FaceCount:      len(faces),
		FaceConfidence: confidence,
		Sharpness:      sharpness,
		Acceptable:     acceptable,
		Width:          width,
		Height:         height,
	}, nil
}

// FilterFrames assesses every frame and keeps the acceptable ones in input
// order. Assessments are returned for all assessable frames, rejected ones
// included, for dataset statistics.
func (a *Assessor) FilterFrames(ctx context.Context, frames []entity.Frame) ([]entity.Frame, []entity.QualityAssessment, error) {
	accepted := make([]entity.Frame, 0, len(frames))
	assessments := make([]entity.QualityAssessment, 0, len(frames))

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		quality, err := a.Assess(ctx, frame.FilePath)
		if err != nil {
			return nil, nil, err
		}
		if quality == nil {
			continue
		}

		assessments = append(assessments, *quality)
		if quality.Acceptable {
			accepted = append(accepted, frame)
			a.logger.Debug("frame accepted",
				zap.Int("scene", frame.SceneNumber),
				zap.Int("faces", quality.FaceCount),
				zap.Float64("confidence", quality.FaceConfidence),
				zap.Float64("sharpness", quality.Sharpness),
			)
		} else {
			a.logger.Debug("frame rejected",
				zap.Int("scene", frame.SceneNumber),
				zap.Bool("has_face", quality.HasFace),
				zap.Float64("confidence", quality.FaceConfidence),
				zap.Float64("sharpness", quality.Sharpness),
			)
		}
	}

	a.logger.Info("quality filter applied",
		zap.Int("input", len(frames)),
		zap.Int("accepted", len(accepted)),
	)
	return accepted, assessments, nil
}

// FaceConfidence derives a 0-1 confidence from the largest detected face
// relative to the image area. A face covering 10% or more of the image maps
// to 1.0; no faces map to 0.
func FaceConfidence(faces []image.Rectangle, width, height int) float64 {
	if len(faces) == 0 || width <= 0 || height <= 0 {
		return 0
	}

	maxArea := 0
	for _, f := range faces {
		area := f.Dx() * f.Dy()
		if area > maxArea {
			maxArea = area
		}
	}

	confidence := float64(maxArea) / float64(width*height) * 10
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// LaplacianVariance measures sharpness as the variance of the 3x3 Laplacian
// response over the grayscale image. Higher means sharper.
func LaplacianVariance(img image.Image) float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 0-255.
			gray[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
		}
	}

	n := 0
	sum := 0.0
	sumSq := 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := gray[(y-1)*w+x] + gray[(y+1)*w+x] +
				gray[y*w+x-1] + gray[y*w+x+1] -
				4*gray[y*w+x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}
