package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// acceptFirstN accepts the first n frames and rejects the rest, emitting an
// assessment for every input.
type acceptFirstN struct {
	n int
}

func (a *acceptFirstN) Assess(context.Context, string) (*entity.QualityAssessment, error) {
	return nil, nil
}

func (a *acceptFirstN) FilterFrames(_ context.Context, frames []entity.Frame) ([]entity.Frame, []entity.QualityAssessment, error) {
	var accepted []entity.Frame
	assessments := make([]entity.QualityAssessment, 0, len(frames))
	for i, f := range frames {
		ok := i < a.n
		assessments = append(assessments, entity.QualityAssessment{
			HasFace:        ok,
			FaceConfidence: 0.9,
			Sharpness:      150,
			Acceptable:     ok,
		})
		if ok {
			accepted = append(accepted, f)
		}
	}
	return accepted, assessments, nil
}

func makeFrames(t *testing.T, n int) []entity.Frame {
	t.Helper()
	dir := t.TempDir()
	frames := make([]entity.Frame, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i+1))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("image-%d", i+1)), 0644))
		frames[i] = entity.Frame{
			SceneNumber:    i + 1,
			FilePath:       path,
			TimestampStart: float64(i),
			TimestampEnd:   float64(i + 1),
			Duration:       1,
			Midpoint:       float64(i) + 0.5,
			Width:          320,
			Height:         240,
		}
	}
	return frames
}

func TestBuildAllAccepted(t *testing.T) {
	frames := makeFrames(t, 20)
	b := NewBuilder(&acceptFirstN{n: 20}, BuilderConfig{
		OutputDir: t.TempDir(),
		MinFrames: 10,
		MaxFrames: 50,
	}, zap.NewNop())

	ds, err := b.Build(context.Background(), frames, "testset", "zxc person", true)
	require.NoError(t, err)
	assert.Equal(t, 20, ds.ImageCount)

	// Bundle layout: zero-padded 1-based images with matching captions.
	for i := 1; i <= 20; i++ {
		imgPath := filepath.Join(ds.ImagesDir, fmt.Sprintf("%04d.jpg", i))
		content, err := os.ReadFile(imgPath)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("image-%d", i), string(content), "original order must be preserved")

		caption, err := os.ReadFile(filepath.Join(ds.CaptionsDir, fmt.Sprintf("%04d.txt", i)))
		require.NoError(t, err)
		assert.Equal(t, CaptionFor("zxc person", i), string(caption))
	}

	// Captions cycle through the full template set.
	seen := map[string]bool{}
	for i := 1; i <= TemplateCount(); i++ {
		seen[CaptionFor("zxc person", i)] = true
	}
	assert.Len(t, seen, TemplateCount())

	var meta entity.DatasetMetadata
	raw, err := os.ReadFile(filepath.Join(ds.Dir, "metadata.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "testset", meta.DatasetName)
	assert.Equal(t, 20, meta.ImageCount)
	require.NotNil(t, meta.QualityStats)
	assert.Equal(t, 20, meta.QualityStats.Accepted)
	assert.Equal(t, 0, meta.QualityStats.Rejected)
	require.Len(t, meta.Frames, 20)
	assert.Equal(t, 1, meta.Frames[0].SceneNumber)
	assert.Equal(t, "320x240", meta.Frames[0].Resolution)
}

func TestBuildInsufficientFrames(t *testing.T) {
	frames := makeFrames(t, 20)
	b := NewBuilder(&acceptFirstN{n: 5}, BuilderConfig{
		OutputDir: t.TempDir(),
		MinFrames: 15,
		MaxFrames: 50,
	}, zap.NewNop())

	_, err := b.Build(context.Background(), frames, "short", "person", true)
	require.Error(t, err)

	var buildErr *BuildError
	assert.ErrorAs(t, err, &buildErr)
	assert.Contains(t, err.Error(), "5 < 15")
}

func TestBuildFrontTruncatesToMax(t *testing.T) {
	frames := makeFrames(t, 30)
	b := NewBuilder(&acceptFirstN{n: 30}, BuilderConfig{
		OutputDir: t.TempDir(),
		MinFrames: 10,
		MaxFrames: 12,
	}, zap.NewNop())

	ds, err := b.Build(context.Background(), frames, "truncated", "person", true)
	require.NoError(t, err)
	assert.Equal(t, 12, ds.ImageCount)

	// Front-biased: the first 12 source frames survive.
	content, err := os.ReadFile(filepath.Join(ds.ImagesDir, "0012.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image-12", string(content))
	_, err = os.Stat(filepath.Join(ds.ImagesDir, "0013.jpg"))
	assert.True(t, os.IsNotExist(err))
}

// acceptOddScenes keeps only odd-numbered scenes, leaving gaps in the
// surviving sequence.
type acceptOddScenes struct{}

func (acceptOddScenes) Assess(context.Context, string) (*entity.QualityAssessment, error) {
	return nil, nil
}

func (acceptOddScenes) FilterFrames(_ context.Context, frames []entity.Frame) ([]entity.Frame, []entity.QualityAssessment, error) {
	var accepted []entity.Frame
	assessments := make([]entity.QualityAssessment, 0, len(frames))
	for _, f := range frames {
		ok := f.SceneNumber%2 == 1
		assessments = append(assessments, entity.QualityAssessment{Acceptable: ok, HasFace: ok})
		if ok {
			accepted = append(accepted, f)
		}
	}
	return accepted, assessments, nil
}

func TestBuildCaptionsKeyedBySceneNumber(t *testing.T) {
	frames := makeFrames(t, 20)
	b := NewBuilder(acceptOddScenes{}, BuilderConfig{
		OutputDir: t.TempDir(),
		MinFrames: 5,
		MaxFrames: 50,
	}, zap.NewNop())

	ds, err := b.Build(context.Background(), frames, "gappy", "zxc person", true)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.ImageCount)

	// A frame keeps the caption of its source scene even when filtering
	// drops its neighbours: output position i holds scene 2i-1.
	for i := 1; i <= 10; i++ {
		caption, err := os.ReadFile(filepath.Join(ds.CaptionsDir, fmt.Sprintf("%04d.txt", i)))
		require.NoError(t, err)
		assert.Equal(t, CaptionFor("zxc person", 2*i-1), string(caption))
	}
}

func TestBuildWithoutFilterSkipsStats(t *testing.T) {
	frames := makeFrames(t, 12)
	b := NewBuilder(&acceptFirstN{n: 0}, BuilderConfig{
		OutputDir: t.TempDir(),
		MinFrames: 10,
		MaxFrames: 50,
	}, zap.NewNop())

	ds, err := b.Build(context.Background(), frames, "unfiltered", "person", false)
	require.NoError(t, err)
	assert.Equal(t, 12, ds.ImageCount)
	assert.Nil(t, ds.Metadata.QualityStats)
}

func TestCaptionForIsDeterministic(t *testing.T) {
	for i := 1; i <= 20; i++ {
		assert.Equal(t, CaptionFor("person", i), CaptionFor("person", i))
		assert.Contains(t, CaptionFor("person", i), "person")
	}
	// Position cycles modulo the template set size.
	assert.Equal(t, CaptionFor("person", 1), CaptionFor("person", 1+TemplateCount()))
}
