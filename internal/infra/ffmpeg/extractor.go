package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

const (
	ModeScene    = "scene"
	ModeInterval = "interval"
)

// fallbackDuration is used when ffprobe cannot report a duration.
const fallbackDuration = 30.0

// VideoProcessingError marks a fatal failure in the extraction stage:
// unreadable or corrupt video, probe failure, or zero extractable frames.
type VideoProcessingError struct {
	Stage string
	Err   error
}

func (e *VideoProcessingError) Error() string {
	return fmt.Sprintf("video processing failed at %s: %v", e.Stage, e.Err)
}

func (e *VideoProcessingError) Unwrap() error { return e.Err }

// Segment is one (start, end) window of the video timeline.
type Segment struct {
	Start float64
	End   float64
}

type ExtractorConfig struct {
	Mode            string
	SceneThreshold  float64
	IntervalSeconds float64
	FrameQuality    int
	DetectTimeout   time.Duration
	FrameTimeout    time.Duration
}

type Extractor struct {
	cfg    ExtractorConfig
	logger *zap.Logger
}

func NewExtractor(cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.DetectTimeout == 0 {
		cfg.DetectTimeout = 2 * time.Minute
	}
	if cfg.FrameTimeout == 0 {
		cfg.FrameTimeout = 30 * time.Second
	}
	if cfg.FrameQuality == 0 {
		cfg.FrameQuality = 2
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract partitions the video into segments (scene cuts or fixed intervals)
// and samples one frame at each segment midpoint. A frame that fails to
// decode is skipped with a warning; zero extracted frames is fatal.
func (e *Extractor) Extract(ctx context.Context, videoPath, outputDir string) ([]entity.Frame, error) {
	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		e.logger.Warn("could not probe video duration, using fallback",
			zap.Float64("fallback_seconds", fallbackDuration),
			zap.Error(err),
		)
		duration = fallbackDuration
	}

	var segments []Segment
	switch e.cfg.Mode {
	case ModeInterval:
		segments = BuildIntervals(duration, e.cfg.IntervalSeconds)
	default:
		cuts, err := e.detectSceneCuts(ctx, videoPath)
		if err != nil {
			return nil, &VideoProcessingError{Stage: "scene_detection", Err: err}
		}
		if len(cuts) == 0 {
			e.logger.Warn("no scene cuts detected, treating entire video as one segment")
		}
		segments = BuildSegments(cuts, duration)
	}

	e.logger.Info("video partitioned",
		zap.String("mode", e.cfg.Mode),
		zap.Int("segments", len(segments)),
		zap.Float64("duration_secs", duration),
	)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, &VideoProcessingError{Stage: "prepare_output", Err: err}
	}

	frames := make([]entity.Frame, 0, len(segments))
	for i, seg := range segments {
		sceneNumber := i + 1
		midpoint := (seg.Start + seg.End) / 2
		framePath := filepath.Join(outputDir, fmt.Sprintf("frame_%04d.jpg", sceneNumber))

		if err := e.extractSingleFrame(ctx, videoPath, midpoint, framePath); err != nil {
			e.logger.Warn("frame extraction failed, skipping segment",
				zap.Int("scene", sceneNumber),
				zap.Float64("midpoint", midpoint),
				zap.Error(err),
			)
			continue
		}

		width, height := e.probeDimensions(ctx, framePath)

		frames = append(frames, entity.Frame{
			SceneNumber:    sceneNumber,
			FilePath:       framePath,
			TimestampStart: seg.Start,
			TimestampEnd:   seg.End,
			Duration:       seg.End - seg.Start,
			Midpoint:       midpoint,
			Width:          width,
			Height:         height,
		})
	}

	if len(frames) == 0 {
		return nil, &VideoProcessingError{
			Stage: "frame_extraction",
			Err:   fmt.Errorf("no frames extracted from %d segments", len(segments)),
		}
	}

	e.logger.Info("frames extracted",
		zap.Int("extracted", len(frames)),
		zap.Int("segments", len(segments)),
	)
	return frames, nil
}

// BuildSegments turns cut timestamps into contiguous segments covering
// [0, duration] with no gaps or overlaps. Cuts outside (0, duration) are
// ignored.
func BuildSegments(cuts []float64, duration float64) []Segment {
	segments := make([]Segment, 0, len(cuts)+1)
	start := 0.0
	for _, cut := range cuts {
		if cut <= start || cut >= duration {
			continue
		}
		segments = append(segments, Segment{Start: start, End: cut})
		start = cut
	}
	segments = append(segments, Segment{Start: start, End: duration})
	return segments
}

// BuildIntervals partitions [0, duration] into fixed-length windows; the
// last window is clamped to the video end.
func BuildIntervals(duration, interval float64) []Segment {
	if interval <= 0 {
		return []Segment{{Start: 0, End: duration}}
	}
	var segments []Segment
	for current := 0.0; current < duration; {
		end := current + interval
		if end > duration {
			end = duration
		}
		segments = append(segments, Segment{Start: current, End: end})
		current = end
	}
	return segments
}

var showinfoPtsRe = regexp.MustCompile(`pts_time:([\d.]+)`)

// detectSceneCuts runs ffmpeg scene detection and parses cut timestamps from
// the showinfo filter output on stderr.
func (e *Extractor) detectSceneCuts(ctx context.Context, videoPath string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DetectTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-filter:v", fmt.Sprintf("select='gt(scene,%g)',showinfo", e.cfg.SceneThreshold),
		"-f", "null",
		"-",
	)

	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection: %w, output: %s", err, tail(stderr.String(), 512))
	}

	return ParseShowinfoTimes(stderr.String()), nil
}

// ParseShowinfoTimes extracts pts_time values from showinfo filter log lines.
func ParseShowinfoTimes(ffmpegStderr string) []float64 {
	var times []float64
	for _, line := range strings.Split(ffmpegStderr, "\n") {
		if !strings.Contains(line, "Parsed_showinfo") || !strings.Contains(line, "pts_time:") {
			continue
		}
		m := showinfoPtsRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	return times
}

func (e *Extractor) extractSingleFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", strconv.FormatFloat(timestamp, 'f', -1, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(e.cfg.FrameQuality),
		"-update", "1",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w, output: %s", err, tail(string(output), 256))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("frame file missing after extraction: %w", err)
	}
	return nil
}

func (e *Extractor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// probeDimensions returns (0, 0) when the probe fails; dimensions are
// metadata, not a gate.
func (e *Extractor) probeDimensions(ctx context.Context, framePath string) (int, int) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		framePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, 0
	}

	parts := strings.Split(strings.TrimSpace(string(output)), ",")
	if len(parts) != 2 {
		return 0, 0
	}
	width, err1 := strconv.Atoi(parts[0])
	height, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
