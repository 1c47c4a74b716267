package vision

import (
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecDetector invokes an external face-detection tool. The tool is expected
// to print one detection per line as "x y w h" (the facedetect CLI contract)
// and exit non-zero only on hard failures, not on zero detections.
type ExecDetector struct {
	command string
	timeout time.Duration
}

func NewExecDetector(command string, timeout time.Duration) *ExecDetector {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ExecDetector{command: command, timeout: timeout}
}

func (d *ExecDetector) Detect(ctx context.Context, imagePath string) ([]image.Rectangle, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.command, imagePath)
	output, err := cmd.Output()
	if err != nil {
		// Some detector builds exit 1 when nothing is found but still print
		// nothing; treat a clean empty output as zero faces.
		if ee, ok := err.(*exec.ExitError); ok && len(output) == 0 && len(ee.Stderr) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("face detector %s: %w", d.command, err)
	}

	return ParseDetections(string(output))
}

// ParseDetections parses "x y w h" lines into rectangles. Malformed lines
// are an error; the detector contract is strict.
func ParseDetections(output string) ([]image.Rectangle, error) {
	var faces []image.Rectangle
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed detection line: %q", line)
		}

		vals := make([]int, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.Atoi(fields[i])
			if err != nil {
				return nil, fmt.Errorf("malformed detection line: %q", line)
			}
			vals[i] = v
		}
		faces = append(faces, image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3]))
	}
	return faces, nil
}
