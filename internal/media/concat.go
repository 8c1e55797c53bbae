package media

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

// SceneConcatenator joins the finished scene videos into one final film
// with fades at both ends.
type SceneConcatenator struct {
	gateway     *Gateway
	fadeSeconds float64
}

// NewSceneConcatenator wires a concatenator over the shared gateway.
func NewSceneConcatenator(gateway *Gateway, fadeSeconds float64) *SceneConcatenator {
	if fadeSeconds <= 0 {
		fadeSeconds = 1.0
	}
	return &SceneConcatenator{gateway: gateway, fadeSeconds: fadeSeconds}
}

// Concat joins scenePaths in the given order into outputPath. Every input
// must carry an audio stream; a preflight check reports ALL offenders at
// once so one fix-and-retry cycle covers everything.
func (c *SceneConcatenator) Concat(ctx context.Context, scenePaths []string, outputPath string) error {
	if len(scenePaths) == 0 {
		return fmt.Errorf("no scene videos to concatenate")
	}

	var silent []string
	var totalSec float64
	for _, path := range scenePaths {
		hasAudio, err := c.gateway.HasAudioStream(ctx, path)
		if err != nil {
			return err
		}
		if !hasAudio {
			silent = append(silent, path)
			continue
		}
		dur, err := c.gateway.ProbeDuration(ctx, path)
		if err != nil {
			return err
		}
		totalSec += dur
	}
	if len(silent) > 0 {
		return &pipeline.PrerequisiteError{
			Missing: fmt.Sprintf("scene videos without audio: %s", strings.Join(silent, ", ")),
			RunCmd:  "storyreel merge",
		}
	}

	log.Printf("[Concat] joining %d scenes, %.2fs total, %.1fs fades", len(scenePaths), totalSec, c.fadeSeconds)

	args := make([]string, 0, 2*len(scenePaths)+12)
	for _, path := range scenePaths {
		args = append(args, "-i", path)
	}
	args = append(args,
		"-filter_complex", buildConcatFilter(len(scenePaths), totalSec, c.fadeSeconds),
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)

	if err := c.gateway.run(ctx, args); err != nil {
		return fmt.Errorf("scene concatenation failed: %w", err)
	}
	return nil
}

// buildConcatFilter joins n video/audio stream pairs, then fades in at the
// head and fades out ending exactly at the summed duration. A total shorter
// than the fade clamps the fade-out start at zero.
func buildConcatFilter(n int, totalSec, fadeSeconds float64) string {
	fadeOutStart := totalSec - fadeSeconds
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}

	var filter strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&filter, "[%d:v][%d:a]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[cv][ca];", n)
	fmt.Fprintf(&filter, "[cv]fade=t=in:st=0:d=%.2f,fade=t=out:st=%.2f:d=%.2f[v];",
		fadeSeconds, fadeOutStart, fadeSeconds)
	fmt.Fprintf(&filter, "[ca]afade=t=in:st=0:d=%.2f,afade=t=out:st=%.2f:d=%.2f[a]",
		fadeSeconds, fadeOutStart, fadeSeconds)
	return filter.String()
}
