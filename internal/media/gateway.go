package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

// Metadata describes a media file as reported by ffprobe.
type Metadata struct {
	DurationSec float64
	Width       int
	Height      int
	Codec       string
	FPS         float64
	HasAudio    bool
}

// Gateway runs ffmpeg and ffprobe as subprocesses. A weighted semaphore of
// one serializes the heavy encodes so concurrent stages never contend for
// the encoder.
type Gateway struct {
	ffmpeg  string
	ffprobe string
	sem     *semaphore.Weighted
}

// NewGateway resolves both binaries up front so a missing install fails the
// run before any model work is spent.
func NewGateway() (*Gateway, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, pipeline.NewConfigurationError("ffmpeg not found on PATH: install ffmpeg to assemble videos")
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, pipeline.NewConfigurationError("ffprobe not found on PATH: install ffmpeg to assemble videos")
	}
	return &Gateway{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		sem:     semaphore.NewWeighted(1),
	}, nil
}

// run executes ffmpeg with the given args, holding the encode slot.
func (g *Gateway) run(ctx context.Context, args []string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire encoder slot: %w", err)
	}
	defer g.sem.Release(1)

	cmd := exec.CommandContext(ctx, g.ffmpeg, args...)
	cmd.Stdout = os.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// ffmpeg reports everything on stderr; keep the tail so a
		// batch run's log names the actual failure.
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLines(stderr.String(), 8))
	}
	return nil
}

// lastLines returns the final n non-blank lines of s joined with " | ".
func lastLines(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// ProbeDuration returns the duration of a media file in seconds.
func (g *Gateway) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, g.ffprobe, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed for %s: %w", path, err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration for %s: %w", path, err)
	}
	return durationSec, nil
}

// HasAudioStream reports whether the file carries at least one audio stream.
func (g *Gateway) HasAudioStream(ctx context.Context, path string) (bool, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, g.ffprobe, args...)
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("ffprobe stream query failed for %s: %w", path, err)
	}
	return strings.Contains(string(output), "audio"), nil
}

// Probe reads duration, resolution, frame rate, and audio presence in one
// call.
func (g *Gateway) Probe(ctx context.Context, path string) (Metadata, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	}

	cmd := exec.CommandContext(ctx, g.ffprobe, args...)
	output, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var meta Metadata
	for _, line := range strings.Split(string(output), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "width":
			meta.Width, _ = strconv.Atoi(value)
		case "height":
			meta.Height, _ = strconv.Atoi(value)
		case "codec_name":
			meta.Codec = value
		case "duration":
			meta.DurationSec, _ = strconv.ParseFloat(value, 64)
		case "r_frame_rate":
			meta.FPS = parseFrameRate(value)
		}
	}

	meta.HasAudio, err = g.HasAudioStream(ctx, path)
	if err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// parseFrameRate handles ffprobe's fractional form ("30000/1001") as well
// as plain numbers.
func parseFrameRate(value string) float64 {
	num, den, found := strings.Cut(value, "/")
	if !found {
		f, _ := strconv.ParseFloat(value, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// ExtractAudio pulls the audio track out of a video into a standalone file.
func (g *Gateway) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-y",
		outputPath,
	}
	if err := g.run(ctx, args); err != nil {
		return fmt.Errorf("audio extraction failed for %s: %w", videoPath, err)
	}
	return nil
}

// GenerateTestClip writes a deterministic test-pattern video with a sine
// tone. Lets the merge and concat paths be exercised without any real
// generated media.
func (g *Gateway) GenerateTestClip(ctx context.Context, outputPath string, durationSec float64, withAudio bool) error {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=duration=%.3f:size=640x360:rate=30", durationSec),
	}
	if withAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("sine=frequency=440:duration=%.3f", durationSec),
			"-c:a", "aac",
			"-b:a", "128k",
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	)
	if err := g.run(ctx, args); err != nil {
		return fmt.Errorf("test clip generation failed: %w", err)
	}
	return nil
}

// AnimateImage turns a still image into a silent clip of the given duration
// with a slow push-in. Fallback path for scenes where video generation is
// unavailable.
func (g *Gateway) AnimateImage(ctx context.Context, imagePath, outputPath string, durationSec float64, fps int) error {
	if fps <= 0 {
		fps = 30
	}
	totalFrames := int(durationSec * float64(fps))
	if totalFrames < fps {
		totalFrames = fps
	}

	vf := fmt.Sprintf(
		"zoompan=z='1.0+0.2*on/%d':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:fps=%d,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		totalFrames, totalFrames, fps,
	)

	args := []string{
		"-i", imagePath,
		"-vf", vf,
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y",
		outputPath,
	}
	if err := g.run(ctx, args); err != nil {
		return fmt.Errorf("image animation failed for %s: %w", imagePath, err)
	}
	return nil
}
