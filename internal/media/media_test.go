package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

func TestLoopCount(t *testing.T) {
	tests := []struct {
		name     string
		audioSec float64
		videoSec float64
		want     int
	}{
		{"audio shorter than video", 2.0, 3.5, 1},
		{"exact fit", 7.0, 3.5, 2},
		{"fractional overshoot", 8.2, 3.5, 3},
		{"long narration", 30.0, 4.0, 8},
		{"zero-length video", 5.0, 0, 1},
		{"zero-length audio", 0, 3.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoopCount(tt.audioSec, tt.videoSec); got != tt.want {
				t.Errorf("LoopCount(%.1f, %.1f) = %d, want %d", tt.audioSec, tt.videoSec, got, tt.want)
			}
		})
	}
}

// Looped video must always cover the audio with at most one extra
// playthrough of slack.
func TestLoopCountCoversAudio(t *testing.T) {
	durations := []struct{ audio, video float64 }{
		{8.2, 3.5}, {10.0, 10.0}, {10.1, 10.0}, {0.5, 6.0}, {59.9, 4.1},
	}
	for _, d := range durations {
		loops := LoopCount(d.audio, d.video)
		covered := float64(loops) * d.video
		if covered < d.audio {
			t.Errorf("audio %.1fs video %.1fs: %d loops cover only %.1fs", d.audio, d.video, loops, covered)
		}
		if loops > 1 && float64(loops-1)*d.video >= d.audio {
			t.Errorf("audio %.1fs video %.1fs: %d loops is one too many", d.audio, d.video, loops)
		}
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		got := parseFrameRate(tt.in)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewGatewayMissingBinaries(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := NewGateway()
	if err == nil {
		t.Fatal("expected error with no ffmpeg on PATH")
	}
	var cfgErr *pipeline.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

// newTestGateway skips the test when ffmpeg is not installed.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	g, err := NewGateway()
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	return g
}

func TestMergeOutputDurationMatchesAudio(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	dir := t.TempDir()

	video := filepath.Join(dir, "clip.mp4")
	if err := g.GenerateTestClip(ctx, video, 2.0, false); err != nil {
		t.Fatalf("GenerateTestClip failed: %v", err)
	}
	source := filepath.Join(dir, "narrated.mp4")
	if err := g.GenerateTestClip(ctx, source, 5.0, true); err != nil {
		t.Fatalf("GenerateTestClip failed: %v", err)
	}
	audio := filepath.Join(dir, "narration.mp3")
	if err := g.ExtractAudio(ctx, source, audio); err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}

	out := filepath.Join(dir, "merged.mp4")
	if err := NewAudioSynchronizer(g).Merge(ctx, video, audio, out); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	audioSec, err := g.ProbeDuration(ctx, audio)
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}
	meta, err := g.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if diff := meta.DurationSec - audioSec; diff > 0.35 || diff < -0.35 {
		t.Errorf("merged duration %.2fs, want narration duration %.2fs", meta.DurationSec, audioSec)
	}
	if !meta.HasAudio {
		t.Error("merged output has no audio stream")
	}
}

func TestConcatDurationSumsInputs(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	dir := t.TempDir()

	var clips []string
	for i := 0; i < 2; i++ {
		clip := filepath.Join(dir, fmt.Sprintf("scene_%02d_final.mp4", i+1))
		if err := g.GenerateTestClip(ctx, clip, 2.0, true); err != nil {
			t.Fatalf("GenerateTestClip failed: %v", err)
		}
		clips = append(clips, clip)
	}

	out := filepath.Join(dir, "final.mp4")
	if err := NewSceneConcatenator(g, 1.0).Concat(ctx, clips, out); err != nil {
		t.Fatalf("Concat failed: %v", err)
	}

	meta, err := g.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if diff := meta.DurationSec - 4.0; diff > 0.35 || diff < -0.35 {
		t.Errorf("concat duration %.2fs, want sum of inputs 4.0s", meta.DurationSec)
	}
	if !meta.HasAudio {
		t.Error("concat output has no audio stream")
	}
	if meta.Codec != "h264" {
		t.Errorf("concat codec %q, want h264", meta.Codec)
	}
}

func TestConcatRejectsSilentInputs(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	dir := t.TempDir()

	silent := filepath.Join(dir, "scene_01_final.mp4")
	if err := g.GenerateTestClip(ctx, silent, 1.0, false); err != nil {
		t.Fatalf("GenerateTestClip failed: %v", err)
	}

	err := NewSceneConcatenator(g, 1.0).Concat(ctx, []string{silent}, filepath.Join(dir, "final.mp4"))
	var prereq *pipeline.PrerequisiteError
	if !errors.As(err, &prereq) {
		t.Fatalf("expected PrerequisiteError for silent input, got %v", err)
	}
	if !strings.Contains(prereq.Missing, silent) {
		t.Errorf("error does not name the silent clip: %s", prereq.Missing)
	}
}

func TestRunFailureCarriesStderr(t *testing.T) {
	g := newTestGateway(t)

	err := g.run(context.Background(), []string{"-nonexistent_flag_xyz"})
	if err == nil {
		t.Fatal("expected error from bad ffmpeg invocation")
	}
	if !strings.Contains(err.Error(), "nonexistent_flag_xyz") {
		t.Errorf("error does not carry ffmpeg's stderr: %v", err)
	}
}

func TestLastLines(t *testing.T) {
	in := "one\n\ntwo\nthree\nfour\n"
	if got := lastLines(in, 2); got != "three | four" {
		t.Errorf("lastLines = %q, want %q", got, "three | four")
	}
	if got := lastLines(in, 10); got != "one | two | three | four" {
		t.Errorf("lastLines = %q, want all lines", got)
	}
	if got := lastLines("", 3); got != "" {
		t.Errorf("lastLines on empty input = %q", got)
	}
}

func TestBuildConcatFilterClampsShortFadeOut(t *testing.T) {
	filter := buildConcatFilter(1, 0.5, 1.0)
	if strings.Contains(filter, "st=-") {
		t.Errorf("fade-out start went negative: %s", filter)
	}
	if !strings.Contains(filter, "fade=t=out:st=0.00") {
		t.Errorf("fade-out start not clamped at zero: %s", filter)
	}

	filter = buildConcatFilter(2, 10.0, 1.0)
	if !strings.Contains(filter, "concat=n=2:v=1:a=1") {
		t.Errorf("missing concat segment: %s", filter)
	}
	if !strings.Contains(filter, "fade=t=out:st=9.00") {
		t.Errorf("fade-out must end at the summed duration: %s", filter)
	}
}
