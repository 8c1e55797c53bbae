package media

import (
	"context"
	"fmt"
	"log"
	"math"
)

// AudioSynchronizer merges a silent scene clip with its narration. The
// narration is the master track: the video is looped out to cover it and
// the result is trimmed to the narration's exact duration.
type AudioSynchronizer struct {
	gateway *Gateway
}

// NewAudioSynchronizer wires a synchronizer over the shared gateway.
func NewAudioSynchronizer(gateway *Gateway) *AudioSynchronizer {
	return &AudioSynchronizer{gateway: gateway}
}

// LoopCount returns how many playthroughs of the video are needed to cover
// the audio. Always at least 1.
func LoopCount(audioSec, videoSec float64) int {
	if videoSec <= 0 {
		return 1
	}
	loops := int(math.Ceil(audioSec / videoSec))
	if loops < 1 {
		loops = 1
	}
	return loops
}

// Merge produces a scene video whose length equals the narration length.
// A video shorter than the narration loops; a longer one is cut off at the
// narration's end.
func (s *AudioSynchronizer) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	audioSec, err := s.gateway.ProbeDuration(ctx, audioPath)
	if err != nil {
		return err
	}
	videoSec, err := s.gateway.ProbeDuration(ctx, videoPath)
	if err != nil {
		return err
	}

	loops := LoopCount(audioSec, videoSec)
	log.Printf("[Merge] audio %.2fs, video %.2fs, %d loop(s)", audioSec, videoSec, loops)

	// -stream_loop counts extra repeats on top of the implicit first
	// playthrough, hence loops-1.
	args := []string{
		"-stream_loop", fmt.Sprintf("%d", loops-1),
		"-i", videoPath,
		"-i", audioPath,
		"-t", fmt.Sprintf("%.3f", audioSec),
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-shortest",
		"-y",
		outputPath,
	}

	if err := s.gateway.run(ctx, args); err != nil {
		return fmt.Errorf("audio merge failed for %s: %w", videoPath, err)
	}
	return nil
}
