package worker

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/gpu"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/pipeline"
	"github.com/omnicomni/storyreel/internal/services"
)

// StillAnimator renders a still image into a silent clip. The fallback path
// for scenes where a video backend is unavailable.
type StillAnimator interface {
	AnimateImage(ctx context.Context, imagePath, outputPath string, durationSec float64, fps int) error
}

// VideoWorker animates each scene's primary image into a silent clip. When
// the video backend is unavailable or out of memory the worker degrades to
// an ffmpeg push-in on the still image instead of failing the scene.
type VideoWorker struct {
	generator  services.VideoGenerator
	animator   StillAnimator
	store      *assets.Store
	memory     *gpu.Manager
	baseSeed   int
	requiredGB float64
	motion     int
	frameCount int
	fps        int

	// Force re-renders clips even when they already exist.
	Force bool
}

// NewVideoWorker wires a video worker. generator may be nil, forcing the
// still-image fallback for every scene.
func NewVideoWorker(generator services.VideoGenerator, animator StillAnimator, store *assets.Store, memory *gpu.Manager, baseSeed int, requiredGB float64, motion, frameCount, fps int) *VideoWorker {
	return &VideoWorker{
		generator:  generator,
		animator:   animator,
		store:      store,
		memory:     memory,
		baseSeed:   baseSeed,
		requiredGB: requiredGB,
		motion:     motion,
		frameCount: frameCount,
		fps:        fps,
	}
}

// Run produces a silent clip per scene. Existing clips are skipped and a
// failing scene does not stop the rest.
func (w *VideoWorker) Run(ctx context.Context, board *models.Storyboard) Stats {
	stats := Stats{Total: board.SceneCount()}

	images, err := w.store.GroupImagesByScene()
	if err != nil {
		log.Printf("[Videos] cannot list scene images: %v", err)
		stats.Failed = stats.Total
		return stats
	}

	for _, scene := range board.Scenes {
		select {
		case <-ctx.Done():
			stats.Failed += stats.Total - stats.Successful - stats.Skipped - stats.Failed
			return stats
		default:
		}

		clipPath := w.store.ClipPath(scene.SceneID)
		if !w.Force && assets.Exists(clipPath) {
			log.Printf("[Videos] scene %d clip exists, skipping", scene.SceneID)
			stats.Skipped++
			continue
		}

		variants := images[scene.SceneID]
		if len(variants) == 0 {
			log.Printf("[Videos] scene %d has no image, run the images stage first", scene.SceneID)
			stats.Failed++
			continue
		}

		if err := w.renderScene(ctx, scene, variants[0], clipPath); err != nil {
			log.Printf("[Videos] scene %d failed: %v", scene.SceneID, err)
			stats.Failed++
			continue
		}
		stats.Successful++
	}

	log.Printf("[Videos] done: %s", stats.String())
	return stats
}

func (w *VideoWorker) renderScene(ctx context.Context, scene models.Scene, imagePath, clipPath string) error {
	if w.generator != nil {
		if err := w.memory.CheckAvailability(ctx, "video generation", w.requiredGB); err != nil {
			var oom *pipeline.OutOfMemoryError
			if errors.As(err, &oom) {
				log.Printf("[Videos] scene %d: %v, falling back to still animation", scene.SceneID, err)
				return w.animator.AnimateImage(ctx, imagePath, clipPath, float64(scene.Duration), w.fps)
			}
			return err
		}

		imageData, err := os.ReadFile(imagePath)
		if err != nil {
			return err
		}

		data, err := w.generator.GenerateVideo(ctx, services.VideoRequest{
			Prompt:        scene.ComposedPrompt(),
			ImageData:     imageData,
			ImageMIMEType: mimeTypeFor(imagePath),
			Seed:          w.baseSeed + scene.SceneID,
			Motion:        w.motion,
			FrameCount:    w.frameCount,
			FPS:           w.fps,
		})
		if err != nil {
			log.Printf("[Videos] scene %d: generation failed (%v), falling back to still animation", scene.SceneID, err)
			return w.animator.AnimateImage(ctx, imagePath, clipPath, float64(scene.Duration), w.fps)
		}
		return os.WriteFile(clipPath, data, 0644)
	}

	return w.animator.AnimateImage(ctx, imagePath, clipPath, float64(scene.Duration), w.fps)
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
