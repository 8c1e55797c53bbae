package worker

import (
	"context"
	"log"
	"os"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/services"
)

// ImageWorker renders still images for every scene in a storyboard. Each
// scene gets a fixed number of variants at deterministic seeds so re-runs
// reproduce the same frames.
type ImageWorker struct {
	generator services.ImageGenerator
	store     *assets.Store
	variants  int
	baseSeed  int
	size      int

	// Force re-renders scenes even when their variants already exist.
	Force bool
}

// NewImageWorker wires an image worker. variants below 1 becomes 1.
func NewImageWorker(generator services.ImageGenerator, store *assets.Store, variants, baseSeed, size int) *ImageWorker {
	if variants < 1 {
		variants = 1
	}
	return &ImageWorker{
		generator: generator,
		store:     store,
		variants:  variants,
		baseSeed:  baseSeed,
		size:      size,
	}
}

// Run generates images for all scenes. Scenes whose variants already exist
// are skipped; one failing scene never stops the rest.
func (w *ImageWorker) Run(ctx context.Context, board *models.Storyboard) Stats {
	stats := Stats{Total: board.SceneCount()}

	for _, scene := range board.Scenes {
		select {
		case <-ctx.Done():
			stats.Failed += stats.Total - stats.Successful - stats.Skipped - stats.Failed
			return stats
		default:
		}

		done := 0
		for v := 0; v < w.variants; v++ {
			if assets.Exists(w.store.ImagePath(scene.SceneID, v)) {
				done++
			}
		}
		if !w.Force && done == w.variants {
			log.Printf("[Images] scene %d already has %d variant(s), skipping", scene.SceneID, done)
			stats.Skipped++
			continue
		}

		if err := w.renderScene(ctx, scene); err != nil {
			log.Printf("[Images] scene %d failed: %v", scene.SceneID, err)
			stats.Failed++
			continue
		}
		stats.Successful++
	}

	log.Printf("[Images] done: %s", stats.String())
	return stats
}

func (w *ImageWorker) renderScene(ctx context.Context, scene models.Scene) error {
	prompt := scene.ComposedPrompt()

	for v := 0; v < w.variants; v++ {
		path := w.store.ImagePath(scene.SceneID, v)
		if !w.Force && assets.Exists(path) {
			continue
		}

		// Variant seeds stay stable per scene across runs.
		seed := w.baseSeed + scene.SceneID*100 + v
		data, err := w.generator.GenerateImage(ctx, prompt, seed, w.size)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.Printf("[Images] scene %d variant %d written (%d bytes, seed %d)", scene.SceneID, v, len(data), seed)
	}
	return nil
}
