package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/services"
)

// AudioWorker synthesizes narration for every scene. A short delay between
// requests keeps the TTS backend from rate-limiting the run.
type AudioWorker struct {
	narrator services.Narrator
	store    *assets.Store
	voice    string
	delay    time.Duration

	// Force re-synthesizes narration even when it already exists.
	Force bool
}

// NewAudioWorker wires an audio worker.
func NewAudioWorker(narrator services.Narrator, store *assets.Store, voice string) *AudioWorker {
	return &AudioWorker{
		narrator: narrator,
		store:    store,
		voice:    voice,
		delay:    500 * time.Millisecond,
	}
}

// Run synthesizes narration for all scenes, skipping ones already on disk.
func (w *AudioWorker) Run(ctx context.Context, board *models.Storyboard) Stats {
	stats := Stats{Total: board.SceneCount()}

	for i, scene := range board.Scenes {
		select {
		case <-ctx.Done():
			stats.Failed += stats.Total - stats.Successful - stats.Skipped - stats.Failed
			return stats
		default:
		}

		path := w.store.AudioPath(scene.SceneID)
		if !w.Force && assets.Exists(path) {
			log.Printf("[Audio] scene %d narration exists, skipping", scene.SceneID)
			stats.Skipped++
			continue
		}

		if i > 0 && w.delay > 0 {
			select {
			case <-ctx.Done():
				stats.Failed++
				continue
			case <-time.After(w.delay):
			}
		}

		data, err := w.narrator.Synthesize(ctx, scene.AudioText, w.voice)
		if err != nil {
			log.Printf("[Audio] scene %d failed: %v", scene.SceneID, err)
			stats.Failed++
			continue
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			log.Printf("[Audio] scene %d write failed: %v", scene.SceneID, err)
			stats.Failed++
			continue
		}
		stats.Successful++
	}

	log.Printf("[Audio] done: %s", stats.String())
	return stats
}
