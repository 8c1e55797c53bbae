package worker

import (
	"context"
	"log"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/media"
	"github.com/omnicomni/storyreel/internal/models"
)

// MergeWorker pairs each scene's silent clip with its narration. The
// narration's length wins: clips loop or trim to match it exactly.
type MergeWorker struct {
	sync  *media.AudioSynchronizer
	store *assets.Store

	// Force re-merges scenes even when the output already exists.
	Force bool
}

// NewMergeWorker wires a merge worker over the shared synchronizer.
func NewMergeWorker(sync *media.AudioSynchronizer, store *assets.Store) *MergeWorker {
	return &MergeWorker{sync: sync, store: store}
}

// Run merges every scene that has both a clip and narration. Finished
// merges are skipped; a scene missing either input counts as failed.
func (w *MergeWorker) Run(ctx context.Context, board *models.Storyboard) Stats {
	stats := Stats{Total: board.SceneCount()}

	for _, scene := range board.Scenes {
		select {
		case <-ctx.Done():
			stats.Failed += stats.Total - stats.Successful - stats.Skipped - stats.Failed
			return stats
		default:
		}

		outPath := w.store.FinalScenePath(scene.SceneID)
		if !w.Force && assets.Exists(outPath) {
			log.Printf("[Merge] scene %d already merged, skipping", scene.SceneID)
			stats.Skipped++
			continue
		}

		clipPath := w.store.ClipSource(scene.SceneID)
		audioPath := w.store.AudioSource(scene.SceneID)
		if !assets.Exists(clipPath) {
			log.Printf("[Merge] scene %d has no clip, run the videos stage first", scene.SceneID)
			stats.Failed++
			continue
		}
		if !assets.Exists(audioPath) {
			log.Printf("[Merge] scene %d has no narration, run the audio stage first", scene.SceneID)
			stats.Failed++
			continue
		}

		if err := w.sync.Merge(ctx, clipPath, audioPath, outPath); err != nil {
			log.Printf("[Merge] scene %d failed: %v", scene.SceneID, err)
			stats.Failed++
			continue
		}
		stats.Successful++
	}

	log.Printf("[Merge] done: %s", stats.String())
	return stats
}
