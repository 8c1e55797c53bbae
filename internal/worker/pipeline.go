package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/gpu"
	"github.com/omnicomni/storyreel/internal/jobstore"
	"github.com/omnicomni/storyreel/internal/media"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/storyboard"
)

// Pipeline drives a full topic-to-video run: storyboard, images, videos,
// narration, merge, concat. Every stage checkpoints to disk, so re-running
// a topic resumes where the last run stopped.
type Pipeline struct {
	Storyboard *storyboard.Generator
	Images     *ImageWorker
	Videos     *VideoWorker
	Audio      *AudioWorker
	Merge      *MergeWorker
	Concat     *media.SceneConcatenator
	Memory     *gpu.Manager
	Store      *assets.Store
	Runs       jobstore.Store

	TextModel  string
	ImageModel string
	VideoModel string
	Voice      string
}

// Run executes every stage for one topic and writes the run manifest.
// A stage that produced nothing usable stops the run; partial failures
// inside a stage do not.
func (p *Pipeline) Run(ctx context.Context, topic string, sceneCount int, style string) (*models.Manifest, error) {
	manifest := &models.Manifest{
		RunID:      uuid.New().String(),
		Topic:      topic,
		TopicSlug:  models.SanitizeTopic(topic),
		StartedAt:  time.Now(),
		TextModel:  p.TextModel,
		ImageModel: p.ImageModel,
		VideoModel: p.VideoModel,
		Voice:      p.Voice,
		OutputDir:  p.Store.Root(),
	}

	record := &jobstore.Run{
		ID:        uuid.MustParse(manifest.RunID),
		Topic:     topic,
		Status:    jobstore.StatusRunning,
		StartedAt: manifest.StartedAt,
	}
	if err := p.Runs.Create(ctx, record); err != nil {
		log.Printf("[Pipeline] run record create failed: %v", err)
	}

	err := p.runStages(ctx, topic, sceneCount, style, manifest, record)

	manifest.FinishedAt = time.Now()
	manifest.TotalSeconds = manifest.FinishedAt.Sub(manifest.StartedAt).Seconds()
	if writeErr := p.writeManifest(manifest); writeErr != nil {
		log.Printf("[Pipeline] manifest write failed: %v", writeErr)
	}

	record.FinishedAt = manifest.FinishedAt
	if err != nil {
		record.Status = jobstore.StatusFailed
		record.Error = err.Error()
	} else {
		record.Status = jobstore.StatusCompleted
	}
	if updateErr := p.Runs.Update(ctx, record); updateErr != nil {
		log.Printf("[Pipeline] run record update failed: %v", updateErr)
	}

	if err != nil {
		return manifest, err
	}
	log.Printf("[Pipeline] run %s finished in %.1fs: %s", manifest.RunID, manifest.TotalSeconds, p.Store.CompletePath())
	return manifest, nil
}

func (p *Pipeline) runStages(ctx context.Context, topic string, sceneCount int, style string, manifest *models.Manifest, record *jobstore.Run) error {
	board, err := p.EnsureStoryboard(ctx, topic, sceneCount, style, manifest, record)
	if err != nil {
		return err
	}
	manifest.SceneCount = board.SceneCount()

	type stage struct {
		name string
		run  func(context.Context, *models.Storyboard) Stats
	}
	stages := []stage{
		{"images", p.Images.Run},
		{"videos", p.Videos.Run},
		{"audio", p.Audio.Run},
		{"merge", p.Merge.Run},
	}

	for _, st := range stages {
		record.Stage = st.name
		if err := p.Runs.Update(ctx, record); err != nil {
			log.Printf("[Pipeline] run record update failed: %v", err)
		}

		var stats Stats
		start := time.Now()
		err := p.Memory.Scoped(ctx, st.name, func(ctx context.Context) error {
			stats = st.run(ctx, board)
			return nil
		})
		manifest.Stages = append(manifest.Stages, models.StageTiming{
			Stage:          st.name,
			ElapsedSeconds: time.Since(start).Seconds(),
			Successful:     stats.Successful,
			Skipped:        stats.Skipped,
			Failed:         stats.Failed,
		})
		if err != nil {
			return fmt.Errorf("%s stage failed: %w", st.name, err)
		}
		if !stats.Produced() {
			return fmt.Errorf("%s stage produced no output (%s)", st.name, stats.String())
		}
	}

	return p.RunConcat(ctx, manifest, record)
}

// EnsureStoryboard loads an existing storyboard or generates and saves a
// new one.
func (p *Pipeline) EnsureStoryboard(ctx context.Context, topic string, sceneCount int, style string, manifest *models.Manifest, record *jobstore.Run) (*models.Storyboard, error) {
	if record != nil {
		record.Stage = "storyboard"
		if err := p.Runs.Update(ctx, record); err != nil {
			log.Printf("[Pipeline] run record update failed: %v", err)
		}
	}

	source := p.Store.StoryboardSource()
	start := time.Now()

	if assets.Exists(source) {
		board, err := storyboard.Load(source)
		if err == nil {
			log.Printf("[Pipeline] reusing storyboard with %d scenes", board.SceneCount())
			if manifest != nil {
				manifest.Stages = append(manifest.Stages, models.StageTiming{
					Stage: "storyboard", ElapsedSeconds: time.Since(start).Seconds(), Skipped: 1,
				})
			}
			return board, nil
		}
		log.Printf("[Pipeline] stored storyboard unusable (%v), regenerating", err)
	}

	board, err := p.Storyboard.Generate(ctx, topic, sceneCount, style)
	if err != nil {
		return nil, err
	}
	if err := storyboard.Save(board, p.Store.StoryboardPath()); err != nil {
		return nil, err
	}
	if manifest != nil {
		manifest.Stages = append(manifest.Stages, models.StageTiming{
			Stage: "storyboard", ElapsedSeconds: time.Since(start).Seconds(), Successful: 1,
		})
	}
	return board, nil
}

// RunConcat joins the merged scene videos into the final film.
func (p *Pipeline) RunConcat(ctx context.Context, manifest *models.Manifest, record *jobstore.Run) error {
	if record != nil {
		record.Stage = "concat"
		if err := p.Runs.Update(ctx, record); err != nil {
			log.Printf("[Pipeline] run record update failed: %v", err)
		}
	}

	start := time.Now()
	err := p.Memory.Scoped(ctx, "concat", func(ctx context.Context) error {
		scenes, err := p.Store.ListFinalScenes()
		if err != nil {
			return err
		}
		return p.Concat.Concat(ctx, scenes, p.Store.CompletePath())
	})
	if manifest != nil {
		timing := models.StageTiming{Stage: "concat", ElapsedSeconds: time.Since(start).Seconds()}
		if err == nil {
			timing.Successful = 1
		} else {
			timing.Failed = 1
		}
		manifest.Stages = append(manifest.Stages, timing)
	}
	return err
}

func (p *Pipeline) writeManifest(manifest *models.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(p.Store.ManifestPath(), data, 0644)
}
