package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/config"
	"github.com/omnicomni/storyreel/internal/gpu"
	"github.com/omnicomni/storyreel/internal/jobstore"
	"github.com/omnicomni/storyreel/internal/media"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/pipeline"
	"github.com/omnicomni/storyreel/internal/services"
	"github.com/omnicomni/storyreel/internal/storyboard"
	"github.com/omnicomni/storyreel/internal/worker"
)

const usageText = `storyreel - topic to narrated video pipeline

Usage: storyreel <command> [flags]

Commands:
  storyboard   generate the scene plan for a topic
  images       render still images for every scene
  videos       animate scene images into silent clips
  audio        synthesize narration for every scene
  merge        pair each clip with its narration
  concat       join merged scenes into the final video
  run          execute the whole pipeline for a topic
  check        verify binaries, credentials, and memory

Run 'storyreel <command> -h' for command flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usageText)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		var prereq *pipeline.PrerequisiteError
		if errors.As(err, &prereq) {
			log.Printf("missing prerequisite: %s", prereq.Missing)
			log.Printf("run '%s' first", prereq.RunCmd)
		} else {
			log.Printf("error: %v", err)
		}
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, command string, args []string) error {
	if command == "check" {
		return runCheck(ctx, args)
	}

	switch command {
	case "storyboard", "images", "videos", "audio", "merge", "concat", "run":
	default:
		fmt.Fprintln(os.Stderr, usageText)
		return fmt.Errorf("unknown command %q", command)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	topic := fs.String("topic", "", "video topic (required)")
	sceneCount := fs.Int("scenes", 5, "number of scenes to plan")
	style := fs.String("style", "documentary", "narration style")
	output := fs.String("output", "", "output root override")
	input := fs.String("input", "", "input root override for prior stage assets")
	configFile := fs.String("config", "storyreel.yaml", "optional tunables file")
	topicsFile := fs.String("topics-file", "", "batch mode: file with one topic per line (run only)")
	fps := fs.Int("fps", 0, "frame rate override")
	motion := fs.Int("motion", 0, "motion intensity override")
	frames := fs.Int("frames", 0, "frame count override")
	retries := fs.Int("retries", 0, "storyboard retry budget override")
	noSkip := fs.Bool("no-skip", false, "re-generate outputs that already exist")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.LoadFile(*configFile, true); err != nil {
		return err
	}
	if *output != "" {
		cfg.OutputRoot = *output
	}
	if *input != "" {
		cfg.InputRoot = *input
	}
	if *fps > 0 {
		cfg.FPS = *fps
	}
	if *motion > 0 {
		cfg.Motion = *motion
	}
	if *frames > 0 {
		cfg.FrameCount = *frames
	}
	if *retries > 0 {
		cfg.MaxRetries = *retries
	}

	if command == "run" && *topicsFile != "" {
		return runBatch(ctx, cfg, *topicsFile, *sceneCount, *style)
	}
	if *topic == "" {
		return fmt.Errorf("-topic is required")
	}

	p, cleanup, err := buildPipeline(cfg, *topic)
	if err != nil {
		return err
	}
	defer cleanup()

	if *noSkip {
		p.Images.Force = true
		p.Videos.Force = true
		p.Audio.Force = true
		p.Merge.Force = true
	}

	switch command {
	case "storyboard":
		_, err := p.EnsureStoryboard(ctx, *topic, *sceneCount, *style, nil, nil)
		return err
	case "images":
		return runStage(ctx, p, *topic, *sceneCount, *style, "images", p.Images.Run)
	case "videos":
		return runStage(ctx, p, *topic, *sceneCount, *style, "videos", p.Videos.Run)
	case "audio":
		return runStage(ctx, p, *topic, *sceneCount, *style, "audio", p.Audio.Run)
	case "merge":
		return runStage(ctx, p, *topic, *sceneCount, *style, "merge", p.Merge.Run)
	case "concat":
		return p.RunConcat(ctx, nil, nil)
	case "run":
		_, err := p.Run(ctx, *topic, *sceneCount, *style)
		return err
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// runStage loads the storyboard and executes one stage. The stage succeeds
// when at least one scene produced or already had output.
func runStage(ctx context.Context, p *worker.Pipeline, topic string, sceneCount int, style, name string, stage func(context.Context, *models.Storyboard) worker.Stats) error {
	board, err := p.EnsureStoryboard(ctx, topic, sceneCount, style, nil, nil)
	if err != nil {
		return err
	}

	var stats worker.Stats
	err = p.Memory.Scoped(ctx, name, func(ctx context.Context) error {
		stats = stage(ctx, board)
		return nil
	})
	if err != nil {
		return err
	}
	if !stats.Produced() {
		return fmt.Errorf("stage produced no output (%s)", stats.String())
	}
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, topicsFile string, sceneCount int, style string) error {
	f, err := os.Open(topicsFile)
	if err != nil {
		return fmt.Errorf("failed to open topics file: %w", err)
	}
	defer f.Close()

	var topics []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read topics file: %w", err)
	}
	if len(topics) == 0 {
		return fmt.Errorf("topics file has no topics")
	}

	log.Printf("[Batch] %d topic(s) queued", len(topics))

	failed := 0
	for i, topic := range topics {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		log.Printf("[Batch] topic %d/%d: %s", i+1, len(topics), topic)
		p, cleanup, err := buildPipeline(cfg, topic)
		if err != nil {
			return err
		}
		if _, err := p.Run(ctx, topic, sceneCount, style); err != nil {
			log.Printf("[Batch] topic %q failed: %v", topic, err)
			failed++
		}
		cleanup()
	}

	if failed == len(topics) {
		return fmt.Errorf("all %d topic(s) failed", failed)
	}
	if failed > 0 {
		log.Printf("[Batch] finished with %d/%d topic(s) failed", failed, len(topics))
	}
	return nil
}

// buildPipeline wires every collaborator for one topic. The returned
// cleanup closes the run store.
func buildPipeline(cfg *config.Config, topic string) (*worker.Pipeline, func(), error) {
	slug := models.SanitizeTopic(topic)
	store, err := assets.NewStore(cfg.OutputRoot, slug)
	if err != nil {
		return nil, nil, err
	}
	if cfg.InputRoot != "" {
		store.SetInputRoot(filepath.Join(cfg.InputRoot, slug))
	}

	gateway, err := media.NewGateway()
	if err != nil {
		return nil, nil, err
	}

	runs, err := jobstore.Open(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	memory := gpu.NewManager(gpu.Detect())

	text := services.NewOpenAIText(cfg.OpenAIKey, cfg.TextModel, cfg.Temperature)
	images := services.NewDiffusionClient(cfg.ImageServerURL, cfg.ImageModel)
	narrator := services.NewEdgeSpeechClient(cfg.TTSServerURL)

	var videos services.VideoGenerator
	if cfg.GeminiKey != "" {
		videos = services.NewVeoClient(cfg.GeminiKey, cfg.VideoModel)
	} else {
		log.Printf("[Setup] GEMINI_API_KEY not set, scene clips will animate stills with ffmpeg")
	}

	p := &worker.Pipeline{
		Storyboard: storyboard.NewGenerator(text, cfg.MaxRetries),
		Images:     worker.NewImageWorker(images, store, cfg.ImageVariants, cfg.BaseSeed, cfg.ImageSize),
		Videos:     worker.NewVideoWorker(videos, gateway, store, memory, cfg.BaseSeed, cfg.VideoModelGB, cfg.Motion, cfg.FrameCount, cfg.FPS),
		Audio:      worker.NewAudioWorker(narrator, store, cfg.VoiceID),
		Merge:      worker.NewMergeWorker(media.NewAudioSynchronizer(gateway), store),
		Concat:     media.NewSceneConcatenator(gateway, cfg.FadeSeconds),
		Memory:     memory,
		Store:      store,
		Runs:       runs,
		TextModel:  cfg.TextModel,
		ImageModel: cfg.ImageModel,
		VideoModel: cfg.VideoModel,
		Voice:      cfg.VoiceID,
	}

	cleanup := func() {
		if err := runs.Close(); err != nil {
			log.Printf("[Setup] run store close failed: %v", err)
		}
	}
	return p, cleanup, nil
}

func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	failures := 0

	if _, err := media.NewGateway(); err != nil {
		log.Printf("ffmpeg: MISSING (%v)", err)
		failures++
	} else {
		log.Printf("ffmpeg: ok")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: INVALID (%v)", err)
		failures++
	} else {
		log.Printf("config: ok (text model %s)", cfg.TextModel)
		if cfg.GeminiKey == "" {
			log.Printf("video backend: not configured, stills will be animated with ffmpeg")
		} else {
			log.Printf("video backend: %s", cfg.VideoModel)
		}
	}

	memory := gpu.NewManager(gpu.Detect())
	snap, err := memory.Snapshot(ctx)
	if err != nil {
		log.Printf("memory: UNAVAILABLE (%v)", err)
		failures++
	} else {
		log.Printf("memory: %.1fGB free / %.1fGB total on %s", snap.FreeGB, snap.TotalGB, snap.Device)
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	log.Printf("all checks passed")
	return nil
}
