package storyboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/pipeline"
)

// TextGenerator produces a text completion for a prompt. Implemented by the
// OpenAI-backed client in internal/services.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Generator turns a topic into a validated storyboard. Malformed model
// output is repaired when possible and regenerated otherwise, up to
// maxRetries attempts.
type Generator struct {
	text       TextGenerator
	maxRetries int
	backoff    time.Duration
}

// NewGenerator creates a storyboard generator. maxRetries below 1 becomes 3.
func NewGenerator(text TextGenerator, maxRetries int) *Generator {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Generator{
		text:       text,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

const systemPrompt = `You are a video storyboard writer. You respond with a single JSON array and nothing else. No markdown, no commentary.`

// buildPrompt renders the user prompt for a topic, scene count, and style.
func buildPrompt(topic string, sceneCount int, style string) string {
	return fmt.Sprintf(`Write a storyboard for a short video about: %s

Produce exactly %d scenes as a JSON array. Each scene is an object with these fields:
- "scene_id": integer starting at 1
- "visual_subject": the main subject of the shot
- "visual_action": what the subject is doing
- "background_environment": the setting behind the subject
- "lighting": the lighting mood
- "camera_shot": the framing (e.g. "wide shot", "close-up")
- "audio_text": one or two sentences of narration, in a %s style
- "duration": scene length in seconds, between %d and %d

Respond with the JSON array only.`,
		topic, sceneCount, style, models.MinSceneDuration, models.MaxSceneDuration)
}

// Generate produces a storyboard for topic with the requested number of
// scenes. Each failed attempt logs the cause and retries after a short
// backoff; exhausting attempts returns ErrLLMGeneration.
func (g *Generator) Generate(ctx context.Context, topic string, sceneCount int, style string) (*models.Storyboard, error) {
	if sceneCount < models.MinScenes || sceneCount > models.MaxScenes {
		return nil, fmt.Errorf("scene count %d out of range [%d, %d]",
			sceneCount, models.MinScenes, models.MaxScenes)
	}
	if style == "" {
		style = "documentary"
	}

	prompt := buildPrompt(topic, sceneCount, style)

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff):
			}
		}

		raw, err := g.text.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			lastErr = err
			log.Printf("[Storyboard] attempt %d/%d: completion failed: %v", attempt, g.maxRetries, err)
			continue
		}

		scenes, err := ParseWithRepair(raw)
		if err != nil {
			lastErr = err
			log.Printf("[Storyboard] attempt %d/%d: unusable output: %v", attempt, g.maxRetries, err)
			continue
		}

		board := &models.Storyboard{Topic: topic, Style: style, Scenes: scenes}
		if err := board.Validate(); err != nil {
			lastErr = err
			log.Printf("[Storyboard] attempt %d/%d: invalid storyboard: %v", attempt, g.maxRetries, err)
			continue
		}

		log.Printf("[Storyboard] generated %d scenes, %ds total", board.SceneCount(), board.TotalDuration())
		return board, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", pipeline.ErrLLMGeneration, g.maxRetries, lastErr)
}

// Save writes the storyboard to path as indented JSON.
func Save(board *models.Storyboard, path string) error {
	data, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storyboard: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write storyboard: %w", err)
	}
	return nil
}

// Load reads a previously saved storyboard and validates it.
func Load(path string) (*models.Storyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storyboard: %w", err)
	}
	var board models.Storyboard
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to decode storyboard: %w", err)
	}
	if err := board.Validate(); err != nil {
		return nil, fmt.Errorf("storyboard at %s invalid: %w", path, err)
	}
	return &board, nil
}
