package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Scene duration limits in seconds. The duration field is advisory — the
// merged scene length is driven by the narration audio, not by this value.
const (
	MinSceneDuration = 3
	MaxSceneDuration = 30
)

// Storyboard size limits.
const (
	MinScenes = 1
	MaxScenes = 10
)

// Scene is a single storyboard entry produced by the LLM. Immutable once
// validated; every downstream stage consumes it read-only.
//
// Two visual forms are accepted:
//   - five-field form: visual_subject/visual_action/background_environment/
//     lighting/camera_shot (preferred, better image-model prompts)
//   - legacy form: a single visual_prompt string
type Scene struct {
	SceneID int `json:"scene_id"`

	// Five-field visual description (preferred form)
	VisualSubject         string `json:"visual_subject,omitempty"`
	VisualAction          string `json:"visual_action,omitempty"`
	BackgroundEnvironment string `json:"background_environment,omitempty"`
	Lighting              string `json:"lighting,omitempty"`
	CameraShot            string `json:"camera_shot,omitempty"`

	// Legacy single-string form
	VisualPrompt string `json:"visual_prompt,omitempty"`

	AudioText string `json:"audio_text"`
	Duration  int    `json:"duration"`
}

// ComposedPrompt returns the full visual description for image generation,
// joining the five-field form when present and falling back to the legacy
// visual_prompt otherwise.
func (s *Scene) ComposedPrompt() string {
	parts := []string{}
	for _, p := range []string{s.VisualSubject, s.VisualAction, s.BackgroundEnvironment, s.Lighting, s.CameraShot} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return strings.TrimSpace(s.VisualPrompt)
}

// Validate checks a single scene against the schema.
func (s *Scene) Validate() error {
	if s.SceneID < 1 {
		return fmt.Errorf("scene_id must be >= 1, got %d", s.SceneID)
	}
	if s.ComposedPrompt() == "" {
		return fmt.Errorf("scene %d: no visual description (need visual_prompt or the five-field form)", s.SceneID)
	}
	if strings.TrimSpace(s.AudioText) == "" {
		return fmt.Errorf("scene %d: audio_text cannot be empty", s.SceneID)
	}
	if s.Duration < MinSceneDuration || s.Duration > MaxSceneDuration {
		return fmt.Errorf("scene %d: duration %d out of range [%d, %d]", s.SceneID, s.Duration, MinSceneDuration, MaxSceneDuration)
	}
	return nil
}

// Storyboard is the validated list of scenes for one topic.
type Storyboard struct {
	Topic  string  `json:"topic"`
	Style  string  `json:"style,omitempty"`
	Scenes []Scene `json:"scenes"`
}

// SceneCount returns the number of scenes.
func (sb *Storyboard) SceneCount() int {
	return len(sb.Scenes)
}

// TotalDuration sums the advisory scene durations in seconds.
func (sb *Storyboard) TotalDuration() int {
	total := 0
	for _, s := range sb.Scenes {
		total += s.Duration
	}
	return total
}

// Validate checks the whole storyboard: scene count limits, per-scene
// schema, and unique scene ids.
func (sb *Storyboard) Validate() error {
	if strings.TrimSpace(sb.Topic) == "" {
		return fmt.Errorf("storyboard topic cannot be empty")
	}
	if len(sb.Scenes) < MinScenes || len(sb.Scenes) > MaxScenes {
		return fmt.Errorf("storyboard must have %d-%d scenes, got %d", MinScenes, MaxScenes, len(sb.Scenes))
	}

	seen := make(map[int]bool, len(sb.Scenes))
	for i := range sb.Scenes {
		if err := sb.Scenes[i].Validate(); err != nil {
			return err
		}
		if seen[sb.Scenes[i].SceneID] {
			return fmt.Errorf("duplicate scene_id %d", sb.Scenes[i].SceneID)
		}
		seen[sb.Scenes[i].SceneID] = true
	}
	return nil
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage          string  `json:"stage"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Successful     int     `json:"successful"`
	Skipped        int     `json:"skipped"`
	Failed         int     `json:"failed"`
}

// Manifest is the run-level metadata record. Written once at the end of a
// run; a read-only historical record, never mutated afterwards.
type Manifest struct {
	RunID        string        `json:"run_id"`
	Topic        string        `json:"topic"`
	TopicSlug    string        `json:"topic_slug"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	TextModel    string        `json:"text_model"`
	ImageModel   string        `json:"image_model,omitempty"`
	VideoModel   string        `json:"video_model,omitempty"`
	Voice        string        `json:"voice"`
	SceneCount   int           `json:"scene_count"`
	Stages       []StageTiming `json:"stages"`
	OutputDir    string        `json:"output_directory"`
	TotalSeconds float64       `json:"total_seconds"`
}

var (
	slugStripRe    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapseRe = regexp.MustCompile(`[\s]+`)
)

// SanitizeTopic converts an arbitrary topic string into a safe directory and
// filename slug: "Cats in Space!!!" -> "cats_in_space". Topics are customer
// input and may contain anything.
func SanitizeTopic(topic string) string {
	safe := slugStripRe.ReplaceAllString(topic, "")
	safe = slugCollapseRe.ReplaceAllString(safe, "_")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	safe = strings.ToLower(strings.Trim(safe, "_"))
	if safe == "" {
		return "untitled"
	}
	return safe
}
