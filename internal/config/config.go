package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

// Config carries everything the pipeline needs: collaborator credentials,
// model identifiers, directory roots, and per-stage tunables. Credentials
// come from the environment (.env supported); tunables may additionally be
// overridden from a YAML file via LoadFile.
type Config struct {
	// Text generation (storyboard)
	OpenAIKey   string
	TextModel   string
	Temperature float64
	MaxRetries  int

	// Image generation (diffusion model server)
	ImageServerURL string
	ImageModel     string
	ImageVariants  int
	ImageSize      int

	// Video generation
	GeminiKey  string
	VideoModel string
	BaseSeed   int
	FrameCount int
	FPS        int
	Motion     int

	// Narration
	TTSServerURL string
	VoiceID      string

	// Resource budgeting (declared model footprints, GB)
	TextModelGB  float64
	ImageModelGB float64
	VideoModelGB float64

	// Directory roots. An empty InputRoot means stages read their
	// inputs from the output tree.
	OutputRoot string
	InputRoot  string

	// Job store (empty = in-memory)
	RedisURL string

	// Assembly
	FadeSeconds float64
}

// Tunables is the YAML-overridable subset of Config. Everything here has a
// sane default; the file is optional.
type Tunables struct {
	TextModel     string  `yaml:"text_model"`
	Temperature   float64 `yaml:"temperature"`
	MaxRetries    int     `yaml:"max_retries"`
	ImageModel    string  `yaml:"image_model"`
	ImageVariants int     `yaml:"image_variants"`
	ImageSize     int     `yaml:"image_size"`
	VideoModel    string  `yaml:"video_model"`
	BaseSeed      int     `yaml:"base_seed"`
	FrameCount    int     `yaml:"frame_count"`
	FPS           int     `yaml:"fps"`
	Motion        int     `yaml:"motion"`
	VoiceID       string  `yaml:"voice_id"`
	OutputRoot    string  `yaml:"output_root"`
	InputRoot     string  `yaml:"input_root"`
	FadeSeconds   float64 `yaml:"fade_seconds"`
}

// Load reads configuration from the environment (loading .env if present)
// and validates required credentials.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		OpenAIKey:   getEnv("OPENAI_API_KEY", ""),
		TextModel:   getEnv("TEXT_MODEL", "gpt-4o-mini"),
		Temperature: getEnvFloat("TEMPERATURE", 0.7),
		MaxRetries:  getEnvInt("MAX_RETRIES", 3),

		ImageServerURL: getEnv("IMAGE_SERVER_URL", "http://localhost:7860"),
		ImageModel:     getEnv("IMAGE_MODEL", "flux-schnell"),
		ImageVariants:  getEnvInt("IMAGE_VARIANTS", 2),
		ImageSize:      getEnvInt("IMAGE_SIZE", 1024),

		GeminiKey:  getEnv("GEMINI_API_KEY", ""),
		VideoModel: getEnv("VIDEO_MODEL", "veo-3.1-generate-preview"),
		BaseSeed:   getEnvInt("BASE_SEED", 42),
		FrameCount: getEnvInt("FRAME_COUNT", 25),
		FPS:        getEnvInt("VIDEO_FPS", 6),
		Motion:     getEnvInt("MOTION_INTENSITY", 127),

		TTSServerURL: getEnv("TTS_SERVER_URL", "http://localhost:5050"),
		VoiceID:      getEnv("VOICE_ID", "en-US-ChristopherNeural"),

		TextModelGB:  getEnvFloat("TEXT_MODEL_GB", 4.0),
		ImageModelGB: getEnvFloat("IMAGE_MODEL_GB", 8.0),
		VideoModelGB: getEnvFloat("VIDEO_MODEL_GB", 10.0),

		OutputRoot: getEnv("OUTPUT_ROOT", "output"),
		InputRoot:  getEnv("INPUT_ROOT", ""),
		RedisURL:   getEnv("REDIS_URL", ""),

		FadeSeconds: getEnvFloat("FADE_SECONDS", 1.0),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, pipeline.NewConfigurationError("OPENAI_API_KEY is required")
	}

	if cfg.MaxRetries < 1 {
		return nil, pipeline.NewConfigurationError("MAX_RETRIES must be >= 1, got %d", cfg.MaxRetries)
	}

	return cfg, nil
}

// LoadFile applies YAML tunables on top of an already-loaded Config.
// Missing file is not an error when optional is true.
func (c *Config) LoadFile(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if t.TextModel != "" {
		c.TextModel = t.TextModel
	}
	if t.Temperature != 0 {
		c.Temperature = t.Temperature
	}
	if t.MaxRetries != 0 {
		c.MaxRetries = t.MaxRetries
	}
	if t.ImageModel != "" {
		c.ImageModel = t.ImageModel
	}
	if t.ImageVariants != 0 {
		c.ImageVariants = t.ImageVariants
	}
	if t.ImageSize != 0 {
		c.ImageSize = t.ImageSize
	}
	if t.VideoModel != "" {
		c.VideoModel = t.VideoModel
	}
	if t.BaseSeed != 0 {
		c.BaseSeed = t.BaseSeed
	}
	if t.FrameCount != 0 {
		c.FrameCount = t.FrameCount
	}
	if t.FPS != 0 {
		c.FPS = t.FPS
	}
	if t.Motion != 0 {
		c.Motion = t.Motion
	}
	if t.VoiceID != "" {
		c.VoiceID = t.VoiceID
	}
	if t.OutputRoot != "" {
		c.OutputRoot = t.OutputRoot
	}
	if t.InputRoot != "" {
		c.InputRoot = t.InputRoot
	}
	if t.FadeSeconds != 0 {
		c.FadeSeconds = t.FadeSeconds
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
