package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/omnicomni/storyreel/internal/pipeline"
)

func TestLoadRequiresOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when OPENAI_API_KEY is missing")
	}

	// Missing credentials are a startup failure, same type as a missing
	// ffmpeg binary.
	var cfgErr *pipeline.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TextModel != "gpt-4o-mini" {
		t.Errorf("expected default text model, got %s", cfg.TextModel)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.FadeSeconds != 1.0 {
		t.Errorf("expected 1.0s fade, got %f", cfg.FadeSeconds)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "storyreel.yaml")
	data := []byte("fps: 12\nvoice_id: en-GB-RyanNeural\nfade_seconds: 0.5\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write tunables: %v", err)
	}

	if err := cfg.LoadFile(path, false); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.FPS != 12 {
		t.Errorf("expected fps override 12, got %d", cfg.FPS)
	}
	if cfg.VoiceID != "en-GB-RyanNeural" {
		t.Errorf("expected voice override, got %s", cfg.VoiceID)
	}
	if cfg.FadeSeconds != 0.5 {
		t.Errorf("expected fade override 0.5, got %f", cfg.FadeSeconds)
	}
	// Untouched fields keep their env defaults
	if cfg.TextModel != "gpt-4o-mini" {
		t.Errorf("text model should be unchanged, got %s", cfg.TextModel)
	}
}

func TestLoadFileMissingOptional(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := cfg.LoadFile("does-not-exist.yaml", true); err != nil {
		t.Errorf("optional missing file should not error: %v", err)
	}
	if err := cfg.LoadFile("does-not-exist.yaml", false); err == nil {
		t.Error("required missing file should error")
	}
}
