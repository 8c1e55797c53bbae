package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Narrator converts narration text to speech audio.
type Narrator interface {
	// Synthesize returns encoded audio (mp3) for the given text.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// EdgeSpeechClient talks to a local edge-tts HTTP server. The server takes
// text and a neural voice id and answers with mp3 bytes.
type EdgeSpeechClient struct {
	baseURL string
	client  *http.Client
}

var _ Narrator = (*EdgeSpeechClient)(nil)

// NewEdgeSpeechClient creates a client for the TTS server at baseURL.
func NewEdgeSpeechClient(baseURL string) *EdgeSpeechClient {
	return &EdgeSpeechClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize posts the narration text and returns the mp3 response body.
func (c *EdgeSpeechClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("narration text is empty")
	}

	payload, err := json.Marshal(speechRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	url := c.baseURL + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts server request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts server returned %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("tts server returned empty audio")
	}

	log.Printf("[TTS] synthesized %d chars with voice %s (%d bytes)", len(text), voice, len(body))
	return body, nil
}
