package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ImageGenerator produces still images for scene prompts.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, seed, size int) ([]byte, error)
}

// DiffusionClient talks to a local diffusion model server over HTTP. The
// server exposes a txt2img endpoint accepting a JSON body and answering
// with base64-encoded PNG data.
type DiffusionClient struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ ImageGenerator = (*DiffusionClient)(nil)

// NewDiffusionClient creates a client for the diffusion server at baseURL.
func NewDiffusionClient(baseURL, model string) *DiffusionClient {
	return &DiffusionClient{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type txt2imgRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Seed           int    `json:"seed"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

const negativePrompt = "text, watermark, logo, blurry, deformed, low quality"

// GenerateImage renders one image for the prompt with a fixed seed so
// re-runs are reproducible.
func (c *DiffusionClient) GenerateImage(ctx context.Context, prompt string, seed, size int) ([]byte, error) {
	if size <= 0 {
		size = 1024
	}

	payload, err := json.Marshal(txt2imgRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		Model:          c.model,
		Seed:           seed,
		Width:          size,
		Height:         size,
		Steps:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image request: %w", err)
	}

	url := c.baseURL + "/sdapi/v1/txt2img"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Diffusion] generating image (model=%s, seed=%d, size=%d)", c.model, seed, size)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image server request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image server returned %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}

	var decoded txt2imgResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("image server error: %s", decoded.Error)
	}
	if len(decoded.Images) == 0 {
		return nil, fmt.Errorf("image server returned no images")
	}

	imageBytes, err := base64.StdEncoding.DecodeString(decoded.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("image server returned empty image")
	}
	return imageBytes, nil
}

// truncateForLog trims a string to maxLen and appends "..." if trimmed.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
