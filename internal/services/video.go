package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute
)

// VideoRequest carries everything an image-to-video backend may use. Local
// diffusion backends honor the seed and motion tunables; hosted APIs use
// what they support and ignore the rest.
type VideoRequest struct {
	Prompt        string
	ImageData     []byte
	ImageMIMEType string
	Seed          int
	Motion        int
	FrameCount    int
	FPS           int
}

// VideoGenerator animates a still image into a short silent clip.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error)
}

// VeoClient generates scene videos through Google's Veo models. The still
// image becomes the first frame and the prompt steers the motion.
type VeoClient struct {
	apiKey string
	model  string
}

var _ VideoGenerator = (*VeoClient)(nil)

// NewVeoClient creates a Veo client. An empty model picks the default.
func NewVeoClient(apiKey, model string) *VeoClient {
	if model == "" {
		model = "veo-3.1-generate-preview"
	}
	return &VeoClient{apiKey: apiKey, model: model}
}

// buildMotionPrompt wraps the scene prompt with motion guidance so clips
// stay calm and style-consistent with the source frame.
func buildMotionPrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Match the visual style of the input image exactly. Do not alter the art style, color grading, or rendering quality.

Generate subtle, natural, realistic movement: gentle camera drift, soft ambient motion, breathing, fabric or foliage moving in a light breeze. Avoid sudden jerky movements, morphing, or dramatic camera swoops.

No generated audio or dialogue. Silent video only.`, rawPrompt)
}

// GenerateVideo starts an async Veo operation for the scene image and polls
// it to completion, returning the raw MP4 bytes.
//
// The seed, motion, and frame tunables exist for local diffusion backends;
// Veo's API offers no control over them, so they are logged and ignored.
func (c *VeoClient) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	firstFrame := &genai.Image{
		ImageBytes: req.ImageData,
		MIMEType:   req.ImageMIMEType,
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      "16:9",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	log.Printf("[Veo] starting video generation (model=%s, seed=%d ignored, imageSize=%d bytes)",
		c.model, req.Seed, len(req.ImageData))

	operation, err := client.Models.GenerateVideos(ctx, c.model, buildMotionPrompt(req.Prompt), firstFrame, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start video generation: %w", err)
	}

	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video generation timed out after %v (polled %d times)", veoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, fmt.Errorf("video generation operation failed: %s", string(errJSON))
	}
	if operation.Response == nil {
		return nil, fmt.Errorf("no response in completed operation after %d polls", pollCount)
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, fmt.Errorf("video blocked by safety filters: %s", reasons)
	}
	if len(operation.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("no videos in response")
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, fmt.Errorf("generated video object is nil")
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return nil, fmt.Errorf("downloaded video is empty")
	}

	log.Printf("[Veo] video generated (%d bytes, %d polls)", len(videoBytes), pollCount)
	return videoBytes, nil
}
