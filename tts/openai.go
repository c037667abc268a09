package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/srgchrksv/newscaster/models"
)

const (
	openAIEndpoint   = "https://api.openai.com/v1/audio/speech"
	openAIModel      = "gpt-4o-mini-tts"
	openAISampleRate = 24000 // the pcm response format is fixed at 24 kHz
)

var openAIVoices = map[string]string{
	models.SpeakerAlex:   "alloy",
	models.SpeakerMorgan: "nova",
}

// OpenAIEngine synthesizes segments through the OpenAI speech endpoint. It
// is the fallback when no Google credentials are configured.
type OpenAIEngine struct {
	APIKey string
	Model  string
	client *http.Client

	endpoint string // overridable for tests
}

// NewOpenAIEngine constructs the engine.
func NewOpenAIEngine(apiKey string) *OpenAIEngine {
	return &OpenAIEngine{
		APIKey:   apiKey,
		Model:    openAIModel,
		client:   &http.Client{Timeout: 60 * time.Second},
		endpoint: openAIEndpoint,
	}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Voice(speaker string) string {
	if v, ok := openAIVoices[speaker]; ok {
		return v
	}
	return openAIVoices[models.SpeakerAlex]
}

// Synthesize requests raw PCM so segments splice without decoding.
func (e *OpenAIEngine) Synthesize(ctx context.Context, text, voice string) ([]byte, int, error) {
	if strings.TrimSpace(e.APIKey) == "" {
		return nil, 0, errors.New("openai tts: API key is missing")
	}

	payload, err := json.Marshal(map[string]string{
		"model":           e.Model,
		"input":           text,
		"voice":           voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("openai tts http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai tts read: %w", err)
	}
	if len(pcm) == 0 {
		return nil, 0, errors.New("openai tts returned empty audio")
	}
	return pcm, openAISampleRate, nil
}
