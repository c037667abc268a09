package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/srgchrksv/newscaster/models"
)

// googleSampleRate is requested from the API so all segments splice without
// resampling.
const googleSampleRate = 24000

var googleVoices = map[string]string{
	models.SpeakerAlex:   "en-US-Standard-D",
	models.SpeakerMorgan: "en-US-Standard-C",
}

// GoogleEngine synthesizes segments with Google Cloud Text-to-Speech.
type GoogleEngine struct {
	client *texttospeech.Client
	voices map[string]string
}

// NewGoogleEngine wraps an existing TTS client.
func NewGoogleEngine(client *texttospeech.Client) *GoogleEngine {
	return &GoogleEngine{client: client, voices: googleVoices}
}

func (e *GoogleEngine) Name() string { return "google" }

func (e *GoogleEngine) Voice(speaker string) string {
	if v, ok := e.voices[speaker]; ok {
		return v
	}
	return googleVoices[models.SpeakerAlex]
}

// Synthesize requests LINEAR16 audio and strips the WAV container the API
// wraps it in.
func (e *GoogleEngine) Synthesize(ctx context.Context, text, voice string) ([]byte, int, error) {
	req := texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageCodeFromVoice(voice),
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: googleSampleRate,
		},
	}

	resp, err := e.client.SynthesizeSpeech(ctx, &req)
	if err != nil {
		return nil, 0, fmt.Errorf("google tts: %w", err)
	}
	pcm, rate, err := parseWAV(resp.AudioContent)
	if err != nil {
		return nil, 0, fmt.Errorf("google tts audio: %w", err)
	}
	return pcm, rate, nil
}

// languageCodeFromVoice derives "en-US" from a voice name like
// "en-US-Standard-C".
func languageCodeFromVoice(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
