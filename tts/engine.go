// Package tts turns a podcast script into one audio file. Synthesis of the
// individual segments is fanned out to an external engine; this package only
// orders, splices, and writes the result.
package tts

import "context"

// Engine synthesizes one text segment into 16-bit mono PCM.
type Engine interface {
	Name() string
	// Voice maps a script speaker (ALEX, MORGAN) to an engine voice name.
	Voice(speaker string) string
	Synthesize(ctx context.Context, text, voice string) (pcm []byte, sampleRate int, err error)
}
