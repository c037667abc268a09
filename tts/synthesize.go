package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srgchrksv/newscaster/models"
)

// silenceDuration is the fixed pause spliced between dialogue turns.
const silenceDuration = 500 * time.Millisecond

// defaultConcurrency bounds the synthesis fan-out per engine.
const defaultConcurrency = 8

// Synthesizer fans a script out to a TTS engine and assembles one WAV file.
// Engines are tried in order; an engine that produces no usable segment at
// all is skipped for the next one.
type Synthesizer struct {
	engines     []Engine
	concurrency int
}

// NewSynthesizer builds a synthesizer over the available engines, in
// fallback order.
func NewSynthesizer(engines ...Engine) *Synthesizer {
	return &Synthesizer{engines: engines, concurrency: defaultConcurrency}
}

// Engines reports the configured engine names, in fallback order.
func (s *Synthesizer) Engines() []string {
	names := make([]string, 0, len(s.engines))
	for _, e := range s.engines {
		names = append(names, e.Name())
	}
	return names
}

// CreatePodcast synthesizes every dialogue turn, preserving script order,
// and writes the combined audio to outputPath. preferred selects an engine
// by name; empty means the configured fallback order. Failed segments are
// skipped; the podcast fails only when no segment could be produced.
func (s *Synthesizer) CreatePodcast(ctx context.Context, entries []models.Dialog, outputPath, preferred string) error {
	if len(entries) == 0 {
		return errors.New("no dialog entries to synthesize")
	}
	if len(s.engines) == 0 {
		return errors.New("no tts engines configured")
	}

	for _, engine := range s.orderedEngines(preferred) {
		segments, rate, ok := s.synthesizeAll(ctx, engine, entries)
		if !ok {
			log.Printf("tts: engine %s produced no audio, trying next", engine.Name())
			continue
		}
		combined := combineSegments(segments, rate)
		normalize(combined)

		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return fmt.Errorf("create audio dir: %w", err)
		}
		var buf bytes.Buffer
		if err := writeWAV(&buf, combined, rate); err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write audio file: %w", err)
		}
		log.Printf("tts: wrote %s (%.1f min, engine %s)", outputPath,
			float64(len(combined)/2)/float64(rate)/60, engine.Name())
		return nil
	}
	return errors.New("all tts engines failed")
}

// SynthesizeSegment renders a single dialogue turn as a standalone WAV
// clip, for per-segment streaming. Engines fall back in the same order as
// CreatePodcast.
func (s *Synthesizer) SynthesizeSegment(ctx context.Context, entry models.Dialog, preferred string) ([]byte, error) {
	if len(s.engines) == 0 {
		return nil, errors.New("no tts engines configured")
	}
	for _, engine := range s.orderedEngines(preferred) {
		pcm, rate, err := engine.Synthesize(ctx, entry.Text, engine.Voice(entry.Speaker))
		if err != nil {
			log.Printf("tts: engine %s segment failed: %v", engine.Name(), err)
			continue
		}
		var buf bytes.Buffer
		if err := writeWAV(&buf, pcm, rate); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, errors.New("all tts engines failed")
}

func (s *Synthesizer) orderedEngines(preferred string) []Engine {
	if preferred == "" {
		return s.engines
	}
	ordered := make([]Engine, 0, len(s.engines))
	for _, e := range s.engines {
		if e.Name() == preferred {
			ordered = append(ordered, e)
		}
	}
	for _, e := range s.engines {
		if e.Name() != preferred {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

// synthesizeAll fans the entries out to the engine and returns the PCM
// segments in original order, with nils for failed turns.
func (s *Synthesizer) synthesizeAll(ctx context.Context, engine Engine, entries []models.Dialog) ([][]byte, int, bool) {
	start := time.Now()
	log.Printf("tts: synthesizing %d segments with %s", len(entries), engine.Name())

	segments := make([][]byte, len(entries))
	rates := make([]int, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			pcm, rate, err := engine.Synthesize(ctx, entry.Text, engine.Voice(entry.Speaker))
			if err != nil {
				log.Printf("tts: segment %d failed: %v", i+1, err)
				return nil // skip, keep going
			}
			segments[i], rates[i] = pcm, rate
			return nil
		})
	}
	g.Wait()

	// Resample stragglers to the first successful segment's rate.
	rate := 0
	success := 0
	for i, seg := range segments {
		if seg == nil {
			continue
		}
		success++
		if rate == 0 {
			rate = rates[i]
		} else if rates[i] != rate {
			segments[i] = resample(seg, rates[i], rate)
		}
	}
	log.Printf("tts: %d/%d segments in %.1fs", success, len(entries), time.Since(start).Seconds())
	return segments, rate, success > 0
}

// combineSegments splices the non-nil segments with fixed silence between
// consecutive turns.
func combineSegments(segments [][]byte, sampleRate int) []byte {
	silence := make([]byte, 2*int(float64(sampleRate)*silenceDuration.Seconds()))
	var out []byte
	for _, seg := range segments {
		if seg == nil {
			continue
		}
		if len(out) > 0 {
			out = append(out, silence...)
		}
		out = append(out, seg...)
	}
	return out
}

// normalizeTarget is 95% of int16 full scale, where peaks are scaled to.
const normalizeTarget = 31128

// normalize scales 16-bit samples so the peak sits at normalizeTarget.
func normalize(pcm []byte) {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return
	}
	target := int32(normalizeTarget)
	if peak <= target {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v = v * target / peak
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// resample converts 16-bit mono PCM between sample rates with linear
// interpolation. Good enough for splicing speech segments.
func resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return pcm
	}
	outN := int(int64(n) * int64(to) / int64(from))
	out := make([]byte, outN*2)
	for i := 0; i < outN; i++ {
		pos := float64(i) * float64(from) / float64(to)
		j := int(pos)
		frac := pos - float64(j)
		a := int16(binary.LittleEndian.Uint16(pcm[2*j:]))
		b := a
		if j+1 < n {
			b = int16(binary.LittleEndian.Uint16(pcm[2*(j+1):]))
		}
		v := float64(a) + frac*float64(b-a)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}
