// Package services wires the search, scrape, script, and audio steps of the
// podcast pipeline around the session store.
package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/srgchrksv/newscaster/costs"
	"github.com/srgchrksv/newscaster/models"
	"github.com/srgchrksv/newscaster/scraper"
	"github.com/srgchrksv/newscaster/search"
	"github.com/srgchrksv/newscaster/storage"
	"github.com/srgchrksv/newscaster/tts"
)

// ScriptGenerator produces a structured podcast script from prepared source
// content. *models.Gemini is the production implementation.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, prompt string) (*models.PodcastScript, *genai.UsageMetadata, error)
}

// Services bundles the pipeline dependencies handed to the agent tools.
type Services struct {
	Store       *storage.Store
	Costs       *costs.Tracker
	Search      *search.Chain
	Scraper     *scraper.Scraper
	Script      ScriptGenerator
	Synthesizer *tts.Synthesizer
	AudioDir    string
}

// NewServices constructs the service bundle.
func NewServices(store *storage.Store, tracker *costs.Tracker, chain *search.Chain,
	scr *scraper.Scraper, script ScriptGenerator, synth *tts.Synthesizer, audioDir string) *Services {
	return &Services{
		Store:       store,
		Costs:       tracker,
		Search:      chain,
		Scraper:     scr,
		Script:      script,
		Synthesizer: synth,
		AudioDir:    audioDir,
	}
}

// SearchSources runs the query through the provider chain and stores the
// capped results on the session.
func (s *Services) SearchSources(ctx context.Context, sessionID string, state *models.SessionState, query string) (string, error) {
	log.Printf("services: searching for %q (session %s)", query, sessionID)
	results, err := s.Search.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	state.Stage = models.StageSearch
	state.SearchResults = results
	if err := s.Store.SaveState(sessionID, state); err != nil {
		return "", err
	}

	tools := make(map[string]bool)
	for _, r := range results {
		tools[r.ToolUsed] = true
	}
	names := make([]string, 0, len(tools))
	for t := range tools {
		names = append(names, t)
	}
	log.Printf("services: %d sources via %s", len(results), strings.Join(names, ", "))
	return fmt.Sprintf("Found %d sources about %s and added them to the search results.", len(results), query), nil
}

// SelectSources confirms the sources at the given 1-based indices. An empty
// selection auto-selects every source.
func (s *Services) SelectSources(sessionID string, state *models.SessionState, selected []int) (string, error) {
	if len(state.SearchResults) == 0 {
		return "No search results to select from. Run a search first.", nil
	}

	if len(selected) == 0 {
		for i := range state.SearchResults {
			state.SearchResults[i].Confirmed = true
		}
		log.Printf("services: auto-selected all %d sources", len(state.SearchResults))
	} else {
		chosen := make(map[int]bool, len(selected))
		for _, idx := range selected {
			chosen[idx] = true
		}
		for i := range state.SearchResults {
			state.SearchResults[i].Confirmed = chosen[i+1]
		}
	}

	state.Stage = models.StageSources
	if err := s.Store.SaveState(sessionID, state); err != nil {
		return "", err
	}
	confirmed := len(state.ConfirmedResults())
	return fmt.Sprintf("Confirmed %d/%d sources. Ready for script generation.", confirmed, len(state.SearchResults)), nil
}

// ScrapeSources fetches full text for every confirmed source that still
// needs scraping. Per-source failures are recorded and skipped.
func (s *Services) ScrapeSources(ctx context.Context, sessionID string, state *models.SessionState) (string, error) {
	var pending []int
	for i, r := range state.SearchResults {
		if r.Confirmed && r.IsScrapingRequired && r.FullText == "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return "No confirmed sources need scraping.", nil
	}

	scraped := s.Scraper.ScrapeResults(ctx, state.SearchResults)
	// ScrapeResults keeps positions stable so the whole slice can be
	// written back.
	state.SearchResults = scraped
	if err := s.Store.SaveState(sessionID, state); err != nil {
		return "", err
	}

	success := 0
	for _, i := range pending {
		if scraped[i].Success {
			success++
		}
	}
	return fmt.Sprintf("Scraped %d/%d sources successfully.", success, len(pending)), nil
}

// GenerateScript builds the source block from confirmed results and asks
// the script model for a structured podcast script in the session language.
func (s *Services) GenerateScript(ctx context.Context, sessionID string, state *models.SessionState, query string) (string, error) {
	content, sources := FormatSearchResults(state.ConfirmedResults())
	if content == "" {
		return "No confirmed sources found to generate a podcast script.", nil
	}

	language := state.SelectedLanguage.Name
	prompt := fmt.Sprintf("query: %s\nlanguage_name: %s\ncontent_texts:\n%s\nIMPORTANT: texts should be in %s language.",
		query, language, content, language)

	script, usage, err := s.Script.GenerateScript(ctx, prompt)
	if s.Costs != nil && usage != nil {
		if _, cerr := s.Costs.TrackUsage(usage, models.ScriptModelID, "script_agent"); cerr != nil {
			log.Printf("services: cost tracking failed: %v", cerr)
		}
	}
	if err != nil {
		return "", fmt.Errorf("script generation: %w", err)
	}

	script.Sources = sources
	state.GeneratedScript = script
	state.Stage = models.StageScript
	// Source and script confirmations are skipped: audio follows directly.
	state.ShowScriptForConfirmation = false
	state.ShowSourcesForSelection = false
	if err := s.Store.SaveState(sessionID, state); err != nil {
		return "", err
	}

	log.Printf("services: script %q with %d sections", script.Title, len(script.Sections))
	return fmt.Sprintf("Generated podcast script for %q with %d sources. Script is ready. IMMEDIATELY call generate_audio to produce the podcast audio.",
		query, len(sources)), nil
}

// GenerateAudio synthesizes the generated script into a WAV file and stores
// its name on the session.
func (s *Services) GenerateAudio(ctx context.Context, sessionID string, state *models.SessionState) (string, error) {
	if state.GeneratedScript == nil || len(state.GeneratedScript.Sections) == 0 {
		return "Cannot generate audio: no podcast script found. Generate a script first.", nil
	}
	entries := state.GeneratedScript.Entries()
	if len(entries) == 0 {
		return "Cannot generate audio: no dialog found in the script.", nil
	}

	state.Stage = models.StageAudio
	filename := fmt.Sprintf("podcast_%s.wav", time.Now().Format("20060102_150405"))
	outputPath := filepath.Join(s.AudioDir, filename)

	if err := s.Synthesizer.CreatePodcast(ctx, entries, outputPath, state.TTSEngine); err != nil {
		return "", fmt.Errorf("audio generation: %w", err)
	}

	state.AudioURL = filename
	state.ShowAudioForConfirmation = true
	if err := s.Store.SaveState(sessionID, state); err != nil {
		return "", err
	}

	return fmt.Sprintf("I have completed your podcast on %q. The audio has been generated in %s. You can listen to it in the player below.",
		state.GeneratedScript.Title, state.SelectedLanguage.Name), nil
}

// FormatSearchResults renders confirmed sources into the content block the
// script model consumes, and collects the source URLs.
func FormatSearchResults(results []models.SearchResult) (string, []string) {
	if len(results) == 0 {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "PODCAST CREATION: %s\n", time.Now().Format("January 2, 2006 at 3:04 PM"))

	var sources []string
	for i, r := range results {
		sources = append(sources, r.URL)
		content := r.FullText
		if content == "" {
			content = r.Description
		}
		fmt.Fprintf(&b, "\nSOURCE %d:\nTitle: %s\nURL: %s\nContent: %s\n---END OF SOURCE %d---\n",
			i+1, r.Title, r.URL, content, i+1)
	}
	return b.String(), sources
}
