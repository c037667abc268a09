package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage values a session moves through while a podcast is produced.
const (
	StageChat     = "chat"
	StageSearch   = "search"
	StageSources  = "sources"
	StageScript   = "script"
	StageAudio    = "audio"
	StageFinished = "finished"
)

// UI toggle keys. At most one is active at a time.
const (
	UIShowSources = "show_sources_for_selection"
	UIShowScript  = "show_script_for_confirmation"
	UIShowAudio   = "show_audio_for_confirmation"
)

// ToggleUIStates lists every UI toggle the agent may flip.
var ToggleUIStates = []string{UIShowSources, UIShowScript, UIShowAudio}

// SearchResult is a single source produced by the search tools and consumed
// by the scraper and the script generator.
type SearchResult struct {
	URL                string `json:"url"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	SourceName         string `json:"source_name"`
	ToolUsed           string `json:"tool_used"`
	PublishedDate      string `json:"published_date"`
	IsScrapingRequired bool   `json:"is_scrapping_required"`
	Confirmed          bool   `json:"confirmed"`

	// Filled in by the scraper.
	FinalURL  string `json:"final_url,omitempty"`
	FullText  string `json:"full_text,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
	ScrapedAt string `json:"scraped_at,omitempty"`
}

// Speaker names the script model is instructed to use.
const (
	SpeakerAlex   = "ALEX"
	SpeakerMorgan = "MORGAN"
)

// Dialog is one spoken turn in the podcast script.
type Dialog struct {
	Speaker string `json:"speaker"` // ALEX or MORGAN
	Text    string `json:"text"`
}

// Section groups dialog turns under a section type (intro, headlines,
// article, outro). Title is required for article sections.
type Section struct {
	Type   string   `json:"type"`
	Title  string   `json:"title,omitempty"`
	Dialog []Dialog `json:"dialog"`
}

// PodcastScript is the structured output of the script model.
type PodcastScript struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Sources  []string  `json:"sources,omitempty"`
}

// Entries flattens the script into the ordered list of spoken turns the
// audio generator works with. Turns with empty text or an unknown speaker
// are dropped.
func (p PodcastScript) Entries() []Dialog {
	var entries []Dialog
	for _, section := range p.Sections {
		for _, d := range section.Dialog {
			if d.Text == "" {
				continue
			}
			if d.Speaker != SpeakerAlex && d.Speaker != SpeakerMorgan {
				continue
			}
			entries = append(entries, d)
		}
	}
	return entries
}

// Language selected for the generated script.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ChatMessage is one prior conversation turn, kept so the agent remembers
// earlier exchanges across chat turns.
type ChatMessage struct {
	Role string `json:"role"` // user or model
	Text string `json:"text"`
}

// SessionState is the whole per-conversation record. It is persisted as one
// JSON document and written back wholesale after every agent turn.
type SessionState struct {
	Stage            string         `json:"stage"`
	ChatTitle        string         `json:"chat_title,omitempty"`
	SearchResults    []SearchResult `json:"search_results,omitempty"`
	GeneratedScript  *PodcastScript `json:"generated_script,omitempty"`
	SelectedLanguage Language       `json:"selected_language"`
	AudioURL         string         `json:"audio_url,omitempty"`
	TTSEngine        string         `json:"tts_engine,omitempty"`
	History          []ChatMessage  `json:"history,omitempty"`

	ShowSourcesForSelection   bool `json:"show_sources_for_selection"`
	ShowScriptForConfirmation bool `json:"show_script_for_confirmation"`
	ShowAudioForConfirmation  bool `json:"show_audio_for_confirmation"`
}

// NewSessionState returns the initial state for a fresh session.
func NewSessionState() *SessionState {
	return &SessionState{
		Stage:            StageChat,
		SelectedLanguage: Language{Code: "en", Name: "English"},
	}
}

// ConfirmedResults returns the sources the user (or auto-selection) kept.
func (s *SessionState) ConfirmedResults() []SearchResult {
	var out []SearchResult
	for _, r := range s.SearchResults {
		if r.Confirmed {
			out = append(out, r)
		}
	}
	return out
}

// SetUIState flips one toggle and clears every other, keeping the toggles
// mutually exclusive.
func (s *SessionState) SetUIState(stateType string, active bool) error {
	switch stateType {
	case UIShowSources:
		s.ShowSourcesForSelection = active
		s.ShowScriptForConfirmation = false
		s.ShowAudioForConfirmation = false
	case UIShowScript:
		s.ShowScriptForConfirmation = active
		s.ShowSourcesForSelection = false
		s.ShowAudioForConfirmation = false
	case UIShowAudio:
		s.ShowAudioForConfirmation = active
		s.ShowSourcesForSelection = false
		s.ShowScriptForConfirmation = false
	default:
		return fmt.Errorf("unknown ui state: %s", stateType)
	}
	return nil
}

// Marshal serializes the state for storage.
func (s *SessionState) Marshal() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		data, _ = json.Marshal(NewSessionState())
	}
	return data
}

// UnmarshalSessionState parses a stored state document. Empty input yields a
// fresh initial state.
func UnmarshalSessionState(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return NewSessionState(), nil
	}
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if s.Stage == "" {
		s.Stage = StageChat
	}
	if s.SelectedLanguage.Code == "" {
		s.SelectedLanguage = Language{Code: "en", Name: "English"}
	}
	return &s, nil
}

// ChatTurnResult is what a task-queue worker returns for one chat turn.
type ChatTurnResult struct {
	SessionID    string `json:"session_id"`
	Response     string `json:"response"`
	Stage        string `json:"stage"`
	SessionState string `json:"session_state"`
	IsProcessing bool   `json:"is_processing"`
}

// Timestamp formats t the way the session state stores times.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
