package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/google/generative-ai-go/genai"

	"github.com/srgchrksv/newscaster/models"
)

// toolDeclarations describes the fixed toolset exposed to the model. The
// model drives the pipeline by calling these; each call mutates the session
// state and returns a status string.
func toolDeclarations() []*genai.Tool {
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "web_search",
				Description: "Search the web and news sources for exactly 5 high-quality sources about a topic. Create a focused search topic from the user's query instead of applying it blindly.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {Type: genai.TypeString, Description: "The search query"},
					},
					Required: []string{"query"},
				},
			},
			{
				Name:        "select_sources",
				Description: "Confirm which search results to use, by 1-based index. Call with no indices to auto-select all sources (fast mode).",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"selected_sources": {
							Type:        genai.TypeArray,
							Items:       &genai.Schema{Type: genai.TypeInteger},
							Description: "1-based indices of the sources to confirm; empty selects all",
						},
					},
				},
			},
			{
				Name:        "scrape_sources",
				Description: "Fetch the full article text for every confirmed source that needs scraping. Call after select_sources and before generate_script.",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			{
				Name:        "set_language",
				Description: "Set the language the podcast script should be generated in.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"code": {Type: genai.TypeString, Description: "ISO language code, e.g. en"},
						"name": {Type: genai.TypeString, Description: "Language name, e.g. English"},
					},
					Required: []string{"code", "name"},
				},
			},
			{
				Name:        "generate_script",
				Description: "Generate the two-host podcast script from the confirmed sources in the selected language.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {Type: genai.TypeString, Description: "The topic the podcast is about"},
					},
					Required: []string{"query"},
				},
			},
			{
				Name:        "generate_audio",
				Description: "Synthesize the generated script into the final podcast audio file. Call immediately after generate_script succeeds.",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			{
				Name:        "set_ui_state",
				Description: "Toggle a frontend UI state flag. All other toggles are cleared.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"state_type": {Type: genai.TypeString, Description: "One of show_sources_for_selection, show_script_for_confirmation, show_audio_for_confirmation"},
						"active":     {Type: genai.TypeBoolean, Description: "Whether the state is active"},
					},
					Required: []string{"state_type", "active"},
				},
			},
			{
				Name:        "set_chat_title",
				Description: "Set a short descriptive title for this conversation.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title": {Type: genai.TypeString, Description: "The chat title"},
					},
					Required: []string{"title"},
				},
			},
			{
				Name:        "finish_session",
				Description: "Mark the session finished once the user confirms the podcast sounds good.",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
		},
	}}
}

// dispatch executes one tool call against the session state. Errors become
// strings handed back to the model; the loop never aborts on a tool failure.
func (a *Agent) dispatch(ctx context.Context, sessionID string, state *models.SessionState, call genai.FunctionCall) string {
	log.Printf("agent: tool %s (session %s)", call.Name, sessionID)

	result, err := a.execute(ctx, sessionID, state, call)
	if err != nil {
		log.Printf("agent: tool %s failed: %v", call.Name, err)
		return fmt.Sprintf("Error in %s: %v. Try again or use a different approach.", call.Name, err)
	}
	return result
}

func (a *Agent) execute(ctx context.Context, sessionID string, state *models.SessionState, call genai.FunctionCall) (string, error) {
	switch call.Name {
	case "web_search":
		query := argString(call.Args, "query")
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		return a.services.SearchSources(ctx, sessionID, state, query)

	case "select_sources":
		return a.services.SelectSources(sessionID, state, argIntSlice(call.Args, "selected_sources"))

	case "scrape_sources":
		return a.services.ScrapeSources(ctx, sessionID, state)

	case "set_language":
		code, name := argString(call.Args, "code"), argString(call.Args, "name")
		if code == "" || name == "" {
			return "", fmt.Errorf("code and name are required")
		}
		state.SelectedLanguage = models.Language{Code: code, Name: name}
		if err := a.services.Store.SaveState(sessionID, state); err != nil {
			return "", err
		}
		return fmt.Sprintf("Language set to %s.", name), nil

	case "generate_script":
		query := argString(call.Args, "query")
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		return a.services.GenerateScript(ctx, sessionID, state, query)

	case "generate_audio":
		return a.services.GenerateAudio(ctx, sessionID, state)

	case "set_ui_state":
		stateType := argString(call.Args, "state_type")
		active := argBool(call.Args, "active")
		// Source selection UI stays disabled: sources are auto-selected.
		if stateType == models.UIShowSources && active {
			return "Source selection skipped - all sources are auto-selected. Proceed to script generation.", nil
		}
		if err := state.SetUIState(stateType, active); err != nil {
			return "", err
		}
		if err := a.services.Store.SaveState(sessionID, state); err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %s to %t and cleared all other UI states.", stateType, active), nil

	case "set_chat_title":
		title := argString(call.Args, "title")
		if title == "" {
			return "", fmt.Errorf("title is required")
		}
		state.ChatTitle = title
		if err := a.services.Store.SaveState(sessionID, state); err != nil {
			return "", err
		}
		return "Chat title updated.", nil

	case "finish_session":
		state.Stage = models.StageFinished
		state.ShowAudioForConfirmation = false
		if err := a.services.Store.SaveState(sessionID, state); err != nil {
			return "", err
		}
		return "Session marked as finished. Enjoy your podcast!", nil
	}
	return "", fmt.Errorf("unknown tool: %s", call.Name)
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// argIntSlice reads an integer array argument. The SDK decodes JSON
// numbers as float64.
func argIntSlice(args map[string]any, key string) []int {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
