package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/srgchrksv/newscaster/models"
	"github.com/srgchrksv/newscaster/services"
)

// ModelID is the model that drives the orchestration loop.
const ModelID = "gemini-2.5-flash"

// maxIterations bounds a single chat turn. Every model response that contains
// tool calls counts as one iteration.
const maxIterations = 12

// historyRuns is how many prior user/model exchanges are replayed into the
// chat session each turn.
const historyRuns = 30

const systemInstructions = `You are a research assistant that produces short news podcasts.

Workflow for a podcast request:
1. Call web_search with a focused topic derived from the user's message.
2. Call select_sources with no indices to confirm all found sources.
3. Call scrape_sources to fetch the full article texts.
4. Call generate_script with the topic. If the user asked for a specific language, call set_language first.
5. Immediately after the script is ready, call generate_audio.
6. When the audio is ready, tell the user and wait for their reaction. If they are happy, call finish_session.

Rules:
- Call set_chat_title once early in the conversation with a short descriptive title.
- Keep replies to the user short and friendly.
- If a tool reports an error, adjust and retry once before telling the user.
- For ordinary conversation that is not a podcast request, just answer, do not call tools.`

// ChatBackend is the slice of genai.ChatSession the loop needs.
type ChatBackend interface {
	Send(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type genaiChat struct {
	session *genai.ChatSession
}

func (c genaiChat) Send(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return c.session.SendMessage(ctx, parts...)
}

// Agent runs the tool-calling loop that turns one user message into state
// transitions on a session.
type Agent struct {
	model    *genai.GenerativeModel
	services *services.Services
}

func New(client *genai.Client, svcs *services.Services) *Agent {
	model := client.GenerativeModel(ModelID)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstructions)},
	}
	model.Tools = toolDeclarations()
	return &Agent{model: model, services: svcs}
}

// RunTurn processes one user message for a session and returns the assistant's
// final text reply. Prior turns are replayed into the chat session and the
// current session status is prepended, so the model keeps its place in the
// conversation. Tool calls in between mutate and persist session state.
func (a *Agent) RunTurn(ctx context.Context, sessionID, message string) (string, error) {
	state, err := a.services.Store.GetState(sessionID)
	if err != nil {
		return "", fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	chat := a.model.StartChat()
	chat.History = historyContents(state.History)

	reply, err := a.runLoop(ctx, genaiChat{chat}, sessionID, turnMessage(state, message))
	if err != nil {
		return "", err
	}

	// Tools persisted their own state changes; reload before recording the
	// exchange.
	if state, err = a.services.Store.GetState(sessionID); err == nil {
		state.History = appendHistory(state.History, message, reply)
		if err := a.services.Store.SaveState(sessionID, state); err != nil {
			log.Printf("agent: saving session %s: %v", sessionID, err)
		}
	}
	return reply, nil
}

// turnMessage prefixes the user message with a one-line session status so
// the model sees where the pipeline stands without relying on memory alone.
func turnMessage(state *models.SessionState, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[session status] stage: %s; language: %s", state.Stage, state.SelectedLanguage.Name)
	if n := len(state.SearchResults); n > 0 {
		fmt.Fprintf(&b, "; sources: %d (%d confirmed)", n, len(state.ConfirmedResults()))
	}
	if state.GeneratedScript != nil {
		fmt.Fprintf(&b, "; script: %q", state.GeneratedScript.Title)
	}
	if state.AudioURL != "" {
		fmt.Fprintf(&b, "; audio: %s", state.AudioURL)
	}
	b.WriteString("\n")
	b.WriteString(message)
	return b.String()
}

// historyContents converts stored turns into chat history.
func historyContents(msgs []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == "model" {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}
	return out
}

// appendHistory records one exchange and trims to the last historyRuns
// user/model pairs.
func appendHistory(history []models.ChatMessage, message, reply string) []models.ChatMessage {
	history = append(history,
		models.ChatMessage{Role: "user", Text: message},
		models.ChatMessage{Role: "model", Text: reply},
	)
	if max := historyRuns * 2; len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

func (a *Agent) runLoop(ctx context.Context, backend ChatBackend, sessionID, message string) (string, error) {
	parts := []genai.Part{genai.Text(message)}

	for i := 0; i < maxIterations; i++ {
		resp, err := backend.Send(ctx, parts...)
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		a.services.Costs.TrackUsage(resp.UsageMetadata, ModelID, "main_agent")

		text, calls := splitResponse(resp)
		if len(calls) == 0 {
			if text == "" {
				return "Done.", nil
			}
			return text, nil
		}

		state, err := a.services.Store.GetState(sessionID)
		if err != nil {
			return "", fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		// The chat session keeps sent parts by reference, so each batch
		// gets a fresh slice.
		parts = make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			result := a.dispatch(ctx, sessionID, state, call)
			parts = append(parts, genai.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"result": result},
			})
		}
	}
	return "", fmt.Errorf("gave up after %d tool iterations", maxIterations)
}

// splitResponse separates the text and function-call parts of a model
// response.
func splitResponse(resp *genai.GenerateContentResponse) (string, []genai.FunctionCall) {
	var (
		text  strings.Builder
		calls []genai.FunctionCall
	)
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text.WriteString(string(p))
			case genai.FunctionCall:
				calls = append(calls, p)
			}
		}
	}
	return strings.TrimSpace(text.String()), calls
}
