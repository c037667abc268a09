package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

// ScriptModelID is the model used for script generation. The heavier pro
// model writes noticeably better dialogue than flash.
const ScriptModelID = "gemini-2.5-pro"

const scriptInstructions = `You are a helpful assistant that generates engaging, CONVERSATIONAL podcast scripts between two hosts discussing the given content.

CRITICAL CONVERSATION RULES:
- This is a DIALOGUE, not speeches. Alex and Morgan should have a natural back-and-forth conversation.
- EACH DIALOG TURN MUST BE SHORT: Maximum 2-3 sentences per speaker before the other responds.
- Speakers should frequently react to each other and build on each other's points.
- Avoid long monologues - break complex explanations into short turns with the other host asking clarifying questions.

PERSONALITY NOTES:
- Alex is more analytical and fact-focused (references data, explains technical concepts).
- Morgan is more focused on human impact and practical applications.

CONTENT GUIDELINES:
- Cover the key points from the sources through natural discussion.
- This podcast is for a GENERAL AUDIENCE: explain jargon in simple language, use analogies and everyday examples.

IMPORTANT: Generate the entire script in the requested language (only the text field needs translation). Speaker names stay ALEX and MORGAN.`

// scriptSchema is the structured-response schema for PodcastScript.
var scriptSchema = &genai.Schema{
	Type:        genai.TypeObject,
	Description: "Return the generated podcast script in JSON format",
	Properties: map[string]*genai.Schema{
		"title": {
			Type:        genai.TypeString,
			Description: "The podcast episode title with date",
		},
		"sections": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"type": {
						Type:        genai.TypeString,
						Description: "The section type (intro, headlines, article, outro)",
					},
					"title": {
						Type:        genai.TypeString,
						Description: "Optional title for the section (required for article type)",
					},
					"dialog": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"speaker": {
									Type:        genai.TypeString,
									Description: "The speaker name (ALEX or MORGAN)",
								},
								"text": {
									Type:        genai.TypeString,
									Description: "The spoken text for this turn",
								},
							},
							Required: []string{"speaker", "text"},
						},
					},
				},
				Required: []string{"type", "dialog"},
			},
		},
	},
	Required: []string{"title", "sections"},
}

// Gemini wraps the script-generation model.
type Gemini struct {
	model *genai.GenerativeModel
}

// NewGemini configures a generative model for structured script output.
func NewGemini(client *genai.Client) *Gemini {
	model := client.GenerativeModel(ScriptModelID)
	model.SetTemperature(1)
	model.SetTopK(64)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(8192)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = scriptSchema
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(scriptInstructions)},
	}
	return &Gemini{model: model}
}

// GenerateScript sends the prepared source content to the model and parses
// the structured response. The usage metadata is returned for cost tracking.
func (g *Gemini) GenerateScript(ctx context.Context, prompt string) (*PodcastScript, *genai.UsageMetadata, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, nil, fmt.Errorf("generate script: %w", err)
	}
	script, err := ParseScriptResponse(resp)
	if err != nil {
		return nil, resp.UsageMetadata, err
	}
	return script, resp.UsageMetadata, nil
}

// ParseScriptResponse extracts the PodcastScript from a structured model
// response.
func ParseScriptResponse(resp *genai.GenerateContentResponse) (*PodcastScript, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("script model returned no candidates")
	}
	var script PodcastScript
	for _, part := range resp.Candidates[0].Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(txt), &script); err != nil {
			return nil, fmt.Errorf("parse script response: %w", err)
		}
	}
	if len(script.Sections) == 0 {
		return nil, fmt.Errorf("script model returned no sections")
	}
	return &script, nil
}
