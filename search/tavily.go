package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/srgchrksv/newscaster/models"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API. It is the primary provider: AI
// optimized and reliable.
type Tavily struct {
	APIKey string
	Depth  string // basic or advanced
	client *http.Client

	endpoint string // overridable for tests
}

// NewTavily constructs a Tavily provider.
func NewTavily(apiKey string) *Tavily {
	return &Tavily{
		APIKey:   apiKey,
		Depth:    "advanced",
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: tavilyEndpoint,
	}
}

func (t *Tavily) Name() string { return "tavily_search" }

// Search posts a query to Tavily. 429 responses are retried with a doubling
// delay capped at 30s.
func (t *Tavily) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	payload, err := json.Marshal(map[string]any{
		"query":               query,
		"api_key":             t.APIKey,
		"search_depth":        t.Depth,
		"max_results":         MaxResults,
		"include_answer":      false,
		"include_raw_content": false,
	})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			Source        string `json:"source"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily decode: %w", err)
	}

	results := make([]models.SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		desc := r.Content
		if len(desc) > 500 {
			desc = desc[:500]
		}
		if desc == "" {
			desc = r.Title
		}
		source := r.Source
		if source == "" {
			source = "general"
		}
		results = append(results, models.SearchResult{
			URL:                r.URL,
			Title:              r.Title,
			Description:        desc,
			SourceName:         source,
			ToolUsed:           t.Name(),
			PublishedDate:      r.PublishedDate,
			IsScrapingRequired: true, // Tavily returns URLs, not full content
		})
		if len(results) >= MaxResults {
			break
		}
	}
	return results, nil
}
