package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/srgchrksv/newscaster/models"
)

const duckDuckGoEndpoint = "https://lite.duckduckgo.com/lite/"

// ddgRateLimit enforces 1 query per second globally across all DuckDuckGo
// instances and goroutines.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGo scrapes the DuckDuckGo lite HTML interface. It needs no API
// key, which makes it the backup of last resort.
type DuckDuckGo struct {
	client *http.Client

	endpoint string // overridable for tests
}

// NewDuckDuckGo constructs a DuckDuckGo provider.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: duckDuckGoEndpoint,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search posts the query to the lite endpoint and parses the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	// Global 1 QPS gate.
	ddgRateLimit.mu.Lock()
	if wait := time.Until(ddgRateLimit.last.Add(time.Second)); wait > 0 {
		ddgRateLimit.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		ddgRateLimit.mu.Lock()
	}
	ddgRateLimit.last = time.Now()
	ddgRateLimit.mu.Unlock()

	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}
	return d.parseLite(doc), nil
}

// parseLite walks the lite result table. Result links carry the
// result-link class; the snippet sits in the following result-snippet cell.
func (d *DuckDuckGo) parseLite(doc *goquery.Document) []models.SearchResult {
	var results []models.SearchResult
	doc.Find("a.result-link").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		href = cleanDuckDuckGoURL(href)
		if href == "" {
			return true
		}
		snippet := sel.Closest("tr").NextFiltered("tr").Find("td.result-snippet").Text()
		results = append(results, models.SearchResult{
			URL:                href,
			Title:              strings.TrimSpace(sel.Text()),
			Description:        strings.TrimSpace(snippet),
			SourceName:         "general",
			ToolUsed:           d.Name(),
			IsScrapingRequired: true,
		})
		return len(results) < MaxResults
	})
	return results
}

// cleanDuckDuckGoURL unwraps the //duckduckgo.com/l/?uddg= redirect links
// the lite interface emits.
func cleanDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.Contains(u.Host, "duckduckgo.com") && u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	return href
}
