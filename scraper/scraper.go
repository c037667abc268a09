// Package scraper fetches confirmed sources in parallel and extracts the
// main article text for the script generator.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/srgchrksv/newscaster/models"
)

// maxFullText caps extracted article text so one long page cannot blow up
// the script prompt.
const maxFullText = 50_000

// defaultConcurrency bounds the fetch fan-out.
const defaultConcurrency = 5

// Scraper fetches pages and extracts article content.
type Scraper struct {
	browser     *HTTPClient
	curl        *HTTPClient
	concurrency int
}

// New creates a scraper with both header presets and the default fan-out
// bound.
func New() *Scraper {
	return &Scraper{
		browser:     NewHTTPClient(BrowserClient, 30*time.Second),
		curl:        NewHTTPClient(CurlClient, 30*time.Second),
		concurrency: defaultConcurrency,
	}
}

// ScrapeResults fetches every confirmed result that still needs scraping,
// in parallel, and fills in FullText/FinalURL/Success in place. Order is
// preserved; a failed URL records its error and the rest continue.
// Unconfirmed results and results that already carry full text are left
// untouched.
func (s *Scraper) ScrapeResults(ctx context.Context, results []models.SearchResult) []models.SearchResult {
	start := time.Now()
	log.Printf("scraper: starting parallel scrape of %d sources", len(results))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	out := make([]models.SearchResult, len(results))
	copy(out, results)

	for i := range out {
		if !out[i].Confirmed || !out[i].IsScrapingRequired || out[i].URL == "" || out[i].FullText != "" {
			continue
		}
		i := i
		g.Go(func() error {
			page, err := s.ScrapeURL(ctx, out[i].URL)
			out[i].ScrapedAt = models.Timestamp(time.Now())
			if err != nil {
				// Skip this source, keep the rest going.
				out[i].Success = false
				out[i].Error = err.Error()
				log.Printf("scraper: %s failed: %v", out[i].URL, err)
				return nil
			}
			out[i].Success = true
			out[i].FinalURL = page.FinalURL
			out[i].FullText = page.Text
			if out[i].Title == "" {
				out[i].Title = page.Title
			}
			return nil
		})
	}
	g.Wait()

	success := 0
	for _, r := range out {
		if r.Success {
			success++
		}
	}
	log.Printf("scraper: done, %d/%d successful in %.1fs", success, len(results), time.Since(start).Seconds())
	return out
}

// Page is the extracted content of one URL.
type Page struct {
	FinalURL string
	Title    string
	Text     string
}

// ScrapeURL fetches a single URL and extracts its article content. The
// browser header preset is tried first; a 403 is retried with curl-like
// headers, which Cloudflare fronts tend to let through.
func (s *Scraper) ScrapeURL(ctx context.Context, pageURL string) (*Page, error) {
	finalURL, html, err := s.fetch(ctx, s.browser, pageURL)
	if err != nil && strings.Contains(err.Error(), "status 403") {
		finalURL, html, err = s.fetch(ctx, s.curl, pageURL)
	}
	if err != nil {
		return nil, err
	}

	title, text, err := Extract(html)
	if err != nil {
		return nil, err
	}
	return &Page{FinalURL: finalURL, Title: title, Text: text}, nil
}

func (s *Scraper) fetch(ctx context.Context, client *HTTPClient, pageURL string) (finalURL, html string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return resp.Request.URL.String(), string(body), nil
}

// Extract pulls the main article text and title out of an HTML document
// using readability, with a goquery fallback for the title. Text is capped
// at maxFullText characters.
func Extract(html string) (title, text string, err error) {
	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil {
		return "", "", fmt.Errorf("extract article: %w", err)
	}
	title = strings.TrimSpace(article.Title)
	text = strings.TrimSpace(article.TextContent)

	if title == "" {
		title = extractTitleFallback(html)
	}
	if text == "" {
		return "", "", fmt.Errorf("no article text found")
	}
	if len(text) > maxFullText {
		text = text[:maxFullText]
	}
	return title, text, nil
}

// extractTitleFallback tries og:title and then the <title> element.
func extractTitleFallback(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
