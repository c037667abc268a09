// Package costs records per-call token usage and dollar cost for Gemini API
// calls in a local SQLite table.
package costs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Pricing per 1M tokens, from the published Gemini price sheet.
type modelPricing struct {
	Input       float64
	Output      float64
	InputLarge  float64 // tiered rate above the large-prompt threshold, 0 when flat
	OutputLarge float64
}

// largePromptThreshold is where gemini-2.5-pro switches to its higher tier.
const largePromptThreshold = 200_000

var pricing = map[string]modelPricing{
	"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":   {Input: 1.25, Output: 10.00, InputLarge: 2.50, OutputLarge: 15.00},
}

// defaultPricingModel is used for models missing from the table.
const defaultPricingModel = "gemini-2.5-flash"

// Record is one tracked API call.
type Record struct {
	CallID       string
	Model        string
	InputTokens  int64
	OutputTokens int64
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
	Context      string
	Timestamp    time.Time
}

// Summary aggregates tracked calls.
type Summary struct {
	TotalInputCost    float64 `json:"total_input_cost"`
	TotalOutputCost   float64 `json:"total_output_cost"`
	TotalCost         float64 `json:"total_cost"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCalls        int64   `json:"total_calls"`
}

// Filter narrows a summary query. Zero values mean no constraint.
type Filter struct {
	Start   time.Time
	End     time.Time
	Model   string
	Context string
}

// Tracker stores cost records in SQLite.
type Tracker struct {
	db *sql.DB
}

const trackerSchema = `
CREATE TABLE IF NOT EXISTS api_calls (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id       TEXT UNIQUE NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL,
	input_cost    REAL NOT NULL,
	output_cost   REAL NOT NULL,
	total_cost    REAL NOT NULL,
	context       TEXT,
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_api_calls_model ON api_calls(model);
CREATE INDEX IF NOT EXISTS idx_api_calls_context ON api_calls(context);
`

// Open opens (and if needed creates) the cost database.
func Open(path string) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cost database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cost database: %w", err)
	}
	if _, err := db.Exec(trackerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create api_calls table: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Close closes the underlying database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Cost computes the dollar cost of a call under the static price table.
// gemini-2.5-pro is tiered on prompt size; flash models are flat.
func Cost(model string, inputTokens, outputTokens int64) (inputCost, outputCost float64) {
	p, ok := pricing[model]
	if !ok {
		p = pricing[defaultPricingModel]
	}
	inRate, outRate := p.Input, p.Output
	if p.InputLarge > 0 && inputTokens > largePromptThreshold {
		inRate, outRate = p.InputLarge, p.OutputLarge
	}
	inputCost = float64(inputTokens) / 1_000_000 * inRate
	outputCost = float64(outputTokens) / 1_000_000 * outRate
	return inputCost, outputCost
}

// TrackUsage builds and stores a record from a model response's usage
// metadata. A nil usage (response without metadata) is ignored.
func (t *Tracker) TrackUsage(usage *genai.UsageMetadata, model, context string) (*Record, error) {
	if usage == nil {
		return nil, nil
	}
	return t.TrackTokens(int64(usage.PromptTokenCount), int64(usage.CandidatesTokenCount), model, context)
}

// TrackTokens stores a record for an explicit token count.
func (t *Tracker) TrackTokens(inputTokens, outputTokens int64, model, context string) (*Record, error) {
	inputCost, outputCost := Cost(model, inputTokens, outputTokens)
	rec := &Record{
		CallID:       "call_" + uuid.New().String(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		Context:      context,
		Timestamp:    time.Now(),
	}
	if err := t.insert(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Tracker) insert(rec *Record) error {
	_, err := t.db.Exec(`
		INSERT OR REPLACE INTO api_calls
		(call_id, model, input_tokens, output_tokens, total_tokens,
		 input_cost, output_cost, total_cost, context, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CallID, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.InputTokens+rec.OutputTokens,
		rec.InputCost, rec.OutputCost, rec.TotalCost,
		rec.Context, rec.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// Summarize aggregates records matching the filter.
func (t *Tracker) Summarize(f Filter) (Summary, error) {
	query := `SELECT COALESCE(SUM(input_cost),0), COALESCE(SUM(output_cost),0), COALESCE(SUM(total_cost),0),
		COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COUNT(*)
		FROM api_calls WHERE 1=1`
	var args []any
	if !f.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Start.Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.End.Format(time.RFC3339))
	}
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	if f.Context != "" {
		query += " AND context = ?"
		args = append(args, f.Context)
	}

	var s Summary
	err := t.db.QueryRow(query, args...).Scan(
		&s.TotalInputCost, &s.TotalOutputCost, &s.TotalCost,
		&s.TotalInputTokens, &s.TotalOutputTokens, &s.TotalCalls,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize costs: %w", err)
	}
	return s, nil
}
