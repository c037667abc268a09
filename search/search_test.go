package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srgchrksv/newscaster/models"
)

type fakeProvider struct {
	name    string
	results []models.SearchResult
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	f.calls++
	return f.results, f.err
}

func fakeResults(prefix string, n int) []models.SearchResult {
	out := make([]models.SearchResult, n)
	for i := range out {
		out[i] = models.SearchResult{
			URL:   fmt.Sprintf("https://%s.example/%d", prefix, i),
			Title: fmt.Sprintf("%s %d", prefix, i),
		}
	}
	return out
}

func TestChainProviders(t *testing.T) {
	chain := NewChain(&fakeProvider{name: "primary"}, &fakeProvider{name: "backup"})
	if got := chain.Providers(); len(got) != 2 || got[0] != "primary" || got[1] != "backup" {
		t.Errorf("Providers() = %v", got)
	}
}

func TestChainCapsResults(t *testing.T) {
	p := &fakeProvider{name: "primary", results: fakeResults("a", 9)}
	chain := NewChain(p)

	results, err := chain.Search(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != MaxResults {
		t.Fatalf("got %d results, want %d", len(results), MaxResults)
	}
}

func TestChainTopsUpFromBackup(t *testing.T) {
	primary := &fakeProvider{name: "primary", results: fakeResults("a", 2)}
	backup := &fakeProvider{name: "backup", results: fakeResults("b", 9)}
	chain := NewChain(primary, backup)

	results, err := chain.Search(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != MaxResults {
		t.Fatalf("got %d results, want %d", len(results), MaxResults)
	}
	// Primary results come first.
	if results[0].URL != "https://a.example/0" || results[2].URL != "https://b.example/0" {
		t.Errorf("order wrong: %v, %v", results[0].URL, results[2].URL)
	}
}

func TestChainSkipsBackupWhenFull(t *testing.T) {
	primary := &fakeProvider{name: "primary", results: fakeResults("a", 5)}
	backup := &fakeProvider{name: "backup", results: fakeResults("b", 5)}
	chain := NewChain(primary, backup)

	if _, err := chain.Search(context.Background(), "golang"); err != nil {
		t.Fatal(err)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestChainDeduplicatesByURL(t *testing.T) {
	dup := fakeResults("a", 2)
	primary := &fakeProvider{name: "primary", results: dup}
	backup := &fakeProvider{name: "backup", results: append(fakeResults("a", 2), fakeResults("b", 1)...)}
	chain := NewChain(primary, backup)

	results, err := chain.Search(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 after dedup", len(results))
	}
}

func TestChainFallsThroughOnError(t *testing.T) {
	broken := &fakeProvider{name: "broken", err: errors.New("quota exceeded")}
	backup := &fakeProvider{name: "backup", results: fakeResults("b", 3)}
	chain := NewChain(broken, backup)

	results, err := chain.Search(context.Background(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	chain := NewChain(
		&fakeProvider{name: "one", err: errors.New("down")},
		&fakeProvider{name: "two", err: errors.New("also down")},
	)
	if _, err := chain.Search(context.Background(), "golang"); err == nil {
		t.Fatal("expected error when every provider fails")
	}

	empty := NewChain()
	if _, err := empty.Search(context.Background(), "golang"); err == nil {
		t.Fatal("expected error for empty chain")
	}
}
