package issuematch

import (
	"context"
	"testing"
	"time"

	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/traceback"
)

func samplePT() traceback.ParsedTraceback {
	return traceback.ParsedTraceback{
		ExceptionType:    "ValueError",
		ExceptionMessage: "invalid literal for int() with base 10: 'abc'",
		Frames: []traceback.StackFrame{
			{File: "app/util.py", Line: 42, Func: "do_thing"},
		},
	}
}

func TestBuildQuery(t *testing.T) {
	pt := samplePT()
	q := BuildQuery(pt)
	if q == "" {
		t.Fatalf("expected non-empty query")
	}
	if !contains(q, "ValueError") {
		t.Fatalf("expected query to contain exception type, got %q", q)
	}
	if !contains(q, "util.py") {
		t.Fatalf("expected query to contain basename, got %q", q)
	}
}

func TestMatcher_TypeMatchAndOpenPreferred(t *testing.T) {
	pt := samplePT()
	candidates := []issue.SearchResult{
		{Issue: issue.Issue{Number: 2, Title: "ValueError: invalid literal", State: issue.StateOpen}},
		{Issue: issue.Issue{Number: 1, Title: "ValueError: invalid literal", State: issue.StateClosed}},
	}
	search := func(ctx context.Context, repo, query string, includeClosed bool, max int) ([]issue.SearchResult, error) {
		return candidates, nil
	}
	cfg := DefaultConfig()
	cfg.IncludeClosed = true
	m, err := New(cfg, search, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	matches, err := m.Match(context.Background(), "acme/widgets", pt)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Issue.Number != 2 || matches[0].Issue.State != issue.StateOpen {
		t.Fatalf("expected open issue ranked first on tie, got %+v", matches[0])
	}
}

func TestMatcher_ExcludesClosedByDefault(t *testing.T) {
	pt := samplePT()
	candidates := []issue.SearchResult{
		{Issue: issue.Issue{Number: 1, Title: "ValueError: invalid literal", State: issue.StateClosed}},
	}
	search := func(ctx context.Context, repo, query string, includeClosed bool, max int) ([]issue.SearchResult, error) {
		return candidates, nil
	}
	m, err := New(DefaultConfig(), search, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	matches, err := m.Match(context.Background(), "acme/widgets", pt)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected closed issue excluded, got %+v", matches)
	}
}

func TestMatcher_CachesSearchWithinTTL(t *testing.T) {
	pt := samplePT()
	calls := 0
	search := func(ctx context.Context, repo, query string, includeClosed bool, max int) ([]issue.SearchResult, error) {
		calls++
		return nil, nil
	}
	cfg := DefaultConfig()
	cfg.SearchCacheTTL = time.Minute
	m, err := New(cfg, search, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Match(context.Background(), "acme/widgets", pt); err != nil {
			t.Fatalf("Match: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 underlying search call, got %d", calls)
	}
}

func TestWeights_ValidateRejectsBadSum(t *testing.T) {
	w := Weights{Type: 0.5, Message: 0.5, Frames: 0.5, Semantic: 0.5}
	if err := w.Validate(); err == nil {
		t.Fatalf("expected validation error for weights summing to 2")
	}
}

func TestComposite_BoundedByZeroOne(t *testing.T) {
	w := DefaultWeights()
	s := signals{typeMatch: 1, msgMatch: 1, frameOverlap: 1, semantic: 1}
	c := composite(w, s)
	if c < 0 || c > 1 {
		t.Fatalf("expected composite in [0,1], got %f", c)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (haystack == needle || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
