// Package issuematch implements the multi-signal issue matcher (§4.4):
// query construction over a ParsedTraceback, a short TTL cache shielding
// the VCS search from repeated calls, and composite-confidence scoring
// with tie-breaking. The TTL-cache shape (mutex-guarded map, value plus
// stored-at timestamp, staleness check on read) is grounded on
// agents/telegram-bot/main.go's statusCache/statusCacheAt pattern.
package issuematch

import (
	"context"
	"sync"
	"time"

	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/traceback"
)

// Searcher is the subset of VCSProvider the matcher depends on.
type Searcher func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error)

// SemanticScorer is the subset of LLMProvider the matcher depends on. It
// returns a similarity score in [0,1] per candidate issue number. A nil
// SemanticScorer yields semantic=0 for every candidate, per §4.4 ("0 if
// LLM unavailable").
type SemanticScorer func(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error)

// Config tunes the matcher per §6's recognized options.
type Config struct {
	MaxSearchResults int
	IncludeClosed    bool
	SearchCacheTTL   time.Duration
	Weights          Weights
}

// DefaultConfig returns the baseline matcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxSearchResults: 10,
		IncludeClosed:    false,
		SearchCacheTTL:   300 * time.Second,
		Weights:          DefaultWeights(),
	}
}

type cacheEntry struct {
	results  []issue.SearchResult
	storedAt time.Time
}

// Matcher ranks candidate VCS issues against a ParsedTraceback.
type Matcher struct {
	cfg      Config
	search   Searcher
	semantic SemanticScorer

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Matcher. semantic may be nil.
func New(cfg Config, search Searcher, semantic SemanticScorer) (*Matcher, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.SearchCacheTTL <= 0 {
		cfg.SearchCacheTTL = 300 * time.Second
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 10
	}
	return &Matcher{cfg: cfg, search: search, semantic: semantic, cache: map[string]cacheEntry{}}, nil
}

// Match returns IssueMatches sorted by confidence descending, length at
// most cfg.MaxSearchResults.
func (m *Matcher) Match(ctx context.Context, repo string, pt traceback.ParsedTraceback) ([]issue.Match, error) {
	query := BuildQuery(pt)
	results, err := m.searchCached(ctx, repo, query)
	if err != nil {
		return nil, err
	}

	candidates := make([]issue.Issue, len(results))
	for i, r := range results {
		candidates[i] = r.Issue
	}

	semanticScores := map[int]float64{}
	if m.semantic != nil && len(candidates) > 0 {
		scores, err := m.semantic(ctx, pt, candidates)
		if err == nil {
			semanticScores = scores
		}
	}
	semanticOf := func(c issue.Issue) float64 { return semanticScores[c.Number] }

	return rank(m.cfg.Weights, pt, candidates, semanticOf, m.cfg.IncludeClosed, m.cfg.MaxSearchResults), nil
}

func (m *Matcher) searchCached(ctx context.Context, repo, query string) ([]issue.SearchResult, error) {
	key := repo + "\x00" + query

	m.mu.Lock()
	entry, ok := m.cache[key]
	fresh := ok && time.Since(entry.storedAt) < m.cfg.SearchCacheTTL
	m.mu.Unlock()
	if fresh {
		return entry.results, nil
	}

	results, err := m.search(ctx, repo, query, m.cfg.IncludeClosed, m.cfg.MaxSearchResults)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{results: results, storedAt: time.Now()}
	m.mu.Unlock()
	return results, nil
}
