// Package issue defines the VCS issue value types shared across the
// matcher, the pipeline, and the VCS provider adapter.
package issue

import "time"

// State is an issue's lifecycle state.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateAll    State = "all"
)

// Issue is an immutable snapshot of a VCS issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	URL       string
	State     State
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    string
}

// SearchResult pairs an Issue with the backend's own relevance score and
// the query terms it matched on.
type SearchResult struct {
	Issue        Issue
	Score        float64 // backend relevance score, in [0,1]
	MatchedTerms []string
}

// Match pairs an Issue with the matcher's composite confidence and the
// human-readable reasons that contributed to it.
type Match struct {
	Issue      Issue
	Confidence float64 // composite confidence, in [0,1]
	Reasons    []string
}

// Create is a draft issue to be submitted to the VCS provider.
type Create struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}
