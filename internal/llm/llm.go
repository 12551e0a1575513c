// Package llm defines the LLM capability set (§6) and its value types.
// The LLM is untrusted output: every adapter method's return value must be
// schema-validated and length-capped before the pipeline trusts it (§7).
package llm

import (
	"context"

	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/traceback"
)

// SuggestedFix is one proposed code change within an ErrorAnalysis.
type SuggestedFix struct {
	Description   string
	FilePath      string
	OriginalCode  string
	FixedCode     string
	Confidence    float64 // [0,1]
}

// Severity classifies an ErrorAnalysis per §3.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorAnalysis is the LLM's structured assessment of a traceback, per §3.
type ErrorAnalysis struct {
	RootCause      string
	Explanation    string
	SuggestedFixes []SuggestedFix
	RelatedDocs    []string
	Severity       Severity
	Confidence     float64 // [0,1]
}

// Provider is the capability set an LLM transport must implement.
// model_name and max_context_tokens are read-only attributes exposed as
// methods rather than struct fields so implementations may compute them.
type Provider interface {
	AnalyzeError(ctx context.Context, pt traceback.ParsedTraceback, code []codeanalyzer.CodeContext, extra string) (ErrorAnalysis, error)
	GenerateIssueTitle(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis) (string, error)
	GenerateIssueBody(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis, code []codeanalyzer.CodeContext) (string, error)
	CalculateSimilarity(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error)
	ModelName() string
	MaxContextTokens() int
}

const (
	maxTitleChars = 80
	maxBodyChars  = 10000
)
