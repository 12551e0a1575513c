package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/redact"
	"silexa/triagebot/internal/retrypolicy"
	"silexa/triagebot/internal/traceback"
)

// GenAIProvider adapts google.golang.org/genai to the Provider interface.
// Schema-constrained generation (ResponseMIMEType + ResponseSchema) mirrors
// client_gemini.go's CompleteWithSchema; the per-call spacing mutex is
// grounded on the same file's lastRequest/100ms throttle, retuned to the
// shared retrypolicy backoff rather than an ad hoc sleep.
type GenAIProvider struct {
	client   *genai.Client
	model    string
	maxCtx   int
	events   eventlog.Logger
	redactor *redact.Redactor

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGenAIProvider builds a provider against the Gemini API backend.
func NewGenAIProvider(ctx context.Context, apiKey, model string, maxContextTokens int, events eventlog.Logger, redactor *redact.Redactor) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthentication, "genai client init failed", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxContextTokens <= 0 {
		maxContextTokens = 1_000_000
	}
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &GenAIProvider{client: client, model: model, maxCtx: maxContextTokens, events: events, redactor: redactor}, nil
}

func (p *GenAIProvider) ModelName() string      { return p.model }
func (p *GenAIProvider) MaxContextTokens() int  { return p.maxCtx }

func (p *GenAIProvider) logEvent(event string, fields map[string]any) {
	rec := map[string]any{"event": event, "provider": "genai", "model": p.model}
	for k, v := range fields {
		rec[k] = v
	}
	p.events.Log(rec)
}

// throttle enforces a minimum spacing between calls, the same shape as
// client_gemini.go's lastRequest check but using retrypolicy's sleep.
func (p *GenAIProvider) throttle(ctx context.Context) {
	p.mu.Lock()
	elapsed := time.Since(p.lastRequest)
	p.lastRequest = time.Now()
	p.mu.Unlock()
	const minSpacing = 100 * time.Millisecond
	if elapsed < minSpacing {
		_ = retrypolicy.Sleep(ctx, minSpacing-elapsed)
	}
}

// generateJSON issues a schema-constrained generation call with up to
// retrypolicy.MaxAttempts retries, per spec §5's retry budget. A response
// that fails schema validation gets the next attempt's system prompt
// augmented with a stricter instruction reminder rather than being
// resent verbatim, per §7's "single retry with a stricter instruction
// reminder" rule.
func (p *GenAIProvider) generateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *genai.Schema, out any) error {
	var lastErr error
	currentSystem := systemPrompt
	for attempt := 0; attempt < retrypolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := retrypolicy.Sleep(ctx, retrypolicy.BackoffDelay(attempt)); err != nil {
				return err
			}
		}
		p.throttle(ctx)

		cfg := &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		}
		if currentSystem != "" {
			cfg.SystemInstruction = genai.NewContentFromText(currentSystem, genai.RoleUser)
		}

		resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(userPrompt), cfg)
		if err != nil {
			lastErr = errs.Wrap(errs.KindNetworkError, "genai request failed", err)
			continue
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			lastErr = errs.New(errs.KindLLMOutputInvalid, "genai returned empty completion")
			currentSystem = systemPrompt + strictReminder
			continue
		}
		if err := json.Unmarshal([]byte(text), out); err != nil {
			lastErr = errs.Wrap(errs.KindLLMOutputInvalid, "genai response failed schema validation", err)
			currentSystem = systemPrompt + strictReminder
			continue
		}
		return nil
	}
	return lastErr
}

type analysisWire struct {
	RootCause      string          `json:"root_cause"`
	Explanation    string          `json:"explanation"`
	SuggestedFixes []fixWire       `json:"suggested_fixes"`
	RelatedDocs    []string        `json:"related_docs"`
	Severity       string          `json:"severity"`
	Confidence     float64         `json:"confidence"`
}

type fixWire struct {
	Description  string  `json:"description"`
	FilePath     string  `json:"file_path"`
	OriginalCode string  `json:"original_code"`
	FixedCode    string  `json:"fixed_code"`
	Confidence   float64 `json:"confidence"`
}

func errorAnalysisSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"root_cause":  {Type: genai.TypeString},
			"explanation": {Type: genai.TypeString},
			"suggested_fixes": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"description":   {Type: genai.TypeString},
						"file_path":     {Type: genai.TypeString},
						"original_code": {Type: genai.TypeString},
						"fixed_code":    {Type: genai.TypeString},
						"confidence":    {Type: genai.TypeNumber},
					},
					Required: []string{"description", "file_path"},
				},
			},
			"related_docs": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"severity":     {Type: genai.TypeString, Enum: []string{"low", "medium", "high", "critical"}},
			"confidence":   {Type: genai.TypeNumber},
		},
		Required: []string{"root_cause", "severity", "confidence"},
	}
}

func renderCodeContext(code []codeanalyzer.CodeContext) string {
	var b strings.Builder
	for _, c := range code {
		fmt.Fprintf(&b, "--- %s (lines %d-%d) ---\n%s\n\n", c.Path, c.StartLine, c.EndLine, c.Content)
	}
	return b.String()
}

// AnalyzeError asks the model for a root-cause ErrorAnalysis over the
// traceback and its extracted code context.
func (p *GenAIProvider) AnalyzeError(ctx context.Context, pt traceback.ParsedTraceback, code []codeanalyzer.CodeContext, extra string) (ErrorAnalysis, error) {
	codeText := renderCodeContext(code)
	if err := detectPromptInjection(map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
		"code_context":      codeText,
		"extra_notes":       extra,
	}); err != nil {
		return ErrorAnalysis{}, err
	}

	system := withGuard("You are a senior engineer triaging a Python exception. Respond only with JSON matching the provided schema.")
	prompt := fmt.Sprintf("Traceback:\n%s\n\n%s\n\n%s\n\n%s",
		pt.Signature(),
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("code_context", codeText),
		wrapUserData("extra_notes", extra))

	var wire analysisWire
	if err := p.generateJSON(ctx, system, prompt, errorAnalysisSchema(), &wire); err != nil {
		return ErrorAnalysis{}, err
	}

	fixes := make([]SuggestedFix, 0, len(wire.SuggestedFixes))
	for _, f := range wire.SuggestedFixes {
		fixes = append(fixes, SuggestedFix{
			Description:  f.Description,
			FilePath:     f.FilePath,
			OriginalCode: f.OriginalCode,
			FixedCode:    f.FixedCode,
			Confidence:   f.Confidence,
		})
	}
	analysis := ErrorAnalysis{
		RootCause:      wire.RootCause,
		Explanation:    wire.Explanation,
		SuggestedFixes: fixes,
		RelatedDocs:    wire.RelatedDocs,
		Severity:       Severity(wire.Severity),
		Confidence:     wire.Confidence,
	}
	if err := ValidateErrorAnalysis(analysis); err != nil {
		return ErrorAnalysis{}, err
	}
	p.logEvent("analyze_error", map[string]any{"severity": analysis.Severity, "confidence": analysis.Confidence})
	return analysis, nil
}

// GenerateIssueTitle asks the model for a ≤80 char issue title.
func (p *GenAIProvider) GenerateIssueTitle(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis) (string, error) {
	if err := detectPromptInjection(map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
		"root_cause":        analysis.RootCause,
	}); err != nil {
		return "", err
	}

	system := withGuard("Write a single-line GitHub issue title, at most 80 characters, no quotes. Respond only with JSON: {\"title\": \"...\"}.")
	prompt := fmt.Sprintf("%s\n%s",
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("root_cause", analysis.RootCause))

	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"title": {Type: genai.TypeString}},
		Required:   []string{"title"},
	}
	var wire struct {
		Title string `json:"title"`
	}
	if err := p.generateJSON(ctx, system, prompt, schema, &wire); err != nil {
		return "", err
	}
	return ValidateTitle(wire.Title)
}

// GenerateIssueBody asks the model for a ≤10000 char markdown issue body.
func (p *GenAIProvider) GenerateIssueBody(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis, code []codeanalyzer.CodeContext) (string, error) {
	codeText := renderCodeContext(code)
	if err := detectPromptInjection(map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
		"root_cause":        analysis.RootCause,
		"explanation":       analysis.Explanation,
		"code_context":      codeText,
	}); err != nil {
		return "", err
	}

	system := withGuard("Write a GitHub issue body in markdown, at most 10000 characters. Respond only with JSON: {\"body\": \"...\"}.")
	prompt := fmt.Sprintf("Traceback:\n%s\n\n%s\n\n%s\n\n%s",
		pt.Signature(),
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("analysis", fmt.Sprintf("Root cause: %s\nExplanation: %s", analysis.RootCause, analysis.Explanation)),
		wrapUserData("code_context", codeText))

	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"body": {Type: genai.TypeString}},
		Required:   []string{"body"},
	}
	var wire struct {
		Body string `json:"body"`
	}
	if err := p.generateJSON(ctx, system, prompt, schema, &wire); err != nil {
		return "", err
	}
	body, err := ValidateBody(wire.Body)
	if err != nil {
		return "", err
	}
	if p.redactor != nil {
		body = p.redactor.MustRedact(body)
	}
	return body, nil
}

// CalculateSimilarity asks the model to score each candidate issue's
// similarity to pt, feeding the matcher's semantic signal (§4.4).
func (p *GenAIProvider) CalculateSimilarity(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error) {
	if len(candidates) == 0 {
		return map[int]float64{}, nil
	}
	fields := map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
	}
	var candidateText strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&candidateText, "#%d %s\n", c.Number, c.Title)
		fields[fmt.Sprintf("candidate_%d_title", c.Number)] = c.Title
	}
	if err := detectPromptInjection(fields); err != nil {
		return nil, err
	}

	system := withGuard("Score how likely each candidate issue describes the same root cause as the traceback, 0 to 1. Respond only with JSON: {\"scores\": {\"<issue_number>\": <float>, ...}}.")
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s",
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("candidate_issues", candidateText.String()))

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"scores": {Type: genai.TypeObject},
		},
		Required: []string{"scores"},
	}
	var wire struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := p.generateJSON(ctx, system, b.String(), schema, &wire); err != nil {
		return nil, err
	}

	out := make(map[int]float64, len(wire.Scores))
	for numStr, score := range wire.Scores {
		var n int
		if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
			continue
		}
		out[n] = score
	}
	if err := ValidateSimilarity(out); err != nil {
		return nil, err
	}
	return out, nil
}
