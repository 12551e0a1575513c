package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/httpx"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/redact"
	"silexa/triagebot/internal/retrypolicy"
	"silexa/triagebot/internal/traceback"
)

// OllamaProvider adapts a local Ollama server's /api/generate endpoint to
// the Provider interface for on-prem deployments. Its request shape
// (struct body, http.NewRequestWithContext, json.Unmarshal the response)
// is grounded on client_gemini.go's raw-HTTP pattern, since Ollama has no
// genai-style SDK in the retrieval pack. The base URL is validated against
// loopback addresses at construction time unless allowRemoteHost is set,
// per spec.md §9's allow_remote_ollama_host Open Question.
type OllamaProvider struct {
	baseURL    string
	model      string
	maxCtx     int
	httpClient *http.Client
	events     eventlog.Logger
	redactor   *redact.Redactor
}

// NewOllamaProvider builds a provider against baseURL. Returns
// PolicyViolation if baseURL does not resolve to a loopback address and
// allowRemoteHost is false.
func NewOllamaProvider(baseURL, model string, maxContextTokens int, allowRemoteHost bool, events eventlog.Logger, redactor *redact.Redactor) (*OllamaProvider, error) {
	if err := validateOllamaHost(baseURL, allowRemoteHost); err != nil {
		return nil, err
	}
	if model == "" {
		model = "llama3"
	}
	if maxContextTokens <= 0 {
		maxContextTokens = 8192
	}
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxCtx:     maxContextTokens,
		httpClient: httpx.SharedClient(60 * time.Second),
		events:     events,
		redactor:   redactor,
	}, nil
}

// validateOllamaHost rejects non-loopback hosts unless explicitly allowed,
// preventing a misconfigured base URL from turning the LLM adapter into an
// SSRF vector against the deployment's internal network.
func validateOllamaHost(baseURL string, allowRemoteHost bool) error {
	if allowRemoteHost {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "invalid ollama base url", err)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return errs.New(errs.KindPolicyViolation, fmt.Sprintf("ollama base url %q is not loopback; set allow_remote_ollama_host to permit", baseURL))
	}
	return nil
}

func (p *OllamaProvider) ModelName() string     { return p.model }
func (p *OllamaProvider) MaxContextTokens() int { return p.maxCtx }

func (p *OllamaProvider) logEvent(event string, fields map[string]any) {
	rec := map[string]any{"event": event, "provider": "ollama", "model": p.model}
	for k, v := range fields {
		rec[k] = v
	}
	p.events.Log(rec)
}

type ollamaGenerateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	System  string `json:"system,omitempty"`
	Stream  bool   `json:"stream"`
	Format  string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// generateJSON issues a generate call with up to retrypolicy.MaxAttempts
// retries. A response that fails schema validation gets the next
// attempt's system prompt augmented with a stricter instruction
// reminder rather than being resent verbatim, per §7's "single retry
// with a stricter instruction reminder" rule.
func (p *OllamaProvider) generateJSON(ctx context.Context, systemPrompt, prompt string, out any) error {
	var lastErr error
	currentSystem := systemPrompt
	for attempt := 0; attempt < retrypolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := retrypolicy.Sleep(ctx, retrypolicy.BackoffDelay(attempt)); err != nil {
				return err
			}
		}

		reqBody, err := json.Marshal(ollamaGenerateRequest{
			Model:  p.model,
			Prompt: prompt,
			System: currentSystem,
			Stream: false,
			Format: "json",
		})
		if err != nil {
			return errs.Wrap(errs.KindInvalidInput, "failed to encode ollama request", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(reqBody))
		if err != nil {
			return errs.Wrap(errs.KindInvalidInput, "failed to build ollama request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = errs.Wrap(errs.KindNetworkError, "ollama request failed", err)
			continue
		}
		var decoded ollamaGenerateResponse
		decErr := json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = errs.New(errs.KindNetworkError, fmt.Sprintf("ollama returned status %d", resp.StatusCode))
			continue
		}
		if decErr != nil {
			lastErr = errs.Wrap(errs.KindLLMOutputInvalid, "failed to decode ollama response", decErr)
			continue
		}
		if strings.TrimSpace(decoded.Response) == "" {
			lastErr = errs.New(errs.KindLLMOutputInvalid, "ollama returned empty completion")
			currentSystem = systemPrompt + strictReminder
			continue
		}
		if err := json.Unmarshal([]byte(decoded.Response), out); err != nil {
			lastErr = errs.Wrap(errs.KindLLMOutputInvalid, "ollama response failed schema validation", err)
			currentSystem = systemPrompt + strictReminder
			continue
		}
		return nil
	}
	return lastErr
}

// AnalyzeError mirrors GenAIProvider.AnalyzeError against a local model.
func (p *OllamaProvider) AnalyzeError(ctx context.Context, pt traceback.ParsedTraceback, code []codeanalyzer.CodeContext, extra string) (ErrorAnalysis, error) {
	codeText := renderCodeContext(code)
	if err := detectPromptInjection(map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
		"code_context":      codeText,
		"extra_notes":       extra,
	}); err != nil {
		return ErrorAnalysis{}, err
	}

	system := withGuard(`Respond only with JSON: {"root_cause":"...","explanation":"...","suggested_fixes":[{"description":"...","file_path":"...","original_code":"...","fixed_code":"...","confidence":0.0}],"related_docs":["..."],"severity":"low|medium|high|critical","confidence":0.0}`)
	prompt := fmt.Sprintf("Traceback:\n%s\n\n%s\n\n%s\n\n%s",
		pt.Signature(),
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("code_context", codeText),
		wrapUserData("extra_notes", extra))

	var wire analysisWire
	if err := p.generateJSON(ctx, system, prompt, &wire); err != nil {
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
	p.logEvent("analyze_error", map[string]any{"severity": analysis.Severity})
	return analysis, nil
}

// GenerateIssueTitle mirrors GenAIProvider.GenerateIssueTitle.
func (p *OllamaProvider) GenerateIssueTitle(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis) (string, error) {
	if err := detectPromptInjection(map[string]string{
		"exception_type":    pt.ExceptionType,
		"exception_message": pt.ExceptionMessage,
		"root_cause":        analysis.RootCause,
	}); err != nil {
		return "", err
	}

	system := withGuard(`Respond only with JSON: {"title":"..."} — at most 80 characters, no quotes.`)
	prompt := fmt.Sprintf("%s\n%s",
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("root_cause", analysis.RootCause))
	var wire struct {
		Title string `json:"title"`
	}
	if err := p.generateJSON(ctx, system, prompt, &wire); err != nil {
		return "", err
	}
	return ValidateTitle(wire.Title)
}

// GenerateIssueBody mirrors GenAIProvider.GenerateIssueBody.
func (p *OllamaProvider) GenerateIssueBody(ctx context.Context, pt traceback.ParsedTraceback, analysis ErrorAnalysis, code []codeanalyzer.CodeContext) (string, error) {
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

	system := withGuard(`Respond only with JSON: {"body":"..."} — markdown, at most 10000 characters.`)
	prompt := fmt.Sprintf("Traceback:\n%s\n\n%s\n\n%s\n\n%s",
		pt.Signature(),
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("analysis", fmt.Sprintf("Root cause: %s\nExplanation: %s", analysis.RootCause, analysis.Explanation)),
		wrapUserData("code_context", codeText))
	var wire struct {
		Body string `json:"body"`
	}
	if err := p.generateJSON(ctx, system, prompt, &wire); err != nil {
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

// CalculateSimilarity mirrors GenAIProvider.CalculateSimilarity.
func (p *OllamaProvider) CalculateSimilarity(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error) {
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

	system := withGuard(`Respond only with JSON: {"scores":{"<issue_number>":<float 0..1>, ...}}`)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s",
		wrapUserData("traceback", fmt.Sprintf("%s: %s", pt.ExceptionType, pt.ExceptionMessage)),
		wrapUserData("candidate_issues", candidateText.String()))
	var wire struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := p.generateJSON(ctx, system, b.String(), &wire); err != nil {
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
