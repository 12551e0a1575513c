// Package pipeline implements the per-message MessageHandler state machine
// from §4.7: RECEIVED -> dedup -> ACK -> PARSING -> SEARCHING/NO_TRACEBACK
// -> MATCHED/ANALYZING -> CREATING -> REPLYING_*, with reaction discipline
// and the two dedup registries (message-id idempotency, fingerprint
// create-dedup). The single entry-point-plus-sequential-substeps shape is
// grounded on agents/telegram-bot/main.go's pollUpdates -> handle* dispatch
// chain, generalized from a fixed command set to a five-stage pipeline.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/clonecache"
	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/issuematch"
	"silexa/triagebot/internal/llm"
	"silexa/triagebot/internal/traceback"
	"silexa/triagebot/internal/vcs"
)

// Config tunes the handler per §6's recognized options.
type Config struct {
	ProcessingTimeout   time.Duration
	ConfidenceThreshold float64
	ProcessingReaction  string
	CompleteReaction    string
	ErrorReaction       string
	DefaultLabels       []string
	AllowedRepos        []string
	ChannelRepos        map[string]string
	DefaultRepo         string
	AllowPublicRepos    bool
	MessageIDTTL        time.Duration
	FingerprintTTL      time.Duration
	CodeContextBudget   int // chars, after truncation
	// RemoteURLFunc builds the clone URL for a resolved repo identifier.
	// Defaults to a GitHub HTTPS clone URL, the pack's only VCS backend.
	RemoteURLFunc func(repo string) string
}

// DefaultConfig returns the baseline handler configuration.
func DefaultConfig() Config {
	return Config{
		ProcessingTimeout:   300 * time.Second,
		ConfidenceThreshold: 0.85,
		ProcessingReaction:  "👀",
		CompleteReaction:    "✅",
		ErrorReaction:       "❌",
		MessageIDTTL:        5 * time.Minute,
		FingerprintTTL:      5 * time.Minute,
		CodeContextBudget:   20000,
		RemoteURLFunc:       func(repo string) string { return fmt.Sprintf("https://github.com/%s.git", repo) },
	}
}

// Handler implements MessageHandler.
type Handler struct {
	cfg Config

	chat     chat.Provider
	vcs      vcs.Provider
	llm      llm.Provider
	clones   *clonecache.Cache
	analyzer *codeanalyzer.Analyzer
	matcher  *issuematch.Matcher
	events   eventlog.Logger

	messageIDs   *messageIDSet
	fingerprints *fingerprintCache
}

// New builds a Handler. events may be nil (defaults to a no-op logger).
func New(cfg Config, chatProvider chat.Provider, vcsProvider vcs.Provider, llmProvider llm.Provider, clones *clonecache.Cache, analyzer *codeanalyzer.Analyzer, matcher *issuematch.Matcher, events eventlog.Logger) *Handler {
	if cfg.RemoteURLFunc == nil {
		cfg.RemoteURLFunc = DefaultConfig().RemoteURLFunc
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 300 * time.Second
	}
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &Handler{
		cfg:          cfg,
		chat:         chatProvider,
		vcs:          vcsProvider,
		llm:          llmProvider,
		clones:       clones,
		analyzer:     analyzer,
		matcher:      matcher,
		events:       events,
		messageIDs:   newMessageIDSet(cfg.MessageIDTTL),
		fingerprints: newFingerprintCache(cfg.FingerprintTTL),
	}
}

func (h *Handler) logEvent(correlationID, event string, fields map[string]any) {
	rec := map[string]any{"event": event, "correlation_id": correlationID}
	for k, v := range fields {
		rec[k] = v
	}
	h.events.Log(rec)
}

// Handle runs the MessageHandler state machine for one inbound message to
// completion and returns its terminal Result. It never panics: every
// internal fault is classified into *errs.Error and ends at REPLYING_ERROR.
func (h *Handler) Handle(ctx context.Context, msg chat.Message) Result {
	correlationID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProcessingTimeout)
	defer cancel()

	h.logEvent(correlationID, "message_received", map[string]any{"channel_id": msg.ChannelID, "message_id": msg.MessageID})

	// RECEIVED -> [dedup?]
	msgKey := msg.ChannelID + "\x00" + msg.MessageID
	if h.messageIDs.claim(msgKey) {
		h.logEvent(correlationID, "duplicate_message", nil)
		return ResultDuplicate
	}

	// ACK
	if err := h.chat.AddReaction(ctx, msg.ChannelID, msg.MessageID, h.cfg.ProcessingReaction); err != nil {
		h.logEvent(correlationID, "reaction_failed", map[string]any{"reaction": h.cfg.ProcessingReaction, "error": err.Error()})
	}

	repo, repoErr := h.resolveRepo(ctx, msg.ChannelID)
	if repoErr != nil {
		return h.finishError(ctx, correlationID, msg, repoErr)
	}

	// PARSING
	tracebacks := traceback.ExtractAll(msg.Text)
	if len(tracebacks) == 0 {
		return h.finishSilent(ctx, correlationID, msg, ResultNoTraceback)
	}
	pt := tracebacks[0]

	// SEARCHING
	matches, err := h.matcher.Match(ctx, repo, pt)
	if err != nil {
		return h.finishError(ctx, correlationID, msg, err)
	}

	if best, ok := bestMatch(matches, h.cfg.ConfidenceThreshold); ok {
		return h.finishLink(ctx, correlationID, msg, best)
	}

	signature := pt.Signature()
	fpKey := fingerprintKey(repo, signature)
	if remembered, ok := h.fingerprints.get(fpKey); ok {
		return h.finishLink(ctx, correlationID, msg, issue.Match{Issue: remembered, Confidence: 1, Reasons: []string{"previously filed for this fingerprint"}})
	}

	// ANALYZING
	analysis, code, err := h.analyze(ctx, repo, pt)
	if err != nil {
		return h.finishError(ctx, correlationID, msg, err)
	}

	// LLM_DRAFT
	title, err := h.llm.GenerateIssueTitle(ctx, pt, analysis)
	if err != nil {
		return h.finishError(ctx, correlationID, msg, err)
	}
	body, err := h.llm.GenerateIssueBody(ctx, pt, analysis, code)
	if err != nil {
		return h.finishError(ctx, correlationID, msg, err)
	}

	// CREATING
	created, err := h.vcs.CreateIssue(ctx, repo, issue.Create{Title: title, Body: body, Labels: h.cfg.DefaultLabels})
	if err != nil {
		return h.finishError(ctx, correlationID, msg, err)
	}
	h.fingerprints.remember(fpKey, created)

	return h.finishNew(ctx, correlationID, msg, created, analysis)
}

// resolveRepo implements §4.7's repository-resolution rule: channel
// override, else default, else policy violation; allowlist enforcement
// when configured non-empty; and §7's public-repo opt-in requirement —
// a publicly visible repo is rejected unless AllowPublicRepos is set,
// since filing issues (with code excerpts and traceback text) against a
// public repo broadcasts that content further than a private one.
func (h *Handler) resolveRepo(ctx context.Context, channelID string) (string, error) {
	repo := h.cfg.ChannelRepos[channelID]
	if repo == "" {
		repo = h.cfg.DefaultRepo
	}
	if repo == "" {
		return "", errs.New(errs.KindPolicyViolation, "no repository configured for channel")
	}
	if len(h.cfg.AllowedRepos) > 0 && !containsString(h.cfg.AllowedRepos, repo) {
		return "", errs.New(errs.KindPolicyViolation, fmt.Sprintf("repository %q is not in allowed_repos", repo))
	}
	if !h.cfg.AllowPublicRepos {
		public, err := h.vcs.IsRepoPublic(ctx, repo)
		if err != nil {
			return "", err
		}
		if public {
			return "", errs.New(errs.KindPolicyViolation, fmt.Sprintf("repository %q is public; set allow_public_repos to opt in", repo))
		}
	}
	return repo, nil
}

// bestMatch reports the top match if its confidence clears the threshold.
func bestMatch(matches []issue.Match, threshold float64) (issue.Match, bool) {
	if len(matches) == 0 {
		return issue.Match{}, false
	}
	if matches[0].Confidence < threshold {
		return issue.Match{}, false
	}
	return matches[0], true
}

// analyze clones repo, extracts code context, and asks the LLM for a root
// cause. This is the ANALYZING state's body.
func (h *Handler) analyze(ctx context.Context, repo string, pt traceback.ParsedTraceback) (llm.ErrorAnalysis, []codeanalyzer.CodeContext, error) {
	remoteURL := h.cfg.RemoteURLFunc(repo)
	handle, err := h.clones.Acquire(ctx, repo, remoteURL, "")
	if err != nil {
		return llm.ErrorAnalysis{}, nil, err
	}
	defer handle.Release()

	code := h.analyzer.Analyze(handle.Path, pt)
	code = codeanalyzer.Truncate(code, h.cfg.CodeContextBudget)

	analysis, err := h.llm.AnalyzeError(ctx, pt, code, "")
	if err != nil {
		return llm.ErrorAnalysis{}, nil, err
	}
	return analysis, code, nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
