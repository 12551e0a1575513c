// Command triage-bot is the composition root: it wires config, the chat/
// VCS/LLM adapters, the clone cache, the issue matcher, the code analyzer,
// the message pipeline, and the agent orchestrator together, then hosts a
// health/readiness surface and waits for SIGTERM/SIGINT. The
// signal.Notify/http.Server-plus-graceful-shutdown shape is grounded
// directly on
// apps/ReleaseParty/backend/cmd/releaseparty-api/main.go's main().
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"silexa/triagebot/internal/agent"
	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/clonecache"
	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/config"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/host"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/issuematch"
	"silexa/triagebot/internal/llm"
	"silexa/triagebot/internal/pipeline"
	"silexa/triagebot/internal/redact"
	"silexa/triagebot/internal/safecmd"
	"silexa/triagebot/internal/vcs"
)

func main() {
	logger := log.New(os.Stdout, "triage-bot ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	cfg = applyOverlayFile(cfg, logger)

	events := eventlog.Logger(eventlog.NopLogger{})
	if cfg.EventLogPath != "" {
		events = eventlog.NewJSONLLogger(cfg.EventLogPath)
	}

	redactor := redact.New()
	runner := safecmd.New(redactor)

	chatProvider, err := chat.NewTelegramProvider(cfg.TelegramToken, logger, events, redactor)
	if err != nil {
		logger.Fatalf("chat provider: %v", err)
	}

	vcsProvider, err := buildVCSProvider(cfg, runner, events, redactor)
	if err != nil {
		logger.Fatalf("vcs provider: %v", err)
	}

	llmProvider, err := buildLLMProvider(cfg, events, redactor)
	if err != nil {
		logger.Fatalf("llm provider: %v", err)
	}

	clones := clonecache.New(clonecache.Config{
		MaxAge:          cfg.CloneCacheTTL,
		MaxTotalSizeMB:  2048,
		CleanupInterval: cfg.CleanupInterval,
		CloneMaxSizeMB:  cfg.CloneMaxSizeMB,
		BaseDir:         cfg.ClonesBaseDir,
	}, runner)

	analyzer := codeanalyzer.New(codeanalyzer.Config{
		ContextLines: cfg.ContextLines,
		MaxFiles:     cfg.MaxFiles,
		SkipPaths:    cfg.SkipPaths,
		IncludeFiles: cfg.IncludeFiles,
	}, redactor)

	searcher := func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		state := issue.StateOpen
		if includeClosed {
			state = issue.StateAll
		}
		return vcsProvider.SearchIssues(ctx, repo, query, state, maxResults)
	}

	matcher, err := issuematch.New(issuematch.Config{
		MaxSearchResults: cfg.MaxSearchResults,
		IncludeClosed:    cfg.IncludeClosed,
		SearchCacheTTL:   cfg.SearchCacheTTL,
		Weights:          issuematch.DefaultWeights(),
	}, searcher, llmProvider.CalculateSimilarity)
	if err != nil {
		logger.Fatalf("issue matcher: %v", err)
	}

	handler := pipeline.New(pipeline.Config{
		ProcessingTimeout:   cfg.ProcessingTimeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		ProcessingReaction:  cfg.ProcessingReaction,
		CompleteReaction:    cfg.CompleteReaction,
		ErrorReaction:       cfg.ErrorReaction,
		DefaultLabels:       cfg.DefaultLabels,
		AllowedRepos:        cfg.AllowedRepos,
		ChannelRepos:        cfg.ChannelRepos,
		DefaultRepo:         cfg.DefaultRepo,
		AllowPublicRepos:    cfg.AllowPublicRepos,
	}, chatProvider, vcsProvider, llmProvider, clones, analyzer, matcher, events)

	orch := agent.New(agent.Config{
		MaxConcurrent:   cfg.MaxConcurrent,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, chatProvider, handler, clones, logger, events)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Start(startCtx); err != nil {
		startCancel()
		logger.Fatalf("agent start: %v", err)
	}
	startCancel()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           host.New(orch).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Printf("shutting down...")
	_ = httpSrv.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		logger.Printf("agent stop: %v", err)
	}
}

// applyOverlayFile reads and applies cfg.OverlayPath's .triagebot.yaml, per
// DESIGN.md's "applied after config.Load() and before constructing
// pipeline.Handler" resolution. A missing path is a no-op; a read or parse
// failure is logged and ignored, falling back to the process-wide cfg.
func applyOverlayFile(cfg config.Config, logger *log.Logger) config.Config {
	if cfg.OverlayPath == "" {
		return cfg
	}
	b, err := os.ReadFile(cfg.OverlayPath)
	if err != nil {
		logger.Printf("overlay: reading %s: %v (ignoring)", cfg.OverlayPath, err)
		return cfg
	}
	overlay, err := config.ParseOverlayYAML(b)
	if err != nil {
		logger.Printf("overlay: parsing %s: %v (ignoring)", cfg.OverlayPath, err)
		return cfg
	}
	logger.Printf("overlay: applied %s", cfg.OverlayPath)
	return config.ApplyOverlay(cfg, overlay)
}

// buildVCSProvider prefers a static token (simpler, used for smaller
// deployments) and falls back to GitHub App auth when configured.
func buildVCSProvider(cfg config.Config, runner *safecmd.Runner, events eventlog.Logger, redactor *redact.Redactor) (vcs.Provider, error) {
	if cfg.GitHubToken != "" {
		return vcs.NewGitHubTokenProvider(cfg.GitHubToken, runner, events, redactor), nil
	}
	return vcs.NewGitHubAppProvider(cfg.GitHubAppID, cfg.GitHubInstallationID, []byte(cfg.GitHubPrivateKeyPEM), runner, events, redactor)
}

// buildLLMProvider prefers GenAI when an API key is configured, falling
// back to a local/self-hosted Ollama endpoint otherwise.
func buildLLMProvider(cfg config.Config, events eventlog.Logger, redactor *redact.Redactor) (llm.Provider, error) {
	if cfg.GenAIAPIKey != "" {
		return llm.NewGenAIProvider(context.Background(), cfg.GenAIAPIKey, cfg.GenAIModel, 32000, events, redactor)
	}
	return llm.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, 8000, cfg.AllowRemoteOllamaHost, events, redactor)
}
