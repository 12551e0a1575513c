// Package config implements the environment-driven process configuration
// from §6's "Configuration (recognized options)" table, grounded on
// apps/ReleaseParty/backend/internal/config.Load's env(key,default) +
// explicit-validation shape.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized option from §6, process-wide defaults for
// the per-repo/per-channel policy overlay (see Overlay in policy.go), and
// the adapter credentials the host needs to construct providers.
type Config struct {
	// Chat transport.
	TelegramToken string

	// VCS transport.
	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubPrivateKeyPEM  string
	GitHubToken          string // static PAT, alternative to App auth

	// LLM transport.
	GenAIAPIKey          string
	GenAIModel           string
	OllamaBaseURL        string
	OllamaModel          string
	AllowRemoteOllamaHost bool

	// Pipeline / orchestrator tuning (§6).
	MaxConcurrent       int
	ProcessingTimeout   time.Duration
	ShutdownTimeout     time.Duration
	ConfidenceThreshold float64

	// Matcher tuning.
	MaxSearchResults int
	IncludeClosed    bool
	SearchCacheTTL   time.Duration

	// Analyzer tuning.
	ContextLines int
	MaxFiles     int
	SkipPaths    []string
	IncludeFiles []string

	// Clone cache tuning.
	CloneCacheTTL     time.Duration
	CloneMaxSizeMB    int64
	CleanupInterval   time.Duration
	ClonesBaseDir     string

	// Repository routing/policy.
	AllowedRepos     []string
	ChannelRepos     map[string]string
	DefaultRepo      string
	AllowPublicRepos bool

	// OverlayPath, if set, points at a local .triagebot.yaml applied over
	// the process-wide defaults above (see internal/config/overlay.go).
	OverlayPath string

	// Reaction labels.
	ProcessingReaction string
	CompleteReaction   string
	ErrorReaction      string

	// Issue creation.
	DefaultLabels []string

	// Host surface.
	Addr string

	// Event log.
	EventLogPath string
}

// Load reads Config from the environment, applying baseline defaults and
// returning a wrapped error (never panicking) on missing required fields.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken: env("TRIAGEBOT_TELEGRAM_TOKEN", ""),

		GitHubToken:         env("TRIAGEBOT_GITHUB_TOKEN", ""),
		GitHubPrivateKeyPEM: env("TRIAGEBOT_GITHUB_APP_PRIVATE_KEY_PEM", ""),

		GenAIAPIKey:   env("TRIAGEBOT_GENAI_API_KEY", ""),
		GenAIModel:    env("TRIAGEBOT_GENAI_MODEL", "gemini-2.0-flash"),
		OllamaBaseURL: env("TRIAGEBOT_OLLAMA_BASE_URL", ""),
		OllamaModel:   env("TRIAGEBOT_OLLAMA_MODEL", "llama3"),

		DefaultRepo:  env("TRIAGEBOT_DEFAULT_REPO", ""),
		Addr:         env("TRIAGEBOT_ADDR", ":8080"),
		EventLogPath: env("TRIAGEBOT_EVENT_LOG_PATH", "data/events.jsonl"),
		ClonesBaseDir: env("TRIAGEBOT_CLONE_BASE_DIR", "data/clones"),
		OverlayPath:  env("TRIAGEBOT_OVERLAY_PATH", ""),

		ProcessingReaction: env("TRIAGEBOT_PROCESSING_REACTION", "👀"),
		CompleteReaction:   env("TRIAGEBOT_COMPLETE_REACTION", "✅"),
		ErrorReaction:      env("TRIAGEBOT_ERROR_REACTION", "❌"),

		MaxConcurrent:       5,
		ProcessingTimeout:   300 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		ConfidenceThreshold: 0.85,
		MaxSearchResults:    10,
		SearchCacheTTL:      300 * time.Second,
		ContextLines:        15,
		MaxFiles:            10,
		IncludeFiles:        []string{"README.md"},
		CloneCacheTTL:       time.Hour,
		CloneMaxSizeMB:      512,
		CleanupInterval:     5 * time.Minute,
		DefaultLabels:       []string{"triage-bot"},
	}

	if err := loadInt64(&cfg.GitHubAppID, "TRIAGEBOT_GITHUB_APP_ID"); err != nil {
		return Config{}, err
	}
	if err := loadInt64(&cfg.GitHubInstallationID, "TRIAGEBOT_GITHUB_INSTALLATION_ID"); err != nil {
		return Config{}, err
	}
	if cfg.GitHubPrivateKeyPEM == "" {
		if path := strings.TrimSpace(env("TRIAGEBOT_GITHUB_APP_PRIVATE_KEY_PATH", "")); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("config: reading github app private key: %w", err)
			}
			cfg.GitHubPrivateKeyPEM = string(b)
		}
	}

	if err := loadBool(&cfg.AllowRemoteOllamaHost, "TRIAGEBOT_ALLOW_REMOTE_OLLAMA_HOST"); err != nil {
		return Config{}, err
	}
	if err := loadBool(&cfg.IncludeClosed, "TRIAGEBOT_INCLUDE_CLOSED"); err != nil {
		return Config{}, err
	}
	if err := loadBool(&cfg.AllowPublicRepos, "TRIAGEBOT_ALLOW_PUBLIC_REPOS"); err != nil {
		return Config{}, err
	}

	if err := loadInt(&cfg.MaxConcurrent, "TRIAGEBOT_MAX_CONCURRENT"); err != nil {
		return Config{}, err
	}
	if err := loadDuration(&cfg.ProcessingTimeout, "TRIAGEBOT_PROCESSING_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := loadDuration(&cfg.ShutdownTimeout, "TRIAGEBOT_SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := loadFloat(&cfg.ConfidenceThreshold, "TRIAGEBOT_CONFIDENCE_THRESHOLD"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.MaxSearchResults, "TRIAGEBOT_MAX_SEARCH_RESULTS"); err != nil {
		return Config{}, err
	}
	if err := loadDuration(&cfg.SearchCacheTTL, "TRIAGEBOT_SEARCH_CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.ContextLines, "TRIAGEBOT_CONTEXT_LINES"); err != nil {
		return Config{}, err
	}
	if err := loadInt(&cfg.MaxFiles, "TRIAGEBOT_MAX_FILES"); err != nil {
		return Config{}, err
	}
	if err := loadDuration(&cfg.CloneCacheTTL, "TRIAGEBOT_CLONE_CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if err := loadInt64(&cfg.CloneMaxSizeMB, "TRIAGEBOT_CLONE_MAX_SIZE_MB"); err != nil {
		return Config{}, err
	}
	if err := loadDuration(&cfg.CleanupInterval, "TRIAGEBOT_CLEANUP_INTERVAL"); err != nil {
		return Config{}, err
	}

	cfg.SkipPaths = splitList(env("TRIAGEBOT_SKIP_PATHS", ""))
	if v := splitList(env("TRIAGEBOT_INCLUDE_FILES", "")); len(v) > 0 {
		cfg.IncludeFiles = v
	}
	cfg.AllowedRepos = splitList(env("TRIAGEBOT_ALLOWED_REPOS", ""))
	if v := splitList(env("TRIAGEBOT_DEFAULT_LABELS", "")); len(v) > 0 {
		cfg.DefaultLabels = v
	}
	cfg.ChannelRepos = parseChannelRepos(env("TRIAGEBOT_CHANNEL_REPOS", ""))

	if cfg.TelegramToken == "" {
		return Config{}, fmt.Errorf("config: missing TRIAGEBOT_TELEGRAM_TOKEN")
	}
	if cfg.GitHubToken == "" && cfg.GitHubAppID == 0 {
		return Config{}, fmt.Errorf("config: need either TRIAGEBOT_GITHUB_TOKEN or TRIAGEBOT_GITHUB_APP_ID+TRIAGEBOT_GITHUB_INSTALLATION_ID")
	}
	if cfg.GitHubAppID != 0 && strings.TrimSpace(cfg.GitHubPrivateKeyPEM) == "" {
		return Config{}, fmt.Errorf("config: missing TRIAGEBOT_GITHUB_APP_PRIVATE_KEY_PEM or _PATH for App auth")
	}
	if cfg.GenAIAPIKey == "" && cfg.OllamaBaseURL == "" {
		return Config{}, fmt.Errorf("config: need either TRIAGEBOT_GENAI_API_KEY or TRIAGEBOT_OLLAMA_BASE_URL")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func loadInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func loadInt64(dst *int64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func loadFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func loadBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func loadDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseChannelRepos parses "channel1=repo1,channel2=repo2" into a map, per
// §6's channel_repos option. Malformed entries are skipped, not fatal —
// this is host configuration, not untrusted LLM output, but still external
// input that should degrade gracefully rather than abort startup.
func parseChannelRepos(v string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		channel := strings.TrimSpace(parts[0])
		repo := strings.TrimSpace(parts[1])
		if channel == "" || repo == "" {
			continue
		}
		out[channel] = repo
	}
	return out
}
