// Package codeanalyzer extracts stack-frame-adjacent source code from a
// repository clone, enforcing path-traversal safety and redaction before
// anything leaves the clone root (§4.6). The canonicalized-prefix check
// — resolve the candidate path, then require it to remain prefixed by
// the cleaned root — is grounded on agents/shared/docker/workspace.go's
// InferWorkspaceTarget/InferDevelopmentMount, which reject any resolved
// path falling outside a reference root via the same
// filepath.Rel/".."-prefix technique.
package codeanalyzer

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/redact"
	"silexa/triagebot/internal/traceback"
)

// CodeContext is an extracted, already-redacted window of source code.
type CodeContext struct {
	Path      string // normalized, relative to the clone root
	StartLine int
	EndLine   int
	Content   string
	Highlight int // 0 if not applicable (e.g. an include_files entry)
}

// Config tunes the analyzer per §6's context_lines / max_files /
// skip_paths / include_files options.
type Config struct {
	ContextLines int
	MaxFiles     int
	SkipPaths    []string
	IncludeFiles []string
}

// DefaultConfig returns the baseline analyzer configuration.
func DefaultConfig() Config {
	return Config{
		ContextLines: 15,
		MaxFiles:     10,
		IncludeFiles: []string{"README.md"},
	}
}

// Analyzer extracts CodeContext for a ParsedTraceback's project frames,
// plus any configured include_files, all rooted at a clone directory.
type Analyzer struct {
	cfg      Config
	redactor *redact.Redactor
}

// New builds an Analyzer.
func New(cfg Config, redactor *redact.Redactor) *Analyzer {
	if cfg.ContextLines <= 0 {
		cfg.ContextLines = 15
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if len(cfg.IncludeFiles) == 0 {
		cfg.IncludeFiles = []string{"README.md"}
	}
	return &Analyzer{cfg: cfg, redactor: redactor}
}

// resolveUnderRoot resolves rel against root and rejects any escape,
// mirroring docker.InferWorkspaceTarget's Rel/".."-prefix rejection.
func resolveUnderRoot(root, rel string) (string, error) {
	root = filepath.Clean(root)
	candidate := filepath.Join(root, rel)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// File may not exist yet (symlink eval fails on missing paths);
		// fall back to the lexically-cleaned candidate for the prefix
		// check, which still catches ".." traversal.
		resolved = filepath.Clean(candidate)
	}
	relToRoot, err := filepath.Rel(root, resolved)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", errs.New(errs.KindPathTraversal, "path escapes clone root: "+rel)
	}
	return resolved, nil
}

func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	return !utf8.Valid(probe)
}

func isSkipped(rel string, skipPaths []string) bool {
	for _, p := range skipPaths {
		if p == "" {
			continue
		}
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// Analyze walks pt's project frames (stdlib/site-packages frames
// skipped), producing at most cfg.MaxFiles CodeContexts, then appends
// one CodeContext per existing configured include_files entry (first 200
// lines).
func (a *Analyzer) Analyze(root string, pt traceback.ParsedTraceback) []CodeContext {
	var out []CodeContext

	for _, frame := range pt.ProjectFrames() {
		if len(out) >= a.cfg.MaxFiles {
			break
		}
		rel := frame.NormalizedPath()
		if isSkipped(rel, a.cfg.SkipPaths) {
			continue
		}
		resolved, err := resolveUnderRoot(root, rel)
		if err != nil {
			continue // dropped per §4.6 step 1; frame skipped, not fatal
		}
		content, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		if isBinary(content) {
			continue
		}
		cc, ok := a.extractWindow(rel, string(content), frame.Line)
		if !ok {
			continue
		}
		out = append(out, cc)
	}

	for _, name := range a.cfg.IncludeFiles {
		if len(out) >= a.cfg.MaxFiles {
			break
		}
		resolved, err := resolveUnderRoot(root, name)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		if isBinary(content) {
			continue
		}
		lines := strings.Split(string(content), "\n")
		if len(lines) > 200 {
			lines = lines[:200]
		}
		redacted := a.redact(strings.Join(lines, "\n"))
		out = append(out, CodeContext{
			Path:      name,
			StartLine: 1,
			EndLine:   len(lines),
			Content:   redacted,
		})
	}

	return out
}

func (a *Analyzer) extractWindow(relPath, content string, highlight int) (CodeContext, bool) {
	lines := strings.Split(content, "\n")
	if highlight < 1 || highlight > len(lines) {
		return CodeContext{}, false
	}
	start := highlight - a.cfg.ContextLines
	if start < 1 {
		start = 1
	}
	end := highlight + a.cfg.ContextLines
	if end > len(lines) {
		end = len(lines)
	}
	window := strings.Join(lines[start-1:end], "\n")
	return CodeContext{
		Path:      relPath,
		StartLine: start,
		EndLine:   end,
		Content:   a.redact(window),
		Highlight: highlight,
	}, true
}

func (a *Analyzer) redact(s string) string {
	if a.redactor == nil {
		return s
	}
	out, err := a.redactor.Redact(s)
	if err != nil {
		// Fail-closed: a redaction failure must not leak the original
		// text. Dropping to the sentinel value is safer than discarding
		// the whole frame, which would silently degrade coverage.
		return "[REDACTED]"
	}
	return out
}

// Truncate evicts and trims CodeContexts to fit budgetChars, starting
// from stdlib-adjacent and lowest-priority include_files entries, then
// symmetrically trimming context_lines around each highlight, never
// below highlight±3 lines (§4.6's truncation-for-LLM rule).
func Truncate(contexts []CodeContext, budgetChars int) []CodeContext {
	total := func(cs []CodeContext) int {
		n := 0
		for _, c := range cs {
			n += len(c.Content)
		}
		return n
	}
	out := append([]CodeContext{}, contexts...)

	// Evict from the tail first (include_files entries and
	// low-priority frames are appended last by Analyze).
	for total(out) > budgetChars && len(out) > 1 {
		out = out[:len(out)-1]
	}

	// Symmetric trim around each highlight, floor at ±3 lines.
	for i := range out {
		for total(out) > budgetChars {
			c := &out[i]
			if c.Highlight == 0 {
				break
			}
			lines := strings.Split(c.Content, "\n")
			minHalf := 3
			curHalf := len(lines) / 2
			if curHalf <= minHalf {
				break
			}
			lines = lines[1 : len(lines)-1]
			c.Content = strings.Join(lines, "\n")
			if c.StartLine < c.Highlight {
				c.StartLine++
			}
			if c.EndLine > c.Highlight {
				c.EndLine--
			}
		}
	}
	return out
}
