// Package safecmd wraps external-process invocation (git, the VCS CLI)
// behind an argument-array contract with no shell interpretation ever
// performed. Exit-status classification into the shared fault taxonomy is
// grounded on tools/si/internal/githubbridge's HTTP-status classification
// style (isRetryableHTTP/isRetryableNetwork in client.go) applied to
// process exit codes and stderr instead of HTTP responses; the
// clone-specific flags (--depth 1, core.hooksPath=/dev/null) and the
// post-clone size quota are SafeCmd's own per spec §4.2.
package safecmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/redact"
)

// repoSpecPattern matches "<owner>/<repo>"-shaped identifiers.
var repoSpecPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+/[A-Za-z0-9_.\-]+$`)

// sanitizeStrip is the set of shell metacharacters stripped from any
// free-form user string before it becomes a subprocess argument.
const sanitizeStrip = `;|&` + "`" + `$(){}<>\`

// Runner invokes external binaries under the SafeCmd contract.
type Runner struct {
	Timeout    time.Duration // wall-clock bound per invocation; default 30s
	MaxArgLen  int           // truncation length for free-form args; default 4096
	Redactor   *redact.Redactor
}

// New returns a Runner with spec-default timeout and argument length.
func New(redactor *redact.Redactor) *Runner {
	return &Runner{
		Timeout:   30 * time.Second,
		MaxArgLen: 4096,
		Redactor:  redactor,
	}
}

// Result is the outcome of a successful (exit 0) invocation.
type Result struct {
	Stdout string
	Stderr string
}

// SanitizeArg strips shell metacharacters from a free-form argument and
// truncates it to MaxArgLen, per §4.2.
func (r *Runner) SanitizeArg(arg string) string {
	var b strings.Builder
	for _, c := range arg {
		if strings.ContainsRune(sanitizeStrip, c) {
			continue
		}
		b.WriteRune(c)
	}
	out := b.String()
	max := r.MaxArgLen
	if max <= 0 {
		max = 4096
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// ValidateRepoSpec enforces the owner/repo shape required of the first
// positional argument when one is present.
func ValidateRepoSpec(spec string) error {
	if !repoSpecPattern.MatchString(spec) {
		return errs.New(errs.KindInvalidInput, fmt.Sprintf("repo spec %q does not match owner/repo", spec))
	}
	return nil
}

// Run invokes bin with args under a wall-clock timeout, with no shell
// interpretation. The caller is responsible for having already validated
// any repo-spec positional argument and sanitized any free-form argument
// via SanitizeArg.
func (r *Runner) Run(ctx context.Context, bin string, args []string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, errs.New(errs.KindCommandTimeout, fmt.Sprintf("%s timed out after %s", bin, timeout))
	}
	if err == nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}
	return Result{}, r.classify(bin, err, stderr.String())
}

func (r *Runner) classify(bin string, runErr error, stderr string) error {
	redacted := stderr
	if r.Redactor != nil {
		redacted = r.Redactor.MustRedact(stderr)
	}
	lower := strings.ToLower(stderr)

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		switch {
		case strings.Contains(lower, "authentication") || strings.Contains(lower, "could not read username") || strings.Contains(lower, "permission denied (publickey)"):
			return errs.New(errs.KindAuthentication, fmt.Sprintf("%s: authentication failed", bin))
		case strings.Contains(lower, "rate limit"):
			return errs.New(errs.KindRateLimit, fmt.Sprintf("%s: rate limited", bin))
		case strings.Contains(lower, "not found") || strings.Contains(lower, "repository not found") || strings.Contains(lower, "does not exist"):
			return errs.New(errs.KindNotFound, fmt.Sprintf("%s: not found", bin))
		case strings.Contains(lower, "permission") || strings.Contains(lower, "access denied"):
			return errs.New(errs.KindPermission, fmt.Sprintf("%s: permission denied", bin))
		default:
			return errs.Wrap(errs.KindCommandFailure, fmt.Sprintf("%s: %s", bin, redacted), exitErr)
		}
	}
	return errs.Wrap(errs.KindCommandFailure, fmt.Sprintf("%s: failed to start", bin), runErr)
}

// CloneOptions configures a shallow clone invocation.
type CloneOptions struct {
	RepoSpec   string // owner/repo, validated against repoSpecPattern
	RemoteURL  string // full clone URL (may embed a short-lived token)
	Dest       string
	Branch     string
	Shallow    bool // defaults to true semantics; caller opts out by setting false
	MaxSizeMB  int64
}

// Clone performs `git clone` with the mandatory hardening flags from
// §4.2 (-c core.hooksPath=/dev/null, --depth 1 unless opted out), then
// enforces the post-clone disk quota, deleting the directory and
// returning CloneTooLarge on overrun.
func (r *Runner) Clone(ctx context.Context, opts CloneOptions) error {
	if err := ValidateRepoSpec(opts.RepoSpec); err != nil {
		return err
	}
	args := []string{"clone", "-c", "core.hooksPath=/dev/null"}
	if opts.Shallow {
		args = append(args, "--depth", "1")
	}
	if opts.Branch != "" {
		args = append(args, "--branch", r.SanitizeArg(opts.Branch))
	}
	args = append(args, opts.RemoteURL, opts.Dest)

	if _, err := r.Run(ctx, "git", args); err != nil {
		return err
	}

	if opts.MaxSizeMB <= 0 {
		return nil
	}
	size, err := dirSize(opts.Dest)
	if err != nil {
		return errs.Wrap(errs.KindCommandFailure, "failed to stat clone size", err)
	}
	maxBytes := opts.MaxSizeMB * 1024 * 1024
	if size > maxBytes {
		_ = os.RemoveAll(opts.Dest)
		return errs.New(errs.KindCloneTooLarge, fmt.Sprintf("clone of %s is %d bytes, exceeds %d byte limit", opts.RepoSpec, size, maxBytes))
	}
	return nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
