package vcs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/httpx"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/redact"
	"silexa/triagebot/internal/safecmd"
)

// GitHubProvider adapts google/go-github to the Provider interface. The
// function-per-operation shape (one method, one go-github call, translate
// the result) is grounded on githubops.go's GetRelease/CompareCommits/
// CreatePullRequest; HTTP-level retry classification (secondary rate
// limits, 5xx, 403-with-remaining-0) is grounded on
// tools/si/internal/githubbridge's isRetryableHTTP.
type GitHubProvider struct {
	client   *github.Client
	runner   *safecmd.Runner
	events   eventlog.Logger
	redactor *redact.Redactor
	appToken string // GitHub App installation token, used for authenticated clone URLs
}

// NewGitHubAppProvider builds a provider authenticated as a GitHub App
// installation, grounded on ghinstallation.NewAppsTransportFromPrivateKey's
// standard wiring over http.DefaultTransport.
func NewGitHubAppProvider(appID, installationID int64, privateKeyPEM []byte, runner *safecmd.Runner, events eventlog.Logger, redactor *redact.Redactor) (*GitHubProvider, error) {
	itr, err := ghinstallation.New(httpx.SharedTransport(), appID, installationID, privateKeyPEM)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthentication, "github app auth setup failed", err)
	}
	client := github.NewClient(&http.Client{Transport: itr, Timeout: 30 * time.Second})
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &GitHubProvider{client: client, runner: runner, events: events, redactor: redactor}, nil
}

// NewGitHubTokenProvider builds a provider authenticated with a static
// personal access token, used for local/dev deployments per §6's
// vcs_auth_mode option.
func NewGitHubTokenProvider(token string, runner *safecmd.Runner, events eventlog.Logger, redactor *redact.Redactor) *GitHubProvider {
	client := github.NewClient(httpx.SharedClient(30 * time.Second)).WithAuthToken(token)
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &GitHubProvider{client: client, runner: runner, events: events, redactor: redactor, appToken: token}
}

func (p *GitHubProvider) logEvent(event string, fields map[string]any) {
	rec := map[string]any{"event": event, "provider": "github"}
	for k, v := range fields {
		if s, ok := v.(string); ok && p.redactor != nil {
			v = p.redactor.MustRedact(s)
		}
		rec[k] = v
	}
	p.events.Log(rec)
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.New(errs.KindInvalidInput, "repo must be in owner/name form: "+repo)
	}
	return parts[0], parts[1], nil
}

func classifyGitHubErr(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp == nil || resp.Response == nil {
		return errs.Wrap(errs.KindNetworkError, "github request failed", err)
	}
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized:
		return errs.Wrap(errs.KindAuthentication, "github authentication failed", err)
	case status == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			retryAfter := 60 * time.Second
			if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
				if secs, perr := strconv.ParseInt(reset, 10, 64); perr == nil {
					if d := time.Until(time.Unix(secs, 0)); d > 0 {
						retryAfter = d
					}
				}
			}
			return errs.Wrap(errs.KindRateLimit, "github rate limit exceeded", err).WithRetryAfter(retryAfter)
		}
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "secondary rate limit") || strings.Contains(lower, "abuse") {
			return errs.Wrap(errs.KindRateLimit, "github secondary rate limit", err).WithRetryAfter(60 * time.Second)
		}
		return errs.Wrap(errs.KindPermission, "github permission denied", err)
	case status == http.StatusNotFound:
		return errs.Wrap(errs.KindNotFound, "github resource not found", err)
	case status == http.StatusTooManyRequests:
		return errs.Wrap(errs.KindRateLimit, "github rate limited", err).WithRetryAfter(60 * time.Second)
	case status >= 500:
		return errs.Wrap(errs.KindNetworkError, "github server error", err)
	default:
		return errs.Wrap(errs.KindCommandFailure, "github request failed", err)
	}
}

// SearchIssues searches GitHub's issue search API, scoped to repo and
// restricted to the requested state.
func (p *GitHubProvider) SearchIssues(ctx context.Context, repo, query string, state issue.State, maxResults int) ([]issue.SearchResult, error) {
	q := fmt.Sprintf("repo:%s is:issue %s", repo, query)
	if state != issue.StateAll && state != "" {
		q += " state:" + string(state)
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 30
	}
	result, resp, err := p.client.Search.Issues(ctx, q, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: maxResults},
	})
	if err != nil {
		return nil, classifyGitHubErr(resp, err)
	}
	out := make([]issue.SearchResult, 0, len(result.Issues))
	for _, gi := range result.Issues {
		out = append(out, issue.SearchResult{Issue: toIssue(gi), Score: 0})
	}
	p.logEvent("search_issues", map[string]any{"repo": repo, "query": query, "results": len(out)})
	return out, nil
}

// GetIssue fetches a single issue by number, returning (nil, nil) if not
// found.
func (p *GitHubProvider) GetIssue(ctx context.Context, repo string, number int) (*issue.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gi, resp, err := p.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, classifyGitHubErr(resp, err)
	}
	out := toIssue(gi)
	return &out, nil
}

// CreateIssue opens a new issue.
func (p *GitHubProvider) CreateIssue(ctx context.Context, repo string, create issue.Create) (issue.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return issue.Issue{}, err
	}
	req := &github.IssueRequest{
		Title:     github.String(create.Title),
		Body:      github.String(create.Body),
		Labels:    &create.Labels,
		Assignees: &create.Assignees,
	}
	gi, resp, err := p.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return issue.Issue{}, classifyGitHubErr(resp, err)
	}
	p.logEvent("create_issue", map[string]any{"repo": repo, "number": gi.GetNumber(), "title": create.Title})
	return toIssue(gi), nil
}

// CloneRepository shells out to git through safecmd, resolving an
// authenticated HTTPS URL the way githubops.go's services authenticate
// against the same App installation token used for the REST API.
func (p *GitHubProvider) CloneRepository(ctx context.Context, repo, dest, branch string, shallow bool) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	remoteURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, name)
	if err := p.runner.Clone(ctx, safecmd.CloneOptions{
		RepoSpec:  repo,
		RemoteURL: remoteURL,
		Dest:      dest,
		Branch:    branch,
		Shallow:   shallow,
		MaxSizeMB: 512,
	}); err != nil {
		return "", err
	}
	p.logEvent("clone_repository", map[string]any{"repo": repo, "branch": branch, "dest": dest})
	return dest, nil
}

// GetFileContent fetches a file's raw content at ref (default branch if
// empty), returning ("", false, nil) if the file does not exist.
func (p *GitHubProvider) GetFileContent(ctx context.Context, repo, path, ref string) (string, bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", false, err
	}
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	fileContent, _, resp, err := p.client.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, classifyGitHubErr(resp, err)
	}
	if fileContent == nil {
		return "", false, nil
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return "", false, errs.Wrap(errs.KindCommandFailure, "failed to decode file content", err)
	}
	return content, true, nil
}

// GetDefaultBranch returns the repository's configured default branch.
func (p *GitHubProvider) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	r, resp, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", classifyGitHubErr(resp, err)
	}
	return r.GetDefaultBranch(), nil
}

// IsRepoPublic reports whether repo is visible to anyone, gating §7's
// "public-repo opt-in required" policy rule.
func (p *GitHubProvider) IsRepoPublic(ctx context.Context, repo string) (bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return false, err
	}
	r, resp, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return false, classifyGitHubErr(resp, err)
	}
	return !r.GetPrivate(), nil
}

func toIssue(gi *github.Issue) issue.Issue {
	if gi == nil {
		return issue.Issue{}
	}
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	state := issue.StateOpen
	if gi.GetState() == "closed" {
		state = issue.StateClosed
	}
	var created, updated time.Time
	if gi.CreatedAt != nil {
		created = gi.CreatedAt.Time
	}
	if gi.UpdatedAt != nil {
		updated = gi.UpdatedAt.Time
	}
	author := ""
	if gi.User != nil {
		author = gi.User.GetLogin()
	}
	return issue.Issue{
		Number:    gi.GetNumber(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		URL:       gi.GetHTMLURL(),
		State:     state,
		Labels:    labels,
		CreatedAt: created,
		UpdatedAt: updated,
		Author:    author,
	}
}
