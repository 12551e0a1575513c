// Package vcs defines the version-control capability set (§6) consumed by
// the pipeline and the matcher: issue search/get/create, repository clone,
// file content, and default-branch lookup. A thin interface over these six
// operations, not an object hierarchy, per §4.8's pluggable-providers
// requirement.
package vcs

import (
	"context"

	"silexa/triagebot/internal/issue"
)

// Provider is the capability set a VCS transport must implement.
type Provider interface {
	SearchIssues(ctx context.Context, repo, query string, state issue.State, maxResults int) ([]issue.SearchResult, error)
	GetIssue(ctx context.Context, repo string, number int) (*issue.Issue, error)
	CreateIssue(ctx context.Context, repo string, create issue.Create) (issue.Issue, error)
	CloneRepository(ctx context.Context, repo, dest, branch string, shallow bool) (string, error)
	GetFileContent(ctx context.Context, repo, path, ref string) (string, bool, error)
	GetDefaultBranch(ctx context.Context, repo string) (string, error)
	IsRepoPublic(ctx context.Context, repo string) (bool, error)
}
