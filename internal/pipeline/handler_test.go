package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/clonecache"
	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/issuematch"
	"silexa/triagebot/internal/llm"
	"silexa/triagebot/internal/safecmd"
	"silexa/triagebot/internal/traceback"
)

const testTraceback = `Traceback (most recent call last):
  File "app/main.py", line 10, in run
    do_thing()
  File "app/util.py", line 42, in do_thing
    return int(x)
ValueError: invalid literal for int() with base 10: 'abc'`

type fakeChat struct {
	mu        sync.Mutex
	reactions []string
	replies   []string
}

func (f *fakeChat) Connect(ctx context.Context) (<-chan chat.Message, error) { return nil, nil }
func (f *fakeChat) Disconnect(ctx context.Context) error                    { return nil }
func (f *fakeChat) SendReply(ctx context.Context, channelID, text, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}
func (f *fakeChat) AddReaction(ctx context.Context, channelID, messageID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, "+"+name)
	return nil
}
func (f *fakeChat) RemoveReaction(ctx context.Context, channelID, messageID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, "-"+name)
	return nil
}

type fakeVCS struct {
	created issue.Issue
	public  bool
}

func (f *fakeVCS) SearchIssues(ctx context.Context, repo, query string, state issue.State, maxResults int) ([]issue.SearchResult, error) {
	return nil, nil
}
func (f *fakeVCS) GetIssue(ctx context.Context, repo string, number int) (*issue.Issue, error) {
	return nil, nil
}
func (f *fakeVCS) CreateIssue(ctx context.Context, repo string, create issue.Create) (issue.Issue, error) {
	f.created = issue.Issue{Number: 99, Title: create.Title, Body: create.Body, URL: "https://github.com/acme/widgets/issues/99", State: issue.StateOpen}
	return f.created, nil
}
func (f *fakeVCS) CloneRepository(ctx context.Context, repo, dest, branch string, shallow bool) (string, error) {
	return dest, nil
}
func (f *fakeVCS) GetFileContent(ctx context.Context, repo, path, ref string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeVCS) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	return "main", nil
}
func (f *fakeVCS) IsRepoPublic(ctx context.Context, repo string) (bool, error) {
	return f.public, nil
}

type fakeLLM struct{}

func (fakeLLM) AnalyzeError(ctx context.Context, pt traceback.ParsedTraceback, code []codeanalyzer.CodeContext, extra string) (llm.ErrorAnalysis, error) {
	return llm.ErrorAnalysis{RootCause: "x parses as int but is not numeric", Severity: llm.SeverityMedium, Confidence: 0.7}, nil
}
func (fakeLLM) GenerateIssueTitle(ctx context.Context, pt traceback.ParsedTraceback, analysis llm.ErrorAnalysis) (string, error) {
	return "ValueError when parsing int in do_thing", nil
}
func (fakeLLM) GenerateIssueBody(ctx context.Context, pt traceback.ParsedTraceback, analysis llm.ErrorAnalysis, code []codeanalyzer.CodeContext) (string, error) {
	return "full body", nil
}
func (fakeLLM) CalculateSimilarity(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error) {
	return map[int]float64{}, nil
}
func (fakeLLM) ModelName() string     { return "fake-model" }
func (fakeLLM) MaxContextTokens() int { return 8192 }

type noopCloner struct{}

func (noopCloner) Clone(ctx context.Context, opts safecmd.CloneOptions) error {
	return nil
}

func newTestHandler(t *testing.T, search issuematch.Searcher) (*Handler, *fakeChat, *fakeVCS) {
	t.Helper()
	c := &fakeChat{}
	v := &fakeVCS{}

	matcher, err := issuematch.New(issuematch.DefaultConfig(), search, nil)
	if err != nil {
		t.Fatalf("issuematch.New: %v", err)
	}
	clones := clonecache.New(clonecache.DefaultConfig(t.TempDir()), noopCloner{})
	t.Cleanup(clones.Stop)
	analyzer := codeanalyzer.New(codeanalyzer.DefaultConfig(), nil)

	cfg := DefaultConfig()
	cfg.DefaultRepo = "acme/widgets"
	cfg.ProcessingTimeout = 5 * time.Second

	return New(cfg, c, v, fakeLLM{}, clones, analyzer, matcher, nil), c, v
}

func TestHandle_NoTraceback(t *testing.T) {
	h, c, _ := newTestHandler(t, func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	})
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: "hello world, how's it going?"}

	result := h.Handle(context.Background(), msg)
	if result != ResultNoTraceback {
		t.Fatalf("expected NoTraceback, got %v", result)
	}
	if len(c.replies) != 0 {
		t.Fatalf("expected no replies for NO_TRACEBACK, got %v", c.replies)
	}
	if len(c.reactions) != 2 || c.reactions[0] != "+👀" || c.reactions[1] != "-👀" {
		t.Fatalf("unexpected reactions: %v", c.reactions)
	}
}

func TestHandle_DuplicateMessageShortCircuits(t *testing.T) {
	h, c, _ := newTestHandler(t, func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	})
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: "no traceback here"}

	if result := h.Handle(context.Background(), msg); result != ResultNoTraceback {
		t.Fatalf("first call: expected NoTraceback, got %v", result)
	}
	reactionsAfterFirst := len(c.reactions)

	if result := h.Handle(context.Background(), msg); result != ResultDuplicate {
		t.Fatalf("second call: expected Duplicate, got %v", result)
	}
	if len(c.reactions) != reactionsAfterFirst {
		t.Fatalf("expected no reactions mutated on duplicate, got %v", c.reactions)
	}
}

func TestHandle_LinksExistingIssueAboveThreshold(t *testing.T) {
	search := func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		candidate := issue.Issue{
			Number: 7,
			Title:  "invalid literal for int() with base 10: 'abc'",
			Body:   "ValueError seen in app/main.py and app/util.py",
			State:  issue.StateOpen,
		}
		return []issue.SearchResult{{Issue: candidate, Score: 1}}, nil
	}
	h, c, _ := newTestHandler(t, search)
	// This repo's policy sets a lower bar for auto-linking than the
	// process-wide default, matching §6's per-repo confidence_threshold
	// override.
	h.cfg.ConfidenceThreshold = 0.5
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	result := h.Handle(context.Background(), msg)
	if result != ResultExistingIssueLinked {
		t.Fatalf("expected ExistingIssueLinked, got %v", result)
	}
	if len(c.replies) != 1 {
		t.Fatalf("expected one reply, got %v", c.replies)
	}
}

func TestHandle_CreatesNewIssueBelowThreshold(t *testing.T) {
	search := func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	}
	h, c, v := newTestHandler(t, search)
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	result := h.Handle(context.Background(), msg)
	if result != ResultNewIssueCreated {
		t.Fatalf("expected NewIssueCreated, got %v", result)
	}
	if v.created.Number != 99 {
		t.Fatalf("expected issue to be created, got %+v", v.created)
	}
	if len(c.replies) != 1 {
		t.Fatalf("expected one reply, got %v", c.replies)
	}
}

func TestHandle_RetryWithinFingerprintTTLReusesCreatedIssue(t *testing.T) {
	search := func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	}
	h, _, v := newTestHandler(t, search)

	msg1 := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}
	if result := h.Handle(context.Background(), msg1); result != ResultNewIssueCreated {
		t.Fatalf("first call: expected NewIssueCreated, got %v", result)
	}
	firstCreatedNumber := v.created.Number

	msg2 := chat.Message{ChannelID: "C1", MessageID: "M2", Text: testTraceback}
	result := h.Handle(context.Background(), msg2)
	if result != ResultExistingIssueLinked {
		t.Fatalf("second call: expected ExistingIssueLinked from fingerprint cache, got %v", result)
	}
	if v.created.Number != firstCreatedNumber {
		t.Fatalf("expected no second issue creation, vcs state changed to %+v", v.created)
	}
}

func TestHandle_PublicRepoRejectedWithoutOptIn(t *testing.T) {
	h, c, v := newTestHandler(t, func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	})
	v.public = true
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	result := h.Handle(context.Background(), msg)
	if result != ResultError {
		t.Fatalf("expected Error, got %v", result)
	}
	if len(c.replies) != 1 {
		t.Fatalf("expected one error reply, got %v", c.replies)
	}
}

func TestHandle_PublicRepoAllowedWithOptIn(t *testing.T) {
	h, _, v := newTestHandler(t, func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	})
	v.public = true
	h.cfg.AllowPublicRepos = true
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	result := h.Handle(context.Background(), msg)
	if result != ResultNewIssueCreated {
		t.Fatalf("expected NewIssueCreated, got %v", result)
	}
}

func TestHandle_RepoNotAllowedIsPolicyError(t *testing.T) {
	h, c, _ := newTestHandler(t, func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	})
	h.cfg.AllowedRepos = []string{"acme/other"}
	msg := chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	result := h.Handle(context.Background(), msg)
	if result != ResultError {
		t.Fatalf("expected Error, got %v", result)
	}
	if len(c.replies) != 1 {
		t.Fatalf("expected one error reply, got %v", c.replies)
	}
}
