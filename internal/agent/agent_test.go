package agent

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/clonecache"
	"silexa/triagebot/internal/codeanalyzer"
	"silexa/triagebot/internal/issue"
	"silexa/triagebot/internal/issuematch"
	"silexa/triagebot/internal/llm"
	"silexa/triagebot/internal/pipeline"
	"silexa/triagebot/internal/safecmd"
	"silexa/triagebot/internal/traceback"
)

const testTraceback = `Traceback (most recent call last):
  File "app/main.py", line 10, in run
    do_thing()
ValueError: boom`

// slowChat emits one message on Connect, then blocks until released.
type slowChat struct {
	out chan chat.Message
}

func newSlowChat() *slowChat { return &slowChat{out: make(chan chat.Message, 1)} }

func (c *slowChat) Connect(ctx context.Context) (<-chan chat.Message, error) { return c.out, nil }
func (c *slowChat) Disconnect(ctx context.Context) error                    { return nil }
func (c *slowChat) SendReply(ctx context.Context, channelID, text, threadID string) error {
	return nil
}
func (c *slowChat) AddReaction(ctx context.Context, channelID, messageID, name string) error {
	return nil
}
func (c *slowChat) RemoveReaction(ctx context.Context, channelID, messageID, name string) error {
	return nil
}

type fakeVCS struct{}

func (fakeVCS) SearchIssues(ctx context.Context, repo, query string, state issue.State, maxResults int) ([]issue.SearchResult, error) {
	return nil, nil
}
func (fakeVCS) GetIssue(ctx context.Context, repo string, number int) (*issue.Issue, error) {
	return nil, nil
}
func (fakeVCS) CreateIssue(ctx context.Context, repo string, create issue.Create) (issue.Issue, error) {
	return issue.Issue{Number: 1, Title: create.Title, State: issue.StateOpen}, nil
}
func (fakeVCS) CloneRepository(ctx context.Context, repo, dest, branch string, shallow bool) (string, error) {
	return dest, nil
}
func (fakeVCS) GetFileContent(ctx context.Context, repo, path, ref string) (string, bool, error) {
	return "", false, nil
}
func (fakeVCS) GetDefaultBranch(ctx context.Context, repo string) (string, error) { return "main", nil }
func (fakeVCS) IsRepoPublic(ctx context.Context, repo string) (bool, error)       { return false, nil }

// blockingLLM blocks in AnalyzeError until release is closed, simulating
// an in-flight worker that's still running when Stop is called. It
// records whether ctx was cancelled before release fired, which would
// only happen if the worker's context was torn down before it finished
// on its own.
type blockingLLM struct {
	release       chan struct{}
	cancelledFlag atomic.Bool
}

func (l *blockingLLM) AnalyzeError(ctx context.Context, pt traceback.ParsedTraceback, code []codeanalyzer.CodeContext, extra string) (llm.ErrorAnalysis, error) {
	select {
	case <-l.release:
	case <-ctx.Done():
		l.cancelledFlag.Store(true)
		return llm.ErrorAnalysis{}, ctx.Err()
	}
	return llm.ErrorAnalysis{RootCause: "boom", Severity: llm.SeverityLow, Confidence: 0.5}, nil
}
func (l *blockingLLM) GenerateIssueTitle(ctx context.Context, pt traceback.ParsedTraceback, analysis llm.ErrorAnalysis) (string, error) {
	return "boom in do_thing", nil
}
func (l *blockingLLM) GenerateIssueBody(ctx context.Context, pt traceback.ParsedTraceback, analysis llm.ErrorAnalysis, code []codeanalyzer.CodeContext) (string, error) {
	return "body", nil
}
func (l *blockingLLM) CalculateSimilarity(ctx context.Context, pt traceback.ParsedTraceback, candidates []issue.Issue) (map[int]float64, error) {
	return map[int]float64{}, nil
}
func (l *blockingLLM) ModelName() string     { return "blocking-fake" }
func (l *blockingLLM) MaxContextTokens() int { return 8192 }

type noopCloner struct{}

func (noopCloner) Clone(ctx context.Context, opts safecmd.CloneOptions) error { return nil }

func newTestOrchestrator(t *testing.T, fakeLLM *blockingLLM) (*Orchestrator, *slowChat) {
	t.Helper()
	search := func(ctx context.Context, repo, query string, includeClosed bool, maxResults int) ([]issue.SearchResult, error) {
		return nil, nil
	}
	matcher, err := issuematch.New(issuematch.DefaultConfig(), search, nil)
	if err != nil {
		t.Fatalf("issuematch.New: %v", err)
	}
	clones := clonecache.New(clonecache.DefaultConfig(t.TempDir()), noopCloner{})
	t.Cleanup(clones.Stop)
	analyzer := codeanalyzer.New(codeanalyzer.DefaultConfig(), nil)

	cfg := pipeline.DefaultConfig()
	cfg.DefaultRepo = "acme/widgets"
	cfg.ProcessingTimeout = 5 * time.Second

	c := newSlowChat()
	handler := pipeline.New(cfg, c, fakeVCS{}, fakeLLM, clones, analyzer, matcher, nil)

	orch := New(Config{MaxConcurrent: 2, ShutdownTimeout: 200 * time.Millisecond}, c, handler, clones, log.New(log.Writer(), "test ", 0), nil)
	return orch, c
}

// TestStop_WaitsForInFlightWorkerBeforeCancelling verifies that an
// in-flight worker is allowed to finish on its own when it completes
// within ShutdownTimeout, rather than being cancelled the instant Stop is
// called.
func TestStop_WaitsForInFlightWorkerBeforeCancelling(t *testing.T) {
	fake := &blockingLLM{release: make(chan struct{})}
	orch, c := newTestOrchestrator(t, fake)

	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.out <- chat.Message{ChannelID: "C1", MessageID: "M1", Text: testTraceback}

	// Give the drainer time to pick up the message and block inside
	// blockingLLM.AnalyzeError.
	time.Sleep(50 * time.Millisecond)

	var stopErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stopErr = orch.Stop(context.Background())
	}()

	// Release the blocked worker well before ShutdownTimeout elapses; if
	// Stop had cancelled workerCtx immediately, AnalyzeError would have
	// observed ctx.Done() instead of waiting on release.
	time.Sleep(50 * time.Millisecond)
	close(fake.release)
	wg.Wait()

	if stopErr != nil {
		t.Fatalf("unexpected stop error: %v", stopErr)
	}
	if fake.cancelledFlag.Load() {
		t.Fatalf("expected in-flight worker to finish on its own, not be cancelled before release")
	}
}

func TestReady_FalseBeforeStartAndAfterStop(t *testing.T) {
	fake := &blockingLLM{release: make(chan struct{})}
	close(fake.release)
	orch, _ := newTestOrchestrator(t, fake)

	if orch.Ready() {
		t.Fatalf("expected not ready before Start")
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !orch.Ready() {
		t.Fatalf("expected ready after Start")
	}
	if err := orch.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if orch.Ready() {
		t.Fatalf("expected not ready after Stop")
	}
}
