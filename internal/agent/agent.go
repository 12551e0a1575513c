// Package agent implements the Agent Orchestrator from §4.8: it owns the
// chat/VCS/LLM provider handles (indirectly, through the already-wired
// pipeline.Handler), the clone cache, and a bounded worker pool dispatching
// pipeline.Handle on each inbound chat message. The
// spawn-a-drainer-goroutine-plus-bounded-worker-pool shape is grounded on
// agents/telegram-bot/main.go's `go n.pollUpdates()` dispatch, generalized
// from an unbounded per-update goroutine to a semaphore-bounded pool; the
// signal-driven graceful shutdown mirrors
// apps/ReleaseParty/backend/cmd/releaseparty-api/main.go's
// signal.Notify/httpSrv.Close() sequence, generalized from one HTTP server
// to one chat connection plus in-flight pipeline workers.
package agent

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"silexa/triagebot/internal/chat"
	"silexa/triagebot/internal/clonecache"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/pipeline"
)

// Config tunes the orchestrator per §6's max_concurrent/shutdown_timeout.
type Config struct {
	MaxConcurrent   int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the baseline orchestrator configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5, ShutdownTimeout: 30 * time.Second}
}

// Orchestrator owns the chat connection, the message pipeline, and the
// clone cache's lifecycle, dispatching one pipeline run per inbound
// message on a worker bounded by a semaphore of size MaxConcurrent.
type Orchestrator struct {
	cfg     Config
	chat    chat.Provider
	handler *pipeline.Handler
	clones  *clonecache.Cache
	logger  *log.Logger
	events  eventlog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	stopDrain    chan struct{}
	workerCtx    context.Context
	workerCancel context.CancelFunc
	stopOnce     sync.Once
	ready        atomic.Bool
}

// New builds an Orchestrator. logger/events may be nil.
func New(cfg Config, chatProvider chat.Provider, handler *pipeline.Handler, clones *clonecache.Cache, logger *log.Logger, events eventlog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "agent ", log.LstdFlags|log.LUTC)
	}
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &Orchestrator{
		cfg:     cfg,
		chat:    chatProvider,
		handler: handler,
		clones:  clones,
		logger:  logger,
		events:  events,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Ready reports whether Start has completed connecting the chat provider
// and is dispatching messages — the host's /readyz handler reads this.
func (o *Orchestrator) Ready() bool {
	return o.ready.Load()
}

// Start connects the chat provider and spawns the drainer goroutine.
// Returns once the connection is established; the drainer and its workers
// run until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	messages, err := o.chat.Connect(ctx)
	if err != nil {
		return err
	}
	o.stopDrain = make(chan struct{})
	o.workerCtx, o.workerCancel = context.WithCancel(context.Background())
	o.ready.Store(true)
	go o.drain(messages)
	o.logger.Printf("started, max_concurrent=%d", o.cfg.MaxConcurrent)
	return nil
}

// drain reads inbound messages and dispatches one pipeline worker per
// message, blocking on the semaphore when the pool is saturated —
// backpressure is implicit, per §4.8. It stops accepting new messages as
// soon as stopDrain is closed, independent of whether in-flight workers
// (running on workerCtx) have finished yet.
func (o *Orchestrator) drain(messages <-chan chat.Message) {
	for {
		select {
		case <-o.stopDrain:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case o.sem <- struct{}{}:
			case <-o.stopDrain:
				return
			}
			o.wg.Add(1)
			go o.dispatch(msg)
		}
	}
}

func (o *Orchestrator) dispatch(msg chat.Message) {
	defer o.wg.Done()
	defer func() { <-o.sem }()
	result := o.handler.Handle(o.workerCtx, msg)
	o.events.Log(map[string]any{
		"event":      "dispatch_complete",
		"channel_id": msg.ChannelID,
		"message_id": msg.MessageID,
		"result":     string(result),
	})
}

// Stop implements §4.8's graceful shutdown: refuse new dispatches
// immediately, wait up to ShutdownTimeout for in-flight workers to finish
// on their own, and only then force-cancel any remainders, disconnect the
// chat provider, and sweep the clone cache. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var stopErr error
	o.stopOnce.Do(func() {
		o.ready.Store(false)
		if o.stopDrain != nil {
			close(o.stopDrain)
		}

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(o.cfg.ShutdownTimeout):
			o.logger.Printf("shutdown_timeout exceeded, forcing remaining workers to cancel")
		}
		if o.workerCancel != nil {
			o.workerCancel()
		}

		if err := o.chat.Disconnect(ctx); err != nil {
			stopErr = err
		}
		if o.clones != nil {
			o.clones.Stop()
		}
		o.logger.Printf("stopped")
	})
	return stopErr
}
