// Package clonecache implements the TTL- and size-bounded repository
// clone cache from §4.5: a concurrency-safe map from repo identifier to
// an on-disk working copy, a per-repo mutex so concurrent callers wait
// rather than clone twice, and a background eviction sweep. The
// coarse-mutex-guards-a-map-of-per-key-mutexes shape, and never holding
// the coarse mutex across I/O, is grounded on the locking discipline
// spec §5 itself prescribes; the actual clone step delegates to
// internal/safecmd, whose --depth 1 / core.hooksPath=/dev/null flags are
// grounded on tools/si/internal/githubbridge's git-invocation
// conventions.
package clonecache

import (
	"context"
	"os"
	"sync"
	"time"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/safecmd"
)

// Cloner performs the actual clone. Delegated to *safecmd.Runner in
// production; swappable in tests.
type Cloner interface {
	Clone(ctx context.Context, opts safecmd.CloneOptions) error
}

// Config tunes the cache per §6's clone_cache_ttl / clone_max_size_mb /
// cleanup_interval options.
type Config struct {
	MaxAge          time.Duration
	MaxTotalSizeMB  int64
	CleanupInterval time.Duration
	CloneMaxSizeMB  int64
	BaseDir         string
}

// DefaultConfig returns the baseline cache configuration.
func DefaultConfig(baseDir string) Config {
	return Config{
		MaxAge:          1 * time.Hour,
		MaxTotalSizeMB:  2048,
		CleanupInterval: 5 * time.Minute,
		CloneMaxSizeMB:  512,
		BaseDir:         baseDir,
	}
}

type entry struct {
	path      string
	createdAt time.Time
	lastUsed  time.Time
	sizeBytes int64
	refcount  int
	evicted   bool
	mu        sync.Mutex // per-repo clone mutex: serializes the actual clone
}

// Cache is a concurrency-safe repository clone cache.
type Cache struct {
	cfg    Config
	cloner Cloner

	mu      sync.Mutex // guards entries map only, never held across I/O
	entries map[string]*entry

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New builds a Cache and starts its background eviction sweep.
func New(cfg Config, cloner Cloner) *Cache {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	c := &Cache{
		cfg:       cfg,
		cloner:    cloner,
		entries:   map[string]*entry{},
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Handle is a scoped reference to a clone; callers MUST call Release
// when done.
type Handle struct {
	Path string
	repo string
	c    *Cache
}

// Release decrements the handle's refcount. If the entry was evicted
// while held, dropping the last refcount removes it from disk.
func (h Handle) Release() {
	h.c.release(h.repo)
}

// Acquire returns a handle to a fresh clone of repo, cloning under a
// per-repo mutex if absent or expired so concurrent callers wait rather
// than clone twice.
func (c *Cache) Acquire(ctx context.Context, repo, remoteURL, branch string) (Handle, error) {
	c.mu.Lock()
	e, ok := c.entries[repo]
	if !ok {
		e = &entry{}
		c.entries[repo] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := ok && e.path != "" && time.Since(e.createdAt) < c.cfg.MaxAge
	if !fresh {
		if e.path != "" {
			_ = os.RemoveAll(e.path)
			e.path = ""
		}
		dest := clonePath(c.cfg.BaseDir, repo)
		if err := c.cloner.Clone(ctx, safecmd.CloneOptions{
			RepoSpec:  repo,
			RemoteURL: remoteURL,
			Dest:      dest,
			Branch:    branch,
			Shallow:   true,
			MaxSizeMB: c.cfg.CloneMaxSizeMB,
		}); err != nil {
			return Handle{}, err
		}
		size, _ := dirSize(dest)
		e.path = dest
		e.createdAt = time.Now()
		e.sizeBytes = size
	}
	e.lastUsed = time.Now()
	e.refcount++

	return Handle{Path: e.path, repo: repo, c: c}, nil
}

func (c *Cache) release(repo string) {
	c.mu.Lock()
	e, ok := c.entries[repo]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.refcount--
	removed := e.refcount <= 0 && e.evicted
	path := e.path
	if removed {
		e.path = ""
	}
	e.mu.Unlock()
	if removed {
		_ = os.RemoveAll(path)
		c.mu.Lock()
		delete(c.entries, repo)
		c.mu.Unlock()
	}
}

// Stop halts the background sweep. Idempotent.
func (c *Cache) Stop() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *Cache) sweepLoop() {
	t := time.NewTicker(c.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	repos := make([]string, 0, len(c.entries))
	for repo := range c.entries {
		repos = append(repos, repo)
	}
	c.mu.Unlock()

	var total int64
	type candidate struct {
		repo     string
		lastUsed time.Time
	}
	var candidates []candidate

	for _, repo := range repos {
		c.mu.Lock()
		e, ok := c.entries[repo]
		c.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		age := time.Since(e.createdAt)
		size := e.sizeBytes
		lastUsed := e.lastUsed
		expired := e.path != "" && age > c.cfg.MaxAge
		e.mu.Unlock()

		total += size
		if expired {
			c.evict(repo)
			continue
		}
		candidates = append(candidates, candidate{repo: repo, lastUsed: lastUsed})
	}

	maxBytes := c.cfg.MaxTotalSizeMB * 1024 * 1024
	if maxBytes <= 0 || total <= maxBytes {
		return
	}
	// LRU-by-last-access eviction within the oversized set.
	for i := 0; i < len(candidates)-1; i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].lastUsed.Before(candidates[i].lastUsed) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	for _, cand := range candidates {
		if total <= maxBytes {
			break
		}
		c.mu.Lock()
		e, ok := c.entries[cand.repo]
		c.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		size := e.sizeBytes
		e.mu.Unlock()
		c.evict(cand.repo)
		total -= size
	}
}

// evict marks an entry for removal. A refcount>0 entry is marked but
// left on disk until its last handle releases (§4.5 ownership).
func (c *Cache) evict(repo string) {
	c.mu.Lock()
	e, ok := c.entries[repo]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.evicted = true
	path := e.path
	canRemoveNow := e.refcount <= 0
	if canRemoveNow {
		e.path = ""
	}
	e.mu.Unlock()
	if canRemoveNow {
		_ = os.RemoveAll(path)
		c.mu.Lock()
		delete(c.entries, repo)
		c.mu.Unlock()
	}
}

func clonePath(baseDir, repo string) string {
	safe := make([]byte, 0, len(repo))
	for i := 0; i < len(repo); i++ {
		c := repo[i]
		if c == '/' {
			safe = append(safe, '_')
			continue
		}
		safe = append(safe, c)
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return baseDir + string(os.PathSeparator) + string(safe)
}

func dirSize(root string) (int64, error) {
	var total int64
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, errs.Wrap(errs.KindCommandFailure, "failed to read clone directory", err)
	}
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.IsDir() {
			sub, _ := dirSize(root + string(os.PathSeparator) + de.Name())
			total += sub
			continue
		}
		total += info.Size()
	}
	return total, nil
}
