package auth

import (
	"context"
	"sync"
	"time"
)

// Registry owns one Synchronizer per view tree, keyed by view id.
// Entries idle for longer than the idle TTL are closed and evicted.
type Registry struct {
	factory  ClientFactory
	profiles ProfileStore
	logger   Logger
	provider LoggerProvider
	idleTTL  time.Duration
	sweep    time.Duration
	max      int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type registryEntry struct {
	sync     *Synchronizer
	lastSeen time.Time
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry) *Registry

// WithIdleTTL sets how long an unused view tree is kept
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) *Registry {
		if ttl > 0 {
			r.idleTTL = ttl
		}
		return r
	}
}

// WithSweepInterval sets how often idle entries are collected
func WithSweepInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) *Registry {
		if interval > 0 {
			r.sweep = interval
		}
		return r
	}
}

// WithMaxEntries caps the number of live view trees. When full, the least
// recently seen entry is closed to make room. Zero means no cap.
func WithMaxEntries(max int) RegistryOption {
	return func(r *Registry) *Registry {
		if max >= 0 {
			r.max = max
		}
		return r
	}
}

// WithRegistryLoggerProvider sets the logger provider, synchronizers get
// a child logger from it.
func WithRegistryLoggerProvider(provider LoggerProvider) RegistryOption {
	return func(r *Registry) *Registry {
		r.provider = provider
		r.logger = ResolveLogger("auth.registry", provider, nil)
		return r
	}
}

// NewRegistry starts the idle sweeper
func NewRegistry(factory ClientFactory, profiles ProfileStore, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		factory:  factory,
		profiles: profiles,
		logger:   ResolveLogger("auth.registry", nil, nil),
		idleTTL:  30 * time.Minute,
		sweep:    time.Minute,
		max:      10000,
		now:      time.Now,
		entries:  make(map[string]*registryEntry),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		r = opt(r)
	}

	r.wg.Add(1)
	go r.sweepLoop()

	return r
}

// Acquire returns the synchronizer for viewID, creating and starting it on
// first use. Start runs in the background so callers can render a loading
// state while the session hydrates.
func (r *Registry) Acquire(ctx context.Context, viewID string) (*Synchronizer, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	if entry, ok := r.entries[viewID]; ok {
		entry.lastSeen = r.now()
		r.mu.Unlock()
		return entry.sync, nil
	}

	client, err := r.factory.NewClient(ctx, viewID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	var evicted *registryEntry
	if r.max > 0 && len(r.entries) >= r.max {
		evicted = r.evictOldestLocked()
	}

	s := NewSynchronizer(client, r.profiles,
		WithSynchronizerLogger(ResolveLogger("auth.sync", r.provider, nil)),
	)
	r.entries[viewID] = &registryEntry{sync: s, lastSeen: r.now()}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := s.Start(r.ctx); err != nil {
			r.logger.Error("synchronizer start failed", "view_id", viewID, "error", err)
		}
	}()

	r.mu.Unlock()

	if evicted != nil {
		if err := evicted.sync.Close(); err != nil {
			r.logger.Warn("evicted synchronizer close failed", "error", err)
		}
	}

	r.logger.Debug("view tree registered", "view_id", viewID)

	return s, nil
}

func (r *Registry) evictOldestLocked() *registryEntry {
	var (
		oldestID string
		oldest   *registryEntry
	)
	for viewID, entry := range r.entries {
		if oldest == nil || entry.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = viewID, entry
		}
	}
	if oldest != nil {
		delete(r.entries, oldestID)
		r.logger.Debug("view tree evicted, registry full", "view_id", oldestID)
	}
	return oldest
}

// Release closes and forgets the synchronizer for viewID
func (r *Registry) Release(viewID string) error {
	r.mu.Lock()
	entry, ok := r.entries[viewID]
	delete(r.entries, viewID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return entry.sync.Close()
}

// Len returns the number of live view trees
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the sweeper and closes every synchronizer
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	r.cancel()

	var firstErr error
	for viewID, entry := range entries {
		if err := entry.sync.Close(); err != nil {
			r.logger.Warn("synchronizer close failed", "view_id", viewID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	r.wg.Wait()
	return firstErr
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var stale []*registryEntry
	for viewID, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			stale = append(stale, entry)
			delete(r.entries, viewID)
		}
	}
	r.mu.Unlock()

	for _, entry := range stale {
		if err := entry.sync.Close(); err != nil {
			r.logger.Warn("idle synchronizer close failed", "error", err)
		}
	}

	if len(stale) > 0 {
		r.logger.Debug("evicted idle view trees", "count", len(stale))
	}

	return len(stale)
}
