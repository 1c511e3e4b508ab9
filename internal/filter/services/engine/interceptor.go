package engine

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/utils"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/state"
)

// Stats is the control-surface view of the engine.
type Stats struct {
	BlockedCount uint64    `json:"blocked_count"`
	CleanedCount uint64    `json:"cleaned_count"`
	DomainCount  int       `json:"domain_count"`
	Enabled      bool      `json:"enabled"`
	LastUpdate   time.Time `json:"last_update"`
}

// Options configures an Engine.
type Options struct {
	Store         state.Store
	Logger        logpkg.Logger
	Clock         clock.Clock
	CacheSize     int           // sanitizer rewrite cache capacity; 0 disables
	FlushInterval time.Duration // counter persistence debounce; 0 means 1s
}

// Engine is the synchronous decision point invoked by the host for every
// outgoing request. It composes the domain matcher and the parameter
// sanitizer against the active RuleSet snapshot.
//
// Evaluate never performs I/O and never returns an error: internal failures
// resolve to Allow so a sanitizer bug can never stop the host from
// completing a request. Counter persistence is debounced onto a flusher
// goroutine (Run) to keep writes off the hot path.
type Engine struct {
	active    atomic.Pointer[snapshot]
	sanitizer *sanitizer
	store     state.Store
	logger    logpkg.Logger
	clock     clock.Clock

	enabled       atomic.Bool
	blockedCount  atomic.Uint64
	cleanedCount  atomic.Uint64
	countersDirty atomic.Bool
	flushInterval time.Duration
}

// New constructs an Engine, rehydrating counters and the enable toggle from
// the store. Load failures are logged and fall back to defaults; they never
// prevent startup.
func New(opts Options) (*Engine, error) {
	san, err := newSanitizer(opts.CacheSize)
	if err != nil {
		return nil, err
	}

	flush := opts.FlushInterval
	if flush <= 0 {
		flush = time.Second
	}

	e := &Engine{
		sanitizer:     san,
		store:         opts.Store,
		logger:        opts.Logger,
		clock:         opts.Clock,
		flushInterval: flush,
	}
	e.active.Store(newSnapshot(domain.EmptyRuleSet()))

	blocked, cleaned, err := opts.Store.LoadCounters()
	if err != nil {
		opts.Logger.Warn(map[string]any{"error": err.Error()}, "counters_load_failed")
	}
	e.blockedCount.Store(blocked)
	e.cleanedCount.Store(cleaned)

	enabled, err := opts.Store.LoadEnabled()
	if err != nil {
		opts.Logger.Warn(map[string]any{"error": err.Error()}, "toggle_load_failed")
		enabled = true
	}
	e.enabled.Store(enabled)

	return e, nil
}

// SetRuleSet atomically publishes a new active RuleSet. The bloom filter is
// built before the swap, and the sanitizer cache is purged after it, since
// memoized rewrites may reflect the old parameter rules.
func (e *Engine) SetRuleSet(rs *domain.RuleSet) {
	e.active.Store(newSnapshot(rs))
	e.sanitizer.purge()
	e.logger.Info(map[string]any{
		"version": rs.Version(),
		"domains": rs.DomainCount(),
	}, "ruleset_activated")
}

// ActiveRuleSet returns the currently active snapshot's RuleSet.
func (e *Engine) ActiveRuleSet() *domain.RuleSet {
	return e.active.Load().rules
}

// Evaluate decides whether one request is allowed, blocked, or redirected to
// a cleaned URL. Malformed input always resolves to Allow.
func (e *Engine) Evaluate(req domain.Request) domain.Decision {
	if !e.enabled.Load() {
		return domain.Allowed()
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		e.logger.Debug(map[string]any{"url": req.URL, "error": err.Error()}, "request_url_unparseable")
		return domain.Allowed()
	}
	host := utils.CanonicalHostname(u.Hostname())
	if host == "" {
		return domain.Allowed()
	}

	snap := e.active.Load()

	if snap.matches(host) {
		e.blockedCount.Add(1)
		e.countersDirty.Store(true)
		return domain.Blocked(host)
	}

	if req.IsGetEquivalent() {
		if clean, changed := e.sanitizer.sanitize(u, snap.rules.Params()); changed {
			e.cleanedCount.Add(1)
			e.countersDirty.Store(true)
			return domain.Redirected(clean)
		}
	}

	return domain.Allowed()
}

// Enabled reports the current state of the global toggle.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Toggle flips the global enable toggle, persists it, and returns the new
// value. A persistence failure is logged; the in-memory toggle still flips.
func (e *Engine) Toggle() bool {
	now := !e.enabled.Load()
	e.enabled.Store(now)
	if err := e.store.SaveEnabled(now); err != nil {
		e.logger.Warn(map[string]any{"error": err.Error()}, "toggle_persist_failed")
	}
	e.logger.Info(map[string]any{"enabled": now}, "toggle_flipped")
	return now
}

// Stats returns the control-surface snapshot of counters and rule state.
func (e *Engine) Stats() Stats {
	rs := e.ActiveRuleSet()
	return Stats{
		BlockedCount: e.blockedCount.Load(),
		CleanedCount: e.cleanedCount.Load(),
		DomainCount:  rs.DomainCount(),
		Enabled:      e.enabled.Load(),
		LastUpdate:   rs.FetchedAt(),
	}
}

// Run persists dirty counters at most once per flush interval until the
// context is cancelled, then performs a final flush.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.FlushCounters()
			return
		case <-ticker.C:
			if e.countersDirty.Swap(false) {
				e.persistCounters()
			}
		}
	}
}

// FlushCounters persists the counters immediately if they are dirty.
func (e *Engine) FlushCounters() {
	if e.countersDirty.Swap(false) {
		e.persistCounters()
	}
}

func (e *Engine) persistCounters() {
	if err := e.store.SaveCounters(e.blockedCount.Load(), e.cleanedCount.Load()); err != nil {
		// Non-fatal: memory stays authoritative, retried on the next flush.
		e.countersDirty.Store(true)
		e.logger.Warn(map[string]any{"error": err.Error()}, "counters_persist_failed")
	}
}
