package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/state"
)

// Compiler produces candidate RuleSets. Implemented by rules.Compiler.
type Compiler interface {
	Compile(ctx context.Context, version uint64) (*domain.RuleSet, error)
}

// UpdaterOptions configures an Updater.
type UpdaterOptions struct {
	Compiler   Compiler
	Engine     *Engine
	Store      state.Store
	Clock      clock.Clock
	Logger     logpkg.Logger
	Params     []domain.ParamRule // parameter rules applied to rehydrated snapshots
	Interval   time.Duration      // recurring refresh period
	StaleAfter time.Duration      // persisted-rules age that triggers a startup fetch
}

// Updater keeps the engine's RuleSet fresh without ever blocking request
// interception. At most one fetch-and-compile cycle is in flight at a time;
// triggers arriving during a cycle are coalesced into it, not queued.
//
// Failures retain the previous RuleSet in memory and on disk (fail-closed to
// last-known-good); no error here ever reaches the interception path.
type Updater struct {
	compiler   Compiler
	engine     *Engine
	store      state.Store
	clock      clock.Clock
	logger     logpkg.Logger
	params     []domain.ParamRule
	interval   time.Duration
	staleAfter time.Duration

	cycle   sync.Mutex // held for the duration of one fetch-and-compile cycle
	version atomic.Uint64
}

// NewUpdater constructs an Updater.
func NewUpdater(opts UpdaterOptions) *Updater {
	return &Updater{
		compiler:   opts.Compiler,
		engine:     opts.Engine,
		store:      opts.Store,
		clock:      opts.Clock,
		logger:     opts.Logger,
		params:     opts.Params,
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
	}
}

// Bootstrap rehydrates the engine's RuleSet from the persisted snapshot so
// the process is protecting traffic before any network round-trip. It
// returns true when the persisted rules are missing or older than the
// staleness threshold and an immediate fetch should be triggered.
func (u *Updater) Bootstrap() bool {
	snap, err := u.store.LoadRules()
	if err != nil {
		u.logger.Warn(map[string]any{"error": err.Error()}, "rules_rehydrate_failed")
		return true
	}
	if snap.Empty() {
		u.logger.Info(nil, "no_persisted_rules")
		return true
	}

	updated := time.Unix(snap.UpdatedUnix, 0)
	rs := domain.NewRuleSet(snap.Domains, u.params, snap.Version, updated)
	u.version.Store(snap.Version)
	u.engine.SetRuleSet(rs)

	stale := u.clock.Now().Sub(updated) > u.staleAfter
	u.logger.Info(map[string]any{
		"domains": rs.DomainCount(),
		"updated": updated,
		"stale":   stale,
	}, "rules_rehydrated")
	return stale
}

// Run triggers a cycle every interval until the context is cancelled.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = u.RunCycle(ctx)
		}
	}
}

// ForceUpdate triggers an immediate cycle and returns without waiting for
// it. Completion is observed later via the stats surface.
func (u *Updater) ForceUpdate() {
	go func() {
		_ = u.RunCycle(context.Background())
	}()
}

// RunCycle executes one fetch-and-compile cycle. A cycle already in flight
// makes this call a no-op. On success the new RuleSet is persisted and then
// atomically swapped in; on any failure the previous RuleSet stays active.
func (u *Updater) RunCycle(ctx context.Context) error {
	if !u.cycle.TryLock() {
		u.logger.Debug(nil, "update_coalesced")
		return nil
	}
	defer u.cycle.Unlock()

	version := u.version.Add(1)
	u.logger.Info(map[string]any{"version": version}, "update_started")

	rs, err := u.compiler.Compile(ctx, version)
	if err != nil {
		u.logger.Warn(map[string]any{
			"version": version,
			"error":   err.Error(),
		}, "update_failed_retaining_previous")
		return err
	}

	// Persist before publishing so a restart rehydrates the same snapshot
	// the live engine is using. A write failure is non-fatal: the in-memory
	// swap still happens and the old on-disk snapshot remains intact.
	if err := u.store.SaveRules(rs.Domains(), rs.Version(), rs.FetchedAt().Unix()); err != nil {
		u.logger.Warn(map[string]any{"error": err.Error()}, "rules_persist_failed")
	}

	u.engine.SetRuleSet(rs)
	return nil
}
