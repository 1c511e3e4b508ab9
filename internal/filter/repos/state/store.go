package state

// Snapshot is the persisted form of an active rule set, sufficient to
// rehydrate a RuleSet at startup without a network round-trip.
type Snapshot struct {
	Domains     []string
	Version     uint64
	UpdatedUnix int64 // seconds since epoch; 0 when nothing was ever persisted
}

// Empty reports whether the snapshot holds no persisted rules.
func (s Snapshot) Empty() bool { return len(s.Domains) == 0 }

// Store abstracts the durable local state: the serialized rule set, the
// block/clean counters, and the global enable toggle.
//
// Persistence failures are non-fatal by policy: in-memory state stays
// authoritative for the process lifetime and writes are retried on the next
// mutation.
type Store interface {
	// SaveRules atomically replaces the persisted domain set and metadata.
	SaveRules(domains []string, version uint64, updatedUnix int64) error
	// LoadRules returns the persisted snapshot, or an empty one when the
	// store has never been written.
	LoadRules() (Snapshot, error)

	SaveCounters(blocked, cleaned uint64) error
	LoadCounters() (blocked, cleaned uint64, err error)

	SaveEnabled(enabled bool) error
	// LoadEnabled returns true when the toggle was never persisted:
	// filtering is on by default.
	LoadEnabled() (bool, error)

	Close() error
}
