package bolt

import (
	"encoding/binary"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-filter/internal/filter/repos/state"
)

var (
	bucketDomains  = []byte("domains")
	bucketMeta     = []byte("meta")
	bucketCounters = []byte("counters")
	bucketSettings = []byte("settings")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
	keyBlocked = []byte("blocked")
	keyCleaned = []byte("cleaned")
	keyEnabled = []byte("enabled")
)

// boltStore implements state.Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (state.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDomains, bucketMeta, bucketCounters, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// SaveRules replaces the persisted domain set in a single transaction, so a
// crash mid-write can never leave a partial list behind.
func (s *boltStore) SaveRules(domains []string, version uint64, updatedUnix int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketDomains); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketDomains)
		if err != nil {
			return err
		}
		for _, d := range domains {
			if err := b.Put([]byte(d), []byte{1}); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyVersion, u64bytes(version)); err != nil {
			return err
		}
		return meta.Put(keyUpdated, u64bytes(uint64(updatedUnix)))
	})
}

func (s *boltStore) LoadRules() (state.Snapshot, error) {
	var snap state.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketDomains); b != nil {
			snap.Domains = make([]string, 0, b.Stats().KeyN)
			if err := b.ForEach(func(k, _ []byte) error {
				snap.Domains = append(snap.Domains, string(k))
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				snap.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				snap.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return snap, err
}

func (s *boltStore) SaveCounters(blocked, cleaned uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if err := b.Put(keyBlocked, u64bytes(blocked)); err != nil {
			return err
		}
		return b.Put(keyCleaned, u64bytes(cleaned))
	})
}

func (s *boltStore) LoadCounters() (blocked, cleaned uint64, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if b == nil {
			return nil
		}
		if v := b.Get(keyBlocked); len(v) == 8 {
			blocked = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keyCleaned); len(v) == 8 {
			cleaned = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return blocked, cleaned, err
}

func (s *boltStore) SaveEnabled(enabled bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		val := byte(0)
		if enabled {
			val = 1
		}
		return tx.Bucket(bucketSettings).Put(keyEnabled, []byte{val})
	})
}

func (s *boltStore) LoadEnabled() (bool, error) {
	enabled := true // on by default until the user toggles
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return nil
		}
		if v := b.Get(keyEnabled); len(v) == 1 {
			enabled = v[0] == 1
		}
		return nil
	})
	return enabled, err
}

func u64bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
