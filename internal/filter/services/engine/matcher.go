package engine

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// bloomFPRate is the target false-positive rate for the per-snapshot bloom
// filter. A false positive only costs the two map probes it was meant to
// skip, so the rate can be generous.
const bloomFPRate = 0.001

// snapshot pairs an immutable RuleSet with a bloom filter built over its
// domain keys. Both are constructed off to the side and published together
// by a single atomic pointer swap, so the interception path always observes
// a fully-built pair.
type snapshot struct {
	rules *domain.RuleSet
	bloom *bitsbloom.BloomFilter
}

func newSnapshot(rs *domain.RuleSet) *snapshot {
	n := uint(rs.DomainCount())
	if n == 0 {
		n = 1
	}
	bf := bitsbloom.NewWithEstimates(n, bloomFPRate)
	for _, d := range rs.Domains() {
		bf.AddString(d)
	}
	return &snapshot{rules: rs, bloom: bf}
}

// matches decides whether a canonical hostname is blocked: the exact name is
// listed, or prefixing it with "www." yields a match. Blocklists are authored
// against bare domains while live traffic often carries the www subdomain.
//
// The inverse direction is deliberately not performed: a present "www."
// prefix is never stripped, and subdomains are not matched against parent
// entries. A bloom definite-negative on both forms skips the map probes
// entirely; this runs on every request the host makes.
func (s *snapshot) matches(host string) bool {
	if host == "" {
		return false
	}
	if s.bloom.TestString(host) && s.rules.HasDomain(host) {
		return true
	}
	www := "www." + host
	return s.bloom.TestString(www) && s.rules.HasDomain(www)
}
