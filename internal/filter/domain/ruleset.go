package domain

import "time"

// RuleSet is an immutable snapshot of active filtering rules.
//
// A RuleSet is never mutated after construction: updates always build a new
// RuleSet off to the side and swap the active reference, so the interception
// path never races the update path.
type RuleSet struct {
	domains   map[string]struct{}
	params    []ParamRule
	version   uint64
	fetchedAt time.Time
}

// NewRuleSet builds a RuleSet from the provided domains and parameter rules.
// Domains are expected to be canonical (lowercased, no trailing dot); the
// input slices are copied so callers cannot mutate the snapshot afterwards.
func NewRuleSet(domains []string, params []ParamRule, version uint64, fetchedAt time.Time) *RuleSet {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	ps := make([]ParamRule, len(params))
	copy(ps, params)
	return &RuleSet{
		domains:   set,
		params:    ps,
		version:   version,
		fetchedAt: fetchedAt,
	}
}

// EmptyRuleSet returns a RuleSet that blocks nothing and strips nothing.
func EmptyRuleSet() *RuleSet {
	return NewRuleSet(nil, nil, 0, time.Time{})
}

// HasDomain reports whether the exact canonical hostname is listed.
// No suffix matching is performed here; the www-prefix probe is the
// matcher's concern.
func (rs *RuleSet) HasDomain(name string) bool {
	_, ok := rs.domains[name]
	return ok
}

// DomainCount returns the number of blocked domains in the snapshot.
func (rs *RuleSet) DomainCount() int { return len(rs.domains) }

// Domains returns a copy of the blocked-domain list, in no particular order.
// Used for persistence and bloom construction, not on the request path.
func (rs *RuleSet) Domains() []string {
	out := make([]string, 0, len(rs.domains))
	for d := range rs.domains {
		out = append(out, d)
	}
	return out
}

// Params returns the ordered tracking-parameter rules.
// Callers must treat the returned slice as read-only.
func (rs *RuleSet) Params() []ParamRule { return rs.params }

// Version returns the snapshot version.
func (rs *RuleSet) Version() uint64 { return rs.version }

// FetchedAt returns when the snapshot was built.
func (rs *RuleSet) FetchedAt() time.Time { return rs.fetchedAt }
