package engine

import (
	"testing"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

func TestSnapshot_Matches_Exactness(t *testing.T) {
	rs := domain.NewRuleSet([]string{"ads.example.com"}, nil, 1, time.Now())
	snap := newSnapshot(rs)

	tests := []struct {
		host string
		want bool
	}{
		{"ads.example.com", true},
		// blocklists are authored against bare domains; live traffic may
		// carry the www prefix
		{"www.ads.example.com", true},
		// no suffix matching
		{"sub.ads.example.com", false},
		{"example.com", false},
		// no www stripping
		{"ads.example.co", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := snap.matches(tt.host); got != tt.want {
			t.Errorf("matches(%q) = %v; want %v", tt.host, got, tt.want)
		}
	}
}

func TestSnapshot_Matches_WWWIsNotStripped(t *testing.T) {
	// Only the www-prefixed form is listed: the bare domain must not match,
	// while the listed form and its double-www probe behave per contract.
	rs := domain.NewRuleSet([]string{"www.evil.test"}, nil, 1, time.Now())
	snap := newSnapshot(rs)

	if snap.matches("evil.test") != true {
		// "www." + "evil.test" == "www.evil.test" which is listed
		t.Error("evil.test should match via the www probe")
	}
	if !snap.matches("www.evil.test") {
		t.Error("www.evil.test is listed and must match")
	}
	if snap.matches("www.www.evil.test") {
		t.Error("www.www.evil.test must not match")
	}
}

func TestSnapshot_EmptyRuleSet(t *testing.T) {
	snap := newSnapshot(domain.EmptyRuleSet())
	for _, host := range []string{"a.test", "www.a.test", ""} {
		if snap.matches(host) {
			t.Errorf("empty snapshot matched %q", host)
		}
	}
}

func TestSnapshot_BloomCoversAllDomains(t *testing.T) {
	// Every listed domain must pass the bloom pre-filter; false negatives
	// would silently disable blocking.
	domains := []string{"a.test", "b.test", "c.test", "www.d.test"}
	rs := domain.NewRuleSet(domains, nil, 1, time.Now())
	snap := newSnapshot(rs)

	for _, d := range domains {
		if !snap.matches(d) {
			t.Errorf("listed domain %q did not match", d)
		}
	}
}
