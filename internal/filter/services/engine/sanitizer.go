package engine

import (
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// rewriteResult is a cached sanitization outcome for one raw query string.
type rewriteResult struct {
	changed bool
	query   string // rewritten raw query; meaningful only when changed
}

// sanitizer strips known tracking parameters from URL query strings.
//
// Matching is repeated for identical query strings across many requests, so
// results are memoized in an LRU keyed by the raw query. The cache must be
// purged whenever the active parameter rules change.
type sanitizer struct {
	cache *lru.Cache[string, rewriteResult] // nil when caching is disabled
}

func newSanitizer(cacheSize int) (*sanitizer, error) {
	if cacheSize <= 0 {
		return &sanitizer{}, nil
	}
	c, err := lru.New[string, rewriteResult](cacheSize)
	if err != nil {
		return nil, err
	}
	return &sanitizer{cache: c}, nil
}

// purge drops all memoized rewrites. Called on rule-set swap.
func (s *sanitizer) purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// sanitize returns the rewritten URL and true when at least one tracking
// parameter was removed. A URL with no query short-circuits without any
// allocation. Matching parameters are deleted; all other parameters keep
// their original encoding and order.
func (s *sanitizer) sanitize(u *url.URL, params []domain.ParamRule) (string, bool) {
	if u.RawQuery == "" || len(params) == 0 {
		return "", false
	}

	res, ok := s.lookup(u.RawQuery)
	if !ok {
		res = rewriteQuery(u.RawQuery, params)
		s.store(u.RawQuery, res)
	}
	if !res.changed {
		return "", false
	}

	clean := *u
	clean.RawQuery = res.query
	return clean.String(), true
}

func (s *sanitizer) lookup(rawQuery string) (rewriteResult, bool) {
	if s.cache == nil {
		return rewriteResult{}, false
	}
	return s.cache.Get(rawQuery)
}

func (s *sanitizer) store(rawQuery string, res rewriteResult) {
	if s.cache != nil {
		s.cache.Add(rawQuery, res)
	}
}

// rewriteQuery walks the raw query left to right, dropping every parameter
// whose lowercased name matches any rule. Segments are kept verbatim, so a
// parameter that survives is byte-identical to what the client sent.
func rewriteQuery(rawQuery string, params []domain.ParamRule) rewriteResult {
	segments := strings.Split(rawQuery, "&")
	kept := segments[:0]
	changed := false

	for _, seg := range segments {
		name := seg
		if i := strings.IndexByte(seg, '='); i >= 0 {
			name = seg[:i]
		}
		if matchesAny(strings.ToLower(name), params) {
			changed = true
			continue
		}
		kept = append(kept, seg)
	}

	if !changed {
		return rewriteResult{}
	}
	return rewriteResult{changed: true, query: strings.Join(kept, "&")}
}

func matchesAny(name string, params []domain.ParamRule) bool {
	for _, p := range params {
		if p.Matches(name) {
			return true
		}
	}
	return false
}
