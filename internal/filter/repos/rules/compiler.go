package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/rules/parsers"
)

// ErrTooFewDomains is returned when a compiled candidate falls below the
// sanity-guard threshold. The caller must keep its previous RuleSet active.
var ErrTooFewDomains = errors.New("compiled domain set below sanity threshold")

// ErrNoSources is returned when every configured source failed to fetch.
var ErrNoSources = errors.New("no blocklist source could be fetched")

// DefaultTrackingParams is the built-in tracking-parameter pattern list.
// A trailing '*' marks a prefix pattern; everything else matches literally.
var DefaultTrackingParams = domain.MustParamRules(
	"utm_*",
	"fbclid",
	"gclid",
	"dclid",
	"gbraid",
	"wbraid",
	"msclkid",
	"twclid",
	"igshid",
	"mc_eid",
	"yclid",
	"_hsenc",
	"_hsmi",
	"mkt_tok",
	"vero_*",
	"oly_anon_id",
	"oly_enc_id",
	"rb_clickid",
	"s_cid",
	"ref",
	"referrer",
)

// CompilerOptions configures a Compiler.
type CompilerOptions struct {
	Fetcher    Fetcher
	Sources    []string
	Params     []domain.ParamRule
	MinDomains int
	Clock      clock.Clock
	Logger     logpkg.Logger
}

// Compiler turns raw remote blocklist text into RuleSet snapshots.
type Compiler struct {
	fetcher    Fetcher
	sources    []string
	params     []domain.ParamRule
	minDomains int
	clock      clock.Clock
	logger     logpkg.Logger
}

// NewCompiler constructs a Compiler.
func NewCompiler(opts CompilerOptions) *Compiler {
	return &Compiler{
		fetcher:    opts.Fetcher,
		sources:    opts.Sources,
		params:     opts.Params,
		minDomains: opts.MinDomains,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// Compile fetches every configured source, parses the payloads, and merges
// the surviving domains into a single candidate RuleSet.
//
// A source that fails to fetch or parse is logged and skipped; it never
// aborts compilation of the others. The whole candidate is discarded
// (ErrTooFewDomains) when the merged set is smaller than the sanity
// threshold, which protects against a truncated fetch silently shrinking
// protection to near-zero.
func (c *Compiler) Compile(ctx context.Context, version uint64) (*domain.RuleSet, error) {
	merged := make([]string, 0, 65536)
	seen := make(map[string]struct{}, 65536)
	fetched := 0

	for _, src := range c.sources {
		body, err := c.fetcher.Fetch(ctx, src)
		if err != nil {
			c.logger.Warn(map[string]any{"source": src, "error": err.Error()}, "source_fetch_failed")
			continue
		}

		domains, err := parsers.ParseHosts(bytes.NewReader(body), src, c.logger)
		if err != nil {
			c.logger.Warn(map[string]any{"source": src, "error": err.Error()}, "source_parse_failed")
			continue
		}

		fetched++
		for _, d := range domains {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			merged = append(merged, d)
		}
		c.logger.Info(map[string]any{"source": src, "domains": len(domains)}, "source_compiled")
	}

	if fetched == 0 {
		return nil, ErrNoSources
	}
	if len(merged) < c.minDomains {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrTooFewDomains, len(merged), c.minDomains)
	}

	rs := domain.NewRuleSet(merged, c.params, version, c.clock.Now())
	c.logger.Info(map[string]any{
		"version": version,
		"domains": rs.DomainCount(),
		"sources": fetched,
	}, "ruleset_compiled")
	return rs, nil
}
