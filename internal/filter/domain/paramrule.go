package domain

import (
	"fmt"
	"strings"
)

// ParamRuleKind defines how a tracking-parameter rule matches parameter names.
//
// literal - matches the parameter name exactly (case-insensitive)
// prefix  - matches any parameter name starting with the rule's name
type ParamRuleKind uint8

const (
	// ParamRuleLiteral matches only the exact parameter name.
	ParamRuleLiteral ParamRuleKind = iota
	// ParamRulePrefix matches any parameter name with the rule name as prefix.
	ParamRulePrefix
)

// String returns a stable string representation of the rule kind.
func (k ParamRuleKind) String() string {
	switch k {
	case ParamRuleLiteral:
		return "literal"
	case ParamRulePrefix:
		return "prefix"
	default:
		return fmt.Sprintf("ParamRuleKind(%d)", k)
	}
}

// ParamRule is a single tracking-parameter pattern.
//
// Notes:
// - Name is stored lowercased without the wildcard marker.
// - A trailing '*' in the raw pattern marks a prefix rule; anything else is a
//   literal, even when the entry looks wildcard-ish elsewhere in the string.
type ParamRule struct {
	Name string
	Kind ParamRuleKind
}

// ParseParamRule converts a raw pattern into a ParamRule.
func ParseParamRule(raw string) (ParamRule, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ParamRule{}, fmt.Errorf("empty parameter pattern")
	}
	if strings.HasSuffix(s, "*") {
		name := strings.TrimSuffix(s, "*")
		if name == "" {
			return ParamRule{}, fmt.Errorf("prefix pattern %q has no literal prefix", raw)
		}
		return ParamRule{Name: name, Kind: ParamRulePrefix}, nil
	}
	return ParamRule{Name: s, Kind: ParamRuleLiteral}, nil
}

// MustParamRules parses a list of raw patterns and panics on the first
// invalid entry. Intended for static built-in pattern lists.
func MustParamRules(raw ...string) []ParamRule {
	out := make([]ParamRule, 0, len(raw))
	for _, r := range raw {
		rule, err := ParseParamRule(r)
		if err != nil {
			panic(err)
		}
		out = append(out, rule)
	}
	return out
}

// Matches reports whether the rule matches the provided parameter name.
// The name must already be lowercased.
func (r ParamRule) Matches(name string) bool {
	switch r.Kind {
	case ParamRulePrefix:
		return strings.HasPrefix(name, r.Name)
	default:
		return name == r.Name
	}
}
