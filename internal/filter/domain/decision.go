package domain

import "fmt"

// Action is the verdict the engine hands back to the host for one request.
type Action uint8

const (
	// ActionAllow lets the request proceed unmodified.
	ActionAllow Action = iota
	// ActionBlock cancels the request.
	ActionBlock
	// ActionRedirect re-targets the request to a rewritten URL.
	ActionRedirect
)

// String returns a stable string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("Action(%d)", a)
	}
}

// Decision represents the outcome of evaluating one request.
// Pure value type, produced fresh per request, carries no state.
type Decision struct {
	Action      Action
	RedirectURL string // set only when Action == ActionRedirect
	MatchedHost string // set only when Action == ActionBlock
}

// Allowed returns a pass-through decision.
func Allowed() Decision { return Decision{Action: ActionAllow} }

// Blocked returns a block decision recording the matched hostname.
func Blocked(host string) Decision {
	return Decision{Action: ActionBlock, MatchedHost: host}
}

// Redirected returns a redirect decision carrying the rewritten URL.
func Redirected(url string) Decision {
	return Decision{Action: ActionRedirect, RedirectURL: url}
}

// IsAllow is a convenience accessor.
func (d Decision) IsAllow() bool { return d.Action == ActionAllow }
