package domain

// Request is the descriptor the host hands the engine for each outgoing
// request. The engine never sees the body or headers; header mutation is the
// host's concern.
type Request struct {
	URL    string // full request URL as the host saw it
	Method string // HTTP method, e.g. "GET"
}

// IsGetEquivalent reports whether the request method has no side-effecting
// body semantics relevant to query tampering. Parameter rewriting is applied
// only to these methods; rewriting a state-changing request risks altering
// application behavior, not just tracking.
func (r Request) IsGetEquivalent() bool {
	switch r.Method {
	case "GET", "HEAD", "":
		return true
	default:
		return false
	}
}
