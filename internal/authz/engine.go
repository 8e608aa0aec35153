package authz

import (
	"strings"
	"sync/atomic"
)

// PermissionSet is the caller's granted permission identifiers, keyed for
// O(1) membership checks.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a PermissionSet from a permission slice.
func NewPermissionSet(perms []string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the given permission.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Decision is the outcome of a single authorization check.
type Decision struct {
	// Allowed is the verdict.
	Allowed bool
	// Matched reports whether any rule covered the request. When false the
	// verdict came from the default policy.
	Matched bool
	// Permission is the requirement taken from the matched rule, empty when
	// no rule matched.
	Permission string
}

// Engine evaluates requests against the current rule snapshot.
//
// The read path is lock-free and performs no I/O: it loads the snapshot
// pointer exactly once per call and works off that local reference, so a
// concurrent swap can never tear a decision between two table versions.
type Engine struct {
	snapshot atomic.Pointer[Snapshot]
}

// NewEngine returns an engine with an empty snapshot. Swap must install a
// real table before the engine serves traffic; Manager enforces that at
// startup.
func NewEngine() *Engine {
	e := &Engine{}
	e.snapshot.Store(NewSnapshot(nil))
	return e
}

// Swap atomically replaces the active snapshot. Concurrent readers finish
// against whichever table they captured.
func (e *Engine) Swap(s *Snapshot) {
	if s == nil {
		s = NewSnapshot(nil)
	}
	e.snapshot.Store(s)
}

// Current returns the active snapshot.
func (e *Engine) Current() *Snapshot {
	return e.snapshot.Load()
}

// Decide matches the request against the snapshot in longest-path-first
// order and takes the first hit: a rule whose pattern matches the path and
// whose method is MethodAll or equals the request method. A matched rule
// allows the request iff its permission is in the caller's set.
//
// When no rule matches, the default policy applies: allow any authenticated
// caller, deny anonymous ones. Unmapped routes are deliberately permissive
// to signed-in users; flipping this to deny-by-default is a one-line change
// here but must be paired with an exhaustive rule table.
func (e *Engine) Decide(perms PermissionSet, authenticated bool, method, path string) Decision {
	method = strings.ToUpper(method)
	rules := e.snapshot.Load().Rules()

	for _, rule := range rules {
		if rule.Method != MethodAll && rule.Method != method {
			continue
		}
		if !MatchPath(rule.Path, path) {
			continue
		}
		// First hit wins. Ordering, not scoring, decides specificity.
		return Decision{
			Allowed:    authenticated && perms.Has(rule.Permission),
			Matched:    true,
			Permission: rule.Permission,
		}
	}

	return Decision{Allowed: authenticated}
}
