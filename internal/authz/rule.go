// Package authz implements the dynamic authorization decision engine.
//
// Purpose:
//
//	This package decides, for every inbound request, whether the caller holds
//	the permission mapped to the target route. The rule table lives in three
//	tiers: an in-process immutable snapshot (read on every request), a shared
//	Redis hash (read on refresh), and Postgres as the authoritative source
//	(read on cache miss or forced reload).
//
// Dependencies:
//   - github.com/redis/go-redis/v9: shared rule cache and invalidation channel
//   - github.com/go-redsync/redsync/v4: distributed mutex for cache rebuilds
//   - github.com/rs/zerolog: structured logging
//   - internal/storage/postgres: authoritative rule source
//
// Key Responsibilities:
//   - Rule and Snapshot types with the longest-path-first ordering invariant
//   - Engine performs lock-free pattern matching against the current snapshot
//   - Loader rebuilds the table cache-aside with stampede protection
//   - Manager owns the snapshot lifecycle (startup, ticker backstop, hot reload)
//   - Broadcaster/Listener keep all cluster nodes coherent over Redis pub/sub
//
// Thread Safety:
//   - The snapshot is swapped through an atomic pointer; readers capture the
//     reference once per decision and never observe a partial table
//   - Loader and Manager are safe for concurrent use
//
// Error Handling:
//   - A failed first load is fatal (the process must not serve without rules)
//   - Failed refreshes after startup are logged; the old snapshot keeps serving
package authz

import (
	"sort"
	"strings"
)

// MethodAll is the verb wildcard: a rule with this method matches any
// request method.
const MethodAll = "ALL"

// keySeparator splits the composite METHOD:PATH key used in the shared
// Redis hash. Only the first separator counts; paths contain colons never.
const keySeparator = ":"

// Rule maps one route pattern to the permission required to call it.
type Rule struct {
	// Method is an upper-case HTTP verb, or MethodAll.
	Method string
	// Path is an Ant-style pattern ("/system/user/**", "/v1/orgs/*/users").
	Path string
	// Permission is the identifier the caller must hold ("system:user:list").
	Permission string
}

// Key returns the composite cache key for the rule ("GET:/system/users").
func (r Rule) Key() string {
	return r.Method + keySeparator + r.Path
}

// splitKey is the inverse of Rule.Key. The bool reports whether the key
// carried a separator at all.
func splitKey(key string) (method, path string, ok bool) {
	i := strings.Index(key, keySeparator)
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// Snapshot is an immutable, ordered view of the full rule table. It is
// built once per refresh and swapped in as a unit; nothing mutates it
// afterwards.
type Snapshot struct {
	rules []Rule
}

// NewSnapshot copies and orders the given rules by descending literal path
// length, counting only non-wildcard characters ("/a/b" outranks "/a/**"
// even though the raw string is shorter). The ordering is the sole
// tie-break mechanism for matching: the engine takes the first hit, so a
// more specific pattern must sort before the wildcard that also covers it.
// Equal literal lengths are broken lexicographically by the METHOD:PATH
// key, so the order is a pure function of the rule data and every node
// builds the same table no matter how its source iterated.
func NewSnapshot(rules []Rule) *Snapshot {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		li, lj := literalLen(ordered[i].Path), literalLen(ordered[j].Path)
		if li != lj {
			return li > lj
		}
		return ordered[i].Key() < ordered[j].Key()
	})
	return &Snapshot{rules: ordered}
}

// literalLen counts the pattern characters that match literally.
func literalLen(path string) int {
	n := 0
	for i := 0; i < len(path); i++ {
		if path[i] != '*' && path[i] != '?' {
			n++
		}
	}
	return n
}

// Rules returns the ordered rule slice. Callers must not modify it.
func (s *Snapshot) Rules() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Len reports the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
