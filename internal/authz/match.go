package authz

import "strings"

// MatchPath reports whether an Ant-style pattern matches a request path.
//
// Supported wildcards, per segment:
//
//	?   matches exactly one character within a segment
//	*   matches zero or more characters within a segment
//	**  as a full segment, matches zero or more whole segments
//
// "/system/user/**" matches "/system/user", "/system/user/1" and
// "/system/user/1/roles". "/v1/orgs/*/users" matches "/v1/orgs/42/users"
// but not "/v1/orgs/42/users/7".
func MatchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// Trailing ** swallows the rest of the path.
			if len(pattern) == 1 {
				return true
			}
			// Try to match the remaining pattern at every suffix of path.
			for skip := 0; skip <= len(path); skip++ {
				if matchSegments(pattern[1:], path[skip:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		if !matchSegment(pattern[0], path[0]) {
			return false
		}
		pattern = pattern[1:]
		path = path[1:]
	}
	return len(path) == 0
}

// matchSegment matches a single pattern segment containing ? and *
// against a single path segment.
func matchSegment(pattern, seg string) bool {
	// Iterative glob with single-star backtracking.
	var starIdx, matchIdx = -1, 0
	p, s := 0, 0
	for s < len(seg) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == seg[s]):
			p++
			s++
		case p < len(pattern) && pattern[p] == '*':
			starIdx = p
			matchIdx = s
			p++
		case starIdx >= 0:
			p = starIdx + 1
			matchIdx++
			s = matchIdx
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
