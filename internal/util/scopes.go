package util

import "strings"

// ParseScopes splits a space-delimited scope string (RFC 6749 Section 3.3)
// into its distinct values, preserving first-seen order.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// FormatScopes joins scopes into the space-delimited wire format.
func FormatScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IsSubset reports whether every element of subset is present in superset.
// An empty subset is a subset of anything.
func IsSubset(subset, superset []string) bool {
	if len(subset) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(superset))
	for _, s := range superset {
		set[s] = struct{}{}
	}
	for _, s := range subset {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the elements of required that are absent from present,
// in the order they appear in required.
func Missing(required, present []string) []string {
	set := make(map[string]struct{}, len(present))
	for _, s := range present {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range required {
		if _, ok := set[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
