package types

import "strings"

// KeySeparator joins the segments of a cache key: the operation name
// followed by sorted k=v parameter segments.
const KeySeparator = ":"

// KeyRoot returns the first segment of a cache key or invalidation
// prefix, i.e. the operation name. Both cache layers index live keys
// by root so prefix invalidation enumerates only candidate keys.
func KeyRoot(key string) string {
	if i := strings.Index(key, KeySeparator); i >= 0 {
		return key[:i]
	}
	return key
}

// MatchesPrefix reports whether key falls under prefix. Matching is
// segment-aware: prefix "userSummary:userId=7" matches
// "userSummary:userId=7:..." but not "userSummary:userId=71:...".
func MatchesPrefix(key, prefix string) bool {
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+KeySeparator)
}
