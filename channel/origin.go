package channel

import "regexp"

// AnyOrigin matches messages from, and posts messages to, any origin.
const AnyOrigin = "*"

var originPattern = regexp.MustCompile(`^https?://[-a-zA-Z0-9_.]+(:\d+)?`)

// normalizeOrigin validates an origin pattern and keeps only the scheme, host
// and port of it.
func normalizeOrigin(origin string) (string, error) {
	if origin == AnyOrigin {
		return origin, nil
	}
	if origin == "" {
		return "", &ConfigError{Field: "origin", Reason: "origin is required"}
	}
	m := originPattern.FindString(origin)
	if m == "" {
		return "", &ConfigError{Field: "origin", Reason: "must be \"*\" or an http(s) origin, got " + origin}
	}
	return m, nil
}

// originMatches reports whether a message from origin is acceptable for the
// given pattern.
func originMatches(pattern, origin string) bool {
	return pattern == AnyOrigin || pattern == origin
}
