package eventbus

import "strings"

const (
	separator     = "."
	singleSegment = "*"
	multiSegment  = "#"
)

// IsPattern reports whether name contains wildcard segments.
func IsPattern(name string) bool {
	for _, part := range strings.Split(name, separator) {
		if part == singleSegment || part == multiSegment {
			return true
		}
	}
	return false
}

// Match reports whether event matches pattern. Segments are dot separated;
// "*" matches exactly one segment and a trailing "#" matches zero or more.
func Match(pattern, event string) bool {
	if pattern == event {
		return true
	}

	patternParts := strings.Split(pattern, separator)
	eventParts := strings.Split(event, separator)
	pLen, eLen := len(patternParts), len(eventParts)
	pi, ei := 0, 0

	for pi < pLen && ei < eLen {
		part := patternParts[pi]
		if part == multiSegment {
			return pi == pLen-1
		}
		if part != eventParts[ei] && part != singleSegment {
			return false
		}
		pi++
		ei++
	}
	if pi == pLen && ei == eLen {
		return true
	}
	// "offer.#" also matches "offer"
	return pi == pLen-1 && patternParts[pi] == multiSegment
}
