// Package topic implements dot-segmented topic pattern matching and the
// process-wide registry of patterns with at least one interested consumer.
//
// Patterns support two wildcards: "*" matches exactly one segment and "#"
// matches zero or more segments, so "a.*.c" matches "a.b.c" but not
// "a.b.b.c", while "a.#" matches both "a" and "a.b.c.d".
package topic

import "strings"

// Match reports whether pattern topic-matches the concrete topic.
func Match(pattern, topic string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchSegments(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}
	switch pattern[0] {
	case "#":
		// Zero segments consumed, or one and keep going.
		if matchSegments(pattern[1:], topic) {
			return true
		}
		return len(topic) > 0 && matchSegments(pattern, topic[1:])
	case "*":
		return len(topic) > 0 && matchSegments(pattern[1:], topic[1:])
	default:
		return len(topic) > 0 && pattern[0] == topic[0] && matchSegments(pattern[1:], topic[1:])
	}
}
