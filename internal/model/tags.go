package model

// MergeTags appends extra tags to base, dropping duplicates and empty strings
// while preserving first-seen order. The result is always a fresh slice, so
// a parent event's tag set is never aliased by a derived child's.
func MergeTags(base []string, extra ...string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, t := range base {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	for _, t := range extra {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	return merged
}
