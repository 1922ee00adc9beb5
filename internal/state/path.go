package state

import "strings"

// splitPath turns a dotted path like "state.profile.name" into its segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// getAtPath walks root following segments, returning (value, true) if every
// segment resolved through a map[string]any, or (nil, false) otherwise.
func getAtPath(root map[string]any, segments []string) (any, bool) {
	var cur any = root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setAtPath assigns value at segments under root, creating intermediate
// map[string]any nodes as needed. It returns false, without assigning, if
// segments is empty or an existing intermediate node is not a map.
func setAtPath(root map[string]any, segments []string, value any) bool {
	if len(segments) == 0 {
		return false
	}
	cur := root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		cur = m
	}
	cur[segments[len(segments)-1]] = value
	return true
}
