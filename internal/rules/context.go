package rules

import "strings"

// DataContext is the read view a rule evaluation sees: the applicant
// data namespace, the external data-source namespace, and the flat
// execution variables. Evaluation never mutates it.
type DataContext struct {
	Applicant map[string]any
	External  map[string]any
	Variables map[string]any
}

// Resolve looks up a dotted field path. Resolution order: applicant
// namespace, then external data, then the flat variable namespace
// (full path as a literal key first, then dotted traversal).
// The second return is false when the path is unresolved; an unresolved
// field never matches any operator except is_null.
func (d *DataContext) Resolve(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}

	if v, ok := lookupPath(d.Applicant, path); ok {
		return v, true
	}
	if v, ok := lookupPath(d.External, path); ok {
		return v, true
	}
	if d.Variables != nil {
		if v, ok := d.Variables[path]; ok {
			return v, true
		}
	}
	return lookupPath(d.Variables, path)
}

// lookupPath traverses a dotted path through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
