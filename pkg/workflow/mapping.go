package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// resolveSource resolves one input-mapping source expression against the
// context. A leading "$" makes the value a dotted path lookup
// ("$steps.summarize.output"); anything else is a literal.
func resolveSource(context map[string]any, source string) any {
	if !strings.HasPrefix(source, "$") {
		return source
	}

	value, ok := lookupPath(context, strings.TrimPrefix(source, "$"))
	if !ok {
		return nil
	}

	return value
}

// lookupPath walks a dotted path through nested string-keyed maps.
func lookupPath(context map[string]any, path string) (any, bool) {
	current := any(context)

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// defaultInput picks the input for a step with no input mapping: the
// context's "input" value when present, otherwise the first context value in
// sorted key order so the choice is stable.
func defaultInput(context map[string]any) any {
	if value, ok := context["input"]; ok {
		return value
	}

	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		return context[key]
	}

	return nil
}

// stringify renders a context value as agent input text.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
