package translate

import "strings"

// Document is a JSON entity document.
type Document = map[string]any

// Lookup returns the value at a dotted path. JSON null counts as absent.
func Lookup(doc Document, path string) (any, bool) {
	var current any = doc
	for segment := range strings.SplitSeq(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = obj[segment]; !ok {
			return nil, false
		}
	}
	return current, current != nil
}

// Set stores v at a dotted path, creating intermediate objects.
func Set(doc Document, path string, v any) {
	segments := strings.Split(path, ".")
	obj := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := obj[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			obj[segment] = next
		}
		obj = next
	}
	obj[segments[len(segments)-1]] = v
}

// Remove deletes the value at a dotted path if present.
func Remove(doc Document, path string) {
	segments := strings.Split(path, ".")
	obj := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := obj[segment].(map[string]any)
		if !ok {
			return
		}
		obj = next
	}
	delete(obj, segments[len(segments)-1])
}

// Clone returns a deep copy of the objects and arrays in doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
