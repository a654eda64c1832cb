package metadata

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// ResolvePlaceholders replaces every ${key} in s with values[key]. An unknown
// key is an error.
func ResolvePlaceholders(s string, values map[string]string) (string, error) {
	var missing string
	resolved := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := values[key]
		if !ok && missing == "" {
			missing = key
		}
		return v
	})

	if missing != "" {
		return "", fmt.Errorf("%w: unresolved placeholder ${%s}", ErrInvalidMetadata, missing)
	}
	return resolved, nil
}
