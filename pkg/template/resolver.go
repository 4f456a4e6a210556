// Package template expands ${NAME} placeholders inside nested configuration values.
//
// Substitution is a single pass: replacement values are not scanned again, so a
// value that itself contains a placeholder is reported as unresolved rather than
// expanded recursively. Template authors must supply fully concrete values.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/davidthor/clonectl/pkg/errors"
)

// placeholderPattern matches ${NAME} placeholders in string values.
var placeholderPattern = regexp.MustCompile(`\$\{([^{}]*)\}`)

// Resolve returns a structurally identical copy of value with every ${NAME}
// placeholder replaced by vars[NAME]. Names are case-sensitive. The input is
// never modified.
func Resolve(value interface{}, vars map[string]string) (interface{}, error) {
	return resolve(value, vars, "")
}

// ResolveString resolves the placeholders of a single string.
func ResolveString(s string, vars map[string]string) (string, error) {
	out, err := resolveString(s, vars, "")
	if err != nil {
		return "", err
	}
	return out, nil
}

// Placeholders lists the distinct placeholders (e.g. "${TARGET_DATABASE}")
// still present anywhere in value, sorted.
func Placeholders(value interface{}) []string {
	seen := make(map[string]bool)
	walkStrings(value, func(s string) {
		for _, m := range placeholderPattern.FindAllString(s, -1) {
			seen[m] = true
		}
	})

	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

func resolve(value interface{}, vars map[string]string, path string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, vars, path)

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for _, key := range sortedKeys(v) {
			resolved, err := resolve(v[key], vars, joinKey(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case map[interface{}]interface{}:
		keys := make([]string, 0, len(v))
		byName := make(map[string]interface{}, len(v))
		for k := range v {
			name := fmt.Sprintf("%v", k)
			keys = append(keys, name)
			byName[name] = k
		}
		sort.Strings(keys)

		out := make(map[interface{}]interface{}, len(v))
		for _, name := range keys {
			orig := byName[name]
			resolved, err := resolve(v[orig], vars, joinKey(path, name))
			if err != nil {
				return nil, err
			}
			out[orig] = resolved
		}
		return out, nil

	case map[string]string:
		out := make(map[string]string, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			resolved, err := resolveString(v[key], vars, joinKey(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := resolve(item, vars, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			resolved, err := resolveString(item, vars, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		// Numbers, booleans, nil and other scalars pass through untouched.
		return value, nil
	}
}

func resolveString(s string, vars map[string]string, path string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var unresolved string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return val
		}
		if unresolved == "" {
			unresolved = match
		}
		return match
	})

	if unresolved != "" {
		return "", errors.UnresolvedVariable(unresolved, displayPath(path))
	}

	// A substituted value carrying its own placeholder is not expanded again.
	if leftover := placeholderPattern.FindString(result); leftover != "" {
		return "", errors.UnresolvedVariable(leftover, displayPath(path))
	}

	return result, nil
}

func walkStrings(value interface{}, fn func(string)) {
	switch v := value.(type) {
	case string:
		fn(v)
	case map[string]interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case map[interface{}]interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case map[string]string:
		for _, item := range v {
			fn(item)
		}
	case []interface{}:
		for _, item := range v {
			walkStrings(item, fn)
		}
	case []string:
		for _, item := range v {
			fn(item)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
