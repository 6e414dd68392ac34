package mirrorconfig

import (
	"strings"
)

const defaultPrefix = "+"

// ApplyDefaults resolves "+key" siblings in a section. Each "+key" value is a
// default for key in every other entry of the section. Explicit values win;
// map-valued defaults fill missing nested keys. The "+" keys are removed. The
// input is not modified.
func ApplyDefaults(section map[string]any, path string) (map[string]any, error) {
	defaults := make(map[string]any)
	for key, value := range section {
		if strings.HasPrefix(key, defaultPrefix) {
			name := strings.TrimSpace(strings.TrimLeft(key, defaultPrefix))
			if name == "" {
				return nil, configErrorf(path, "default %q has no key name", key)
			}
			defaults[name] = value
		}
	}

	out := make(map[string]any, len(section))
	for key, value := range section {
		if strings.HasPrefix(key, defaultPrefix) {
			continue
		}
		entry, err := entryMap(value, path+"."+key)
		if err != nil {
			return nil, err
		}
		out[key] = fillDefaults(entry, defaults)
	}
	return out, nil
}

func fillDefaults(entry, defaults map[string]any) map[string]any {
	out := deepCopyMap(entry)
	for key, def := range defaults {
		current, ok := out[key]
		if !ok || current == nil {
			out[key] = deepCopy(def)
			continue
		}
		currentMap, currentIsMap := current.(map[string]any)
		defMap, defIsMap := def.(map[string]any)
		if currentIsMap && defIsMap {
			out[key] = fillDefaults(currentMap, defMap)
		}
	}
	return out
}

func entryMap(value any, path string) (map[string]any, error) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, configErrorf(path, "expected a mapping, got %T", value)
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return append([]string{}, v...)
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = deepCopy(value)
	}
	return out
}
