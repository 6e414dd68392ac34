package mirrorconfig

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML mirror document. ${VAR} references are expanded from the
// environment before parsing.
func Load(fs afero.Fs, path string) (map[string]any, error) {
	payload, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read mirror config %s: %w", path, err)
	}
	return Parse(payload, os.Getenv)
}

// Parse expands variables with lookup and decodes a YAML mirror document.
func Parse(payload []byte, lookup func(string) string) (map[string]any, error) {
	expanded := os.Expand(string(payload), lookup)
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, wrapConfigError("", "parse yaml", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
