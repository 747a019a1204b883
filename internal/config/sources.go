package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketpulse/internal/domain/entity"
)

// sourceYAML mirrors the on-disk shape of one source-registry entry. Params
// is left as a generic map so rss/x/rest can each carry their own
// kind-specific keys without this package knowing their shape.
type sourceYAML struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// LoadSourcesYAML reads a source registry file and returns the validated
// SourceDescriptor list. A missing file is treated as zero sources rather
// than an error, since a fresh deployment may not have one yet.
func LoadSourcesYAML(path string) ([]entity.SourceDescriptor, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read sources file %q: %w", path, err)
	}

	var parsed struct {
		Sources []sourceYAML `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse sources file %q: %w", path, err)
	}

	out := make([]entity.SourceDescriptor, 0, len(parsed.Sources))
	for _, s := range parsed.Sources {
		desc := entity.SourceDescriptor{
			Name:       s.Name,
			Kind:       entity.SourceKind(s.Kind),
			KindParams: s.Params,
		}
		if err := desc.Validate(); err != nil {
			return nil, fmt.Errorf("config: source %q: %w", s.Name, err)
		}
		out = append(out, desc)
	}
	return out, nil
}
