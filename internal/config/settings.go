package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/satindergrewal/screenrec/internal/overlay"
)

// LoadSettings reads overlay defaults from a YAML file. Keys missing from
// the file keep their DefaultSettings values. An empty path returns the
// defaults.
func LoadSettings(path string) (overlay.Settings, error) {
	s := overlay.DefaultSettings()
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&s); err != nil {
		return overlay.DefaultSettings(), fmt.Errorf("decode %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return overlay.DefaultSettings(), fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
