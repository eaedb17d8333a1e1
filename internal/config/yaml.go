package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file name searched for in . and $HOME/.kevd.
const DefaultFileName = "kevd.yaml"

// ErrConfigExists is returned by WriteDefaultConfig when the target file is
// already present and overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// MarshalYAML renders cfg as a kevd.yaml document.
func MarshalYAML(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	data, err := MarshalYAML(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
