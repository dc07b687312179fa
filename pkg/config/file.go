package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// mergeFile decodes the YAML file at path over cfg. Keys absent from the
// file keep their current values; unknown keys are rejected.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.PortalBaseURL = strings.TrimRight(cfg.PortalBaseURL, "/")
	cfg.IAAABaseURL = strings.TrimRight(cfg.IAAABaseURL, "/")
	cfg.VideoAPIBaseURL = strings.TrimRight(cfg.VideoAPIBaseURL, "/")
	return nil
}
