package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current values; unknown keys are rejected. Secrets
// (API keys, DATABASE_URL) are never read from the file.
//
// Example file:
//
//	store:
//	  driver: sqlite
//	  sqlite_path: /var/lib/uplink/data.db
//	cache:
//	  ttl: 12h
//	search:
//	  default_sources: [reuters, apnews]
func LoadFile(path string, cfg *RetrievalConfig) error {
	// #nosec G304 -- path comes from the operator's environment
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
