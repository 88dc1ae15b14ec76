package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/cloner/pkg/types"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadConfiguration reads a cloner configuration file
func LoadConfiguration(path string) (*types.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open file (%s): %w", path, err)
	}
	cfg, err := ParseConfiguration(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("configuration file (%s): %w", path, err)
	}
	return cfg, nil
}

// ParseConfiguration decodes, migrates and strictly validates a cloner
// configuration. Unknown fields and missing input/output sections are rejected.
func ParseConfiguration(data []byte, format Format) (*types.Configuration, error) {
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}
	if err := Migrate(doc); err != nil {
		return nil, err
	}
	for _, field := range []string{"input", "output"} {
		if _, ok := doc[field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	var cfg types.Configuration
	if err := strictDecode(doc, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Migrate upgrades a decoded document to types.CurrentVersion in place.
// Version 1 kept split_traffic under output.http.
func Migrate(doc map[string]any) error {
	version, err := documentVersion(doc)
	if err != nil {
		return err
	}
	if version > types.CurrentVersion {
		return fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, types.CurrentVersion)
	}

	if version < 2 {
		if output, ok := doc["output"].(map[string]any); ok {
			if http, ok := output["http"].(map[string]any); ok {
				if split, ok := http["split_traffic"]; ok {
					if _, set := output["split_traffic"]; !set {
						output["split_traffic"] = split
					}
					delete(http, "split_traffic")
				}
			}
		}
	}
	doc["version"] = types.CurrentVersion
	return nil
}

// documentVersion reads the schema version; documents without one are version 1
func documentVersion(doc map[string]any) (int, error) {
	v, ok := doc["version"]
	if !ok {
		return 1, nil
	}
	n, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: version must be an integer, got %v", ErrInvalidFormat, v)
	}
	return n, nil
}

func decodeDocument(data []byte, format Format) (map[string]any, error) {
	var doc map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFormat)
	}
	return doc, nil
}

// strictDecode round-trips a generic document through JSON into v,
// rejecting fields v does not declare
func strictDecode(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// WriteFile encodes v in the format chosen by the extension and replaces
// path atomically
func WriteFile(path string, v any) error {
	data, err := marshal(FormatFromPath(path), v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Encode writes v to w in the given format
func Encode(w io.Writer, format Format, v any) error {
	data, err := marshal(format, v)
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func marshal(format Format, v any) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
