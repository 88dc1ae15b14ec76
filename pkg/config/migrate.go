package config

import (
	"fmt"
	"os"

	"github.com/cuemby/cloner/pkg/types"
)

// Migration is the planned upgrade of one cloner configuration file
type Migration struct {
	Path        string
	FromVersion int
	ToVersion   int
	Config      *types.Configuration

	original []byte
}

// Needed reports whether the file is older than the current schema
func (m *Migration) Needed() bool {
	return m.FromVersion < m.ToVersion
}

// PlanMigration reads a configuration file and prepares its upgrade without
// touching the file. The upgraded document is validated like any other load.
func PlanMigration(path string) (*Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open file (%s): %w", path, err)
	}
	format := FormatFromPath(path)

	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}
	from, err := documentVersion(doc)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfiguration(data, format)
	if err != nil {
		return nil, fmt.Errorf("configuration file (%s): %w", path, err)
	}

	return &Migration{
		Path:        path,
		FromVersion: from,
		ToVersion:   types.CurrentVersion,
		Config:      cfg,
		original:    data,
	}, nil
}

// Apply writes the original bytes to backupPath, when set, and then
// replaces the file with the upgraded document
func (m *Migration) Apply(backupPath string) error {
	if !m.Needed() {
		return nil
	}
	if backupPath != "" {
		if err := os.WriteFile(backupPath, m.original, 0600); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}
	return WriteFile(m.Path, m.Config)
}
