package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/cloner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestPlanMigration_Version1(t *testing.T) {
	path := copyFixture(t, "cloner-v1.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	m, err := PlanMigration(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.FromVersion)
	assert.Equal(t, types.CurrentVersion, m.ToVersion)
	assert.True(t, m.Needed())
	assert.True(t, m.Config.Output.SplitTraffic)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "planning must not modify the file")
}

func TestMigration_Apply(t *testing.T) {
	path := copyFixture(t, "cloner-v1.json")
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	backup := path + ".backup"

	m, err := PlanMigration(path)
	require.NoError(t, err)
	require.NoError(t, m.Apply(backup))

	saved, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, original, saved)

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, types.CurrentVersion, cfg.Version)
	assert.True(t, cfg.Output.SplitTraffic)

	again, err := PlanMigration(path)
	require.NoError(t, err)
	assert.False(t, again.Needed())
}

func TestMigration_ApplyCurrentIsNoop(t *testing.T) {
	path := copyFixture(t, "cloner.yaml")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	m, err := PlanMigration(path)
	require.NoError(t, err)
	require.False(t, m.Needed())
	require.NoError(t, m.Apply(path+".backup"))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after))
	assert.NoFileExists(t, path+".backup")
}

func TestPlanMigration_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 9, "input": {}, "output": {}}`), 0644))

	_, err := PlanMigration(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = PlanMigration(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
