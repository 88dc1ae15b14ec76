package gor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/cloner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutable creates an empty file standing in for the gor binary
func fakeExecutable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func baseConfig() *types.Configuration {
	return &types.Configuration{
		Input: types.Input{
			Port: 8080,
			Paths: types.Paths{
				Allow:    []string{"/a"},
				Disallow: []string{},
				Rewrite:  []string{},
			},
		},
		Output: types.Output{
			HTTP: &types.HTTPOutput{
				Hosts:   types.Hosts("http://x.com"),
				Rate:    "50%",
				Workers: 2,
			},
		},
	}
}

func countFlag(args []string, flag string) int {
	n := 0
	for _, a := range args {
		if a == flag {
			n++
		}
	}
	return n
}

func TestSynthesize_Scenario(t *testing.T) {
	exe := fakeExecutable(t)

	args, err := Synthesize(baseConfig(), Options{Executable: exe})
	require.NoError(t, err)

	assert.Equal(t, []string{
		exe,
		"--input-raw", ":8080",
		"--http-allow-url", "/a",
		"--output-http", "http://x.com|50%",
		"--output-http-workers", "2",
	}, args)
}

func TestSynthesize_AsRoot(t *testing.T) {
	exe := fakeExecutable(t)

	args, err := Synthesize(baseConfig(), Options{Executable: exe, AsRoot: true})
	require.NoError(t, err)
	assert.Equal(t, "sudo", args[0])
	assert.Equal(t, exe, args[1])

	args, err = Synthesize(baseConfig(), Options{Executable: exe, AsRoot: true, PrivilegePrefix: "doas"})
	require.NoError(t, err)
	assert.Equal(t, "doas", args[0])
}

func TestSynthesize_ExecutableNotFound(t *testing.T) {
	args, err := Synthesize(baseConfig(), Options{Executable: filepath.Join(t.TempDir(), "missing")})
	assert.Nil(t, args)
	assert.ErrorIs(t, err, ErrExecutableNotFound)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSynthesize_InvalidPort(t *testing.T) {
	exe := fakeExecutable(t)

	for _, port := range []int{0, -1, -8080, 65536} {
		cfg := baseConfig()
		cfg.Input.Port = port

		args, err := Synthesize(cfg, Options{Executable: exe})
		assert.Nil(t, args, "port %d", port)
		assert.ErrorIs(t, err, ErrInvalidPort, "port %d", port)

		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "input.port", cfgErr.Field)
	}
}

func TestSynthesize_InputTCP(t *testing.T) {
	exe := fakeExecutable(t)
	cfg := baseConfig()
	cfg.Input.Type = types.InputTypeTCP

	args, err := Synthesize(cfg, Options{Executable: exe})
	require.NoError(t, err)
	assert.Equal(t, []string{"--input-tcp", ":8080"}, args[1:3])
	assert.Zero(t, countFlag(args, FlagInputRaw))

	cfg.Input.Type = "udp"
	_, err = Synthesize(cfg, Options{Executable: exe})
	assert.ErrorIs(t, err, ErrInvalidInputType)
}

func TestSynthesize_InvalidEntries(t *testing.T) {
	exe := fakeExecutable(t)

	tests := []struct {
		name    string
		mutate  func(*types.Configuration)
		wantErr error
		value   string
	}{
		{
			name:    "allow path without slash",
			mutate:  func(c *types.Configuration) { c.Input.Paths.Allow = []string{"/ok", "bad"} },
			wantErr: ErrInvalidPath,
			value:   "bad",
		},
		{
			name:    "disallow path without slash",
			mutate:  func(c *types.Configuration) { c.Input.Paths.Disallow = []string{"admin"} },
			wantErr: ErrInvalidPath,
			value:   "admin",
		},
		{
			name:    "rewrite without separator",
			mutate:  func(c *types.Configuration) { c.Input.Paths.Rewrite = []string{"/a/b"} },
			wantErr: ErrInvalidRewrite,
			value:   "/a/b",
		},
		{
			name:    "rewrite with broken pattern",
			mutate:  func(c *types.Configuration) { c.Input.Paths.Rewrite = []string{"(x:/y"} },
			wantErr: ErrInvalidRewrite,
			value:   "(x:/y",
		},
		{
			name:    "http host without scheme",
			mutate:  func(c *types.Configuration) { c.Output.HTTP.Hosts = types.Hosts("x.com") },
			wantErr: ErrInvalidHost,
			value:   "x.com",
		},
		{
			name:    "empty http host list",
			mutate:  func(c *types.Configuration) { c.Output.HTTP.Hosts = nil },
			wantErr: ErrEmptyHostList,
		},
		{
			name: "empty tcp host list",
			mutate: func(c *types.Configuration) {
				c.Output.TCP = &types.TCPOutput{}
			},
			wantErr: ErrEmptyHostList,
		},
		{
			name: "invalid tcp hostname",
			mutate: func(c *types.Configuration) {
				c.Output.TCP = &types.TCPOutput{Hosts: types.Hosts("bad_host:28020")}
			},
			wantErr: ErrInvalidHost,
			value:   "bad_host:28020",
		},
		{
			name:    "finish after is not a duration",
			mutate:  func(c *types.Configuration) { c.FinishAfter = "soon" },
			wantErr: ErrInvalidDuration,
			value:   "soon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			args, err := Synthesize(cfg, Options{Executable: exe})
			assert.Nil(t, args)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.value, cfgErr.Value)
		})
	}
}

func TestSynthesize_OptionalFlags(t *testing.T) {
	exe := fakeExecutable(t)

	tests := []struct {
		name   string
		mutate func(*types.Configuration)
		flag   string
		want   int
	}{
		{"workers set", func(c *types.Configuration) { c.Output.HTTP.Workers = 1 }, FlagOutputHTTPWorkers, 1},
		{"workers zero", func(c *types.Configuration) { c.Output.HTTP.Workers = 0 }, FlagOutputHTTPWorkers, 0},
		{"workers unlimited", func(c *types.Configuration) { c.Output.HTTP.Workers = -1 }, FlagOutputHTTPWorkers, 0},
		{"stdout on", func(c *types.Configuration) { c.Output.Stdout = true }, FlagOutputStdout, 1},
		{"stdout off", func(c *types.Configuration) {}, FlagOutputStdout, 0},
		{"split on", func(c *types.Configuration) { c.Output.SplitTraffic = true }, FlagSplitOutput, 1},
		{"split off", func(c *types.Configuration) {}, FlagSplitOutput, 0},
		{"exit after", func(c *types.Configuration) { c.FinishAfter = "30s" }, FlagExitAfter, 1},
		{"no exit after", func(c *types.Configuration) {}, FlagExitAfter, 0},
		{"no http output", func(c *types.Configuration) {
			c.Output.HTTP = nil
			c.Output.Stdout = true
		}, FlagOutputHTTP, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			args, err := Synthesize(cfg, Options{Executable: exe})
			require.NoError(t, err)
			assert.Equal(t, tt.want, countFlag(args, tt.flag))
		})
	}
}

func TestSynthesize_Rates(t *testing.T) {
	exe := fakeExecutable(t)
	cfg := baseConfig()
	cfg.Output.HTTP.Hosts = []types.OutputHost{
		{Host: "http://a"},
		{Host: "http://b", Rate: "10%"},
	}
	cfg.Output.TCP = &types.TCPOutput{Hosts: types.Hosts("replay.internal:28020")}

	args, err := Synthesize(cfg, Options{Executable: exe})
	require.NoError(t, err)
	assert.Contains(t, args, "http://a|50%")
	assert.Contains(t, args, "http://b|10%")
	assert.Contains(t, args, "replay.internal:28020")

	cfg.Output.HTTP.Rate = ""
	args, err = Synthesize(cfg, Options{Executable: exe})
	require.NoError(t, err)
	assert.Contains(t, args, "http://a")
	assert.Contains(t, args, "http://b|10%")
}

func TestSynthesize_Order(t *testing.T) {
	exe := fakeExecutable(t)
	cfg := baseConfig()
	cfg.Input.Paths.Disallow = []string{"/admin"}
	cfg.Input.Paths.Rewrite = []string{"^/v1:/v2"}
	cfg.Output.TCP = &types.TCPOutput{Hosts: types.Hosts("replay:28020"), Rate: "5"}
	cfg.Output.Stdout = true
	cfg.Output.SplitTraffic = true
	cfg.FinishAfter = "1m"
	cfg.ExtraArgs = map[string]string{"--verbose": "1", "--stats": "true"}

	args, err := Synthesize(cfg, Options{Executable: exe, AsRoot: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sudo", exe,
		"--input-raw", ":8080",
		"--http-allow-url", "/a",
		"--http-disallow-url", "/admin",
		"--http-rewrite-url", "^/v1:/v2",
		"--output-http", "http://x.com|50%",
		"--output-tcp", "replay:28020|5",
		"--output-http-workers", "2",
		"--output-stdout", "true",
		"--split-output", "true",
		"--exit-after", "1m",
		"--stats", "true",
		"--verbose", "1",
	}, args)
}

func TestVersionArgs(t *testing.T) {
	exe := fakeExecutable(t)

	args, err := VersionArgs(Options{Executable: exe, AsRoot: true})
	require.NoError(t, err)
	assert.Equal(t, []string{exe}, args)
}
