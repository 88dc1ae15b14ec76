package cloner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/cloner/pkg/gor"
	"github.com/cuemby/cloner/pkg/supervisor"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeGor writes a shell script that ignores its arguments and runs body
func fakeGor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gor")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func testConfig() *types.Configuration {
	return &types.Configuration{
		Input: types.Input{Port: 8080},
		Output: types.Output{
			HTTP: &types.HTTPOutput{Hosts: types.Hosts("http://staging.example.com")},
		},
	}
}

func testOptions(exe string) Options {
	return Options{
		Gor: gor.Options{Executable: exe},
		Supervisor: supervisor.Options{
			PollInterval:    10 * time.Millisecond,
			ConfirmAttempts: 5,
			ConfirmInterval: 20 * time.Millisecond,
			WaitDelay:       200 * time.Millisecond,
		},
		WaitInterval: 20 * time.Millisecond,
	}
}

func newTestCloner(t *testing.T, body string) *Cloner {
	t.Helper()
	c, err := New(testConfig(), testOptions(fakeGor(t, body)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.ForceStop() })
	return c
}

func waitStarted(t *testing.T, c *Cloner) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Details().PID != 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.Input.Port = 0

	_, err := New(cfg, testOptions(fakeGor(t, "exit 0")))
	assert.ErrorIs(t, err, gor.ErrInvalidConfiguration)
	assert.ErrorIs(t, err, gor.ErrInvalidPort)
}

func TestNew_SynthesizesArgs(t *testing.T) {
	exe := fakeGor(t, "exit 0")
	c, err := New(testConfig(), testOptions(exe))
	require.NoError(t, err)

	assert.Equal(t, []string{exe, "--input-raw", ":8080", "--output-http", "http://staging.example.com"}, c.Args())
	assert.True(t, c.Running())
}

func TestCloner_NaturalExit(t *testing.T) {
	c := newTestCloner(t, "echo captured; exit 0")
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	c.Wait()
	<-c.Done()

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "captured", res.Stdout)
	assert.Equal(t, supervisor.StateExited, res.State)

	require.NoError(t, c.Stop())
}

func TestCloner_StopWhileRunning(t *testing.T) {
	c := newTestCloner(t, "exec sleep 30")
	require.NoError(t, c.Start(context.Background()))
	waitStarted(t, c)

	_, err := c.Result()
	assert.Error(t, err)

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateStopped, res.State)
	assert.Equal(t, supervisor.StateStopped, c.Details().State)
}

func TestCloner_WaitReturnsWhenFlagCleared(t *testing.T) {
	c := newTestCloner(t, "exec sleep 30")
	require.NoError(t, c.Start(context.Background()))
	waitStarted(t, c)

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.keepRunning.Store(false)
	}()

	returned := make(chan struct{})
	go func() {
		c.Wait()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not observe the cleared flag")
	}
	assert.Equal(t, supervisor.StateRunning, c.Details().State)
	require.NoError(t, c.Stop())
}

func TestCloner_HandleSignals(t *testing.T) {
	c := newTestCloner(t, "exec sleep 30")
	c.HandleSignals(unix.SIGUSR1)
	c.HandleSignals(unix.SIGUSR1)
	defer c.StopSignals()

	require.NoError(t, c.Start(context.Background()))
	waitStarted(t, c)

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	c.Wait()
	assert.False(t, c.Running())

	require.NoError(t, c.Stop())
	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateStopped, res.State)
}

func TestCloner_ForceStop(t *testing.T) {
	c := newTestCloner(t, "trap '' TERM; exec sleep 30")
	require.NoError(t, c.Start(context.Background()))
	waitStarted(t, c)

	require.NoError(t, c.ForceStop())
	<-c.Done()

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateKilled, res.State)
	assert.Equal(t, -1, res.ReturnCode)
}

func TestCloner_NotStarted(t *testing.T) {
	c := newTestCloner(t, "exit 0")

	c.Wait()
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.ForceStop())

	_, err := c.Result()
	assert.ErrorIs(t, err, ErrNotStarted)

	d := c.Details()
	assert.Equal(t, supervisor.StateNotStarted, d.State)
	assert.Zero(t, d.PID)
	assert.Nil(t, d.Result)
}

func TestVersion(t *testing.T) {
	exe := fakeGor(t, `echo "  gor 1.3.3  "`)

	version, err := Version(context.Background(), gor.Options{Executable: exe}, supervisor.Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "gor 1.3.3", version)
}

func TestVersion_MissingExecutable(t *testing.T) {
	_, err := Version(context.Background(), gor.Options{Executable: "/nonexistent/gor"}, supervisor.Options{})
	assert.ErrorIs(t, err, gor.ErrExecutableNotFound)
}
