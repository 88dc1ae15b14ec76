package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cloner/pkg/events"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeSignaler struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	killOn string
}

func (f *fakeSignaler) record(step string, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
	if step == f.killOn {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return f.errs[step]
}

func (f *fakeSignaler) Signal(pid int, sig unix.Signal) error {
	if sig == unix.SIGTERM {
		return f.record(StepTerminate, pid)
	}
	return f.record(StepKill, pid)
}

func (f *fakeSignaler) SignalGroup(pid int, sig unix.Signal) error {
	return f.record(StepGroupTerminate, pid)
}

func (f *fakeSignaler) PrivilegedKill(ctx context.Context, pid int) error {
	return f.record(StepPrivileged, pid)
}

func (f *fakeSignaler) setKillOn(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killOn = step
}

func (f *fakeSignaler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func fastOptions() Options {
	return Options{
		PollInterval:    10 * time.Millisecond,
		ConfirmAttempts: 5,
		ConfirmInterval: 20 * time.Millisecond,
		WaitDelay:       200 * time.Millisecond,
	}
}

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

type execution struct {
	result *Result
	err    error
}

// launch runs Execute in the background and waits until the child is running
func launch(t *testing.T, ctx context.Context, s *Supervisor) <-chan execution {
	t.Helper()
	ch := make(chan execution, 1)
	go func() {
		res, err := s.Execute(ctx)
		ch <- execution{res, err}
	}()
	require.Eventually(t, func() bool { return s.PID() != 0 }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		if pid := s.PID(); pid != 0 && !s.exited.Load() {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	})
	return ch
}

func await(t *testing.T, ch <-chan execution) execution {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(10 * time.Second):
		t.Fatal("Execute did not return")
		return execution{}
	}
}

func TestNew_EmptyCommand(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 100*time.Millisecond, o.PollInterval)
	assert.Equal(t, 10, o.ConfirmAttempts)
	assert.Equal(t, 600, o.MaxRetryAttempts)
	assert.Equal(t, []string{"sudo", "kill"}, o.PrivilegedKillCommand)
	assert.Equal(t, 1<<20, o.OutputLimit)
	assert.Zero(t, o.Timeout)
	assert.NotNil(t, o.Signaler)
	assert.NotNil(t, o.Publisher)
}

func TestExecute_NaturalExit(t *testing.T) {
	sh := requireBinary(t, "sh")
	rec := &recorder{}
	opts := fastOptions()
	opts.Publisher = rec

	s, err := New([]string{sh, "-c", "echo hello; echo oops >&2; exit 3"}, opts)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, s.State())

	res, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReturnCode)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "oops", res.Stderr)
	assert.Equal(t, StateExited, res.State)
	assert.Equal(t, StateExited, s.State())
	assert.NotZero(t, res.PID)
	assert.Equal(t, []events.EventType{events.EventProcessStarted, events.EventProcessExited}, rec.Types())

	_, err = s.Execute(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestExecute_LogsCarryPID(t *testing.T) {
	tr := requireBinary(t, "true")
	out := &syncBuffer{}
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: out})
	defer log.Init(log.Config{Level: log.InfoLevel, Output: io.Discard})

	s, err := New([]string{tr}, fastOptions())
	require.NoError(t, err)
	res, err := s.Execute(context.Background())
	require.NoError(t, err)

	var started map[string]interface{}
	for _, line := range out.Lines() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Process started" {
			started = entry
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, float64(res.PID), started["pid"])
	assert.Equal(t, "supervisor", started["component"])
}

func TestExecute_OutputLimit(t *testing.T) {
	sh := requireBinary(t, "sh")
	opts := fastOptions()
	opts.OutputLimit = 4

	s, err := New([]string{sh, "-c", "printf 'abcdefgh'"}, opts)
	require.NoError(t, err)

	res, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "efgh", res.Stdout)
}

func TestExecute_SpawnError(t *testing.T) {
	s, err := New([]string{"/nonexistent/gor", "--input-raw", ":80"}, fastOptions())
	require.NoError(t, err)

	res, err := s.Execute(context.Background())
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Nil(t, res)
	assert.Equal(t, StateNotStarted, s.State())
	assert.Zero(t, s.PID())
}

func TestRequestStop_Graceful(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	s, err := New([]string{sleep, "30"}, fastOptions())
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	s.RequestStop()

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, StateStopped, e.result.State)
	assert.Equal(t, -1, e.result.ReturnCode)
	assert.Equal(t, 1, s.Retries())
}

func TestRequestStop_RepeatedIsIdempotent(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	sig := &fakeSignaler{killOn: StepTerminate}
	opts := fastOptions()
	opts.Signaler = sig

	s, err := New([]string{sleep, "30"}, opts)
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	for i := 0; i < 5; i++ {
		s.RequestStop()
	}

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, []string{StepTerminate}, sig.Calls())
	assert.Equal(t, 5, s.Retries())
}

func TestRequestStop_IgnoredSIGTERMEscalatesToKill(t *testing.T) {
	sh := requireBinary(t, "sh")
	s, err := New([]string{sh, "-c", "trap '' TERM; exec sleep 30"}, fastOptions())
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	// Let the shell install the trap before signalling
	time.Sleep(300 * time.Millisecond)
	s.RequestStop()

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, StateKilled, e.result.State)
}

func TestEscalation_Ladder(t *testing.T) {
	sleep := requireBinary(t, "sleep")

	tests := []struct {
		name      string
		errs      map[string]error
		killOn    string
		wantCalls []string
		wantState State
	}{
		{
			name:      "sigterm confirms",
			killOn:    StepTerminate,
			wantCalls: []string{StepTerminate},
			wantState: StateStopped,
		},
		{
			name:      "sigterm ignored",
			killOn:    StepKill,
			wantCalls: []string{StepTerminate, StepKill},
			wantState: StateKilled,
		},
		{
			name:      "denied falls through to privileged kill",
			errs:      map[string]error{StepTerminate: unix.EPERM, StepKill: unix.EPERM},
			killOn:    StepPrivileged,
			wantCalls: []string{StepTerminate, StepKill, StepPrivileged},
			wantState: StateKilled,
		},
		{
			name:      "group termination last",
			errs:      map[string]error{StepKill: unix.EPERM},
			killOn:    StepGroupTerminate,
			wantCalls: []string{StepTerminate, StepKill, StepPrivileged, StepGroupTerminate},
			wantState: StateKilled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &fakeSignaler{errs: tt.errs, killOn: tt.killOn}
			opts := fastOptions()
			opts.Signaler = sig

			s, err := New([]string{sleep, "30"}, opts)
			require.NoError(t, err)

			ch := launch(t, context.Background(), s)
			s.RequestStop()

			e := await(t, ch)
			require.NoError(t, e.err)
			assert.Equal(t, tt.wantCalls, sig.Calls())
			assert.Equal(t, tt.wantState, e.result.State)
		})
	}
}

func TestEscalation_GoneEndsRound(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	sig := &fakeSignaler{errs: map[string]error{StepTerminate: unix.ESRCH}, killOn: StepTerminate}
	opts := fastOptions()
	opts.Signaler = sig

	s, err := New([]string{sleep, "30"}, opts)
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	s.RequestStop()

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, []string{StepTerminate}, sig.Calls())
}

func TestEscalation_RetryLimit(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	sig := &fakeSignaler{}
	opts := fastOptions()
	opts.Signaler = sig
	opts.ConfirmAttempts = 1
	opts.ConfirmInterval = time.Millisecond
	opts.MaxRetryAttempts = 3

	s, err := New([]string{sleep, "30"}, opts)
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	s.RequestStop()

	e := await(t, ch)
	require.ErrorIs(t, e.err, ErrTerminationFailed)
	require.NotNil(t, e.result)
	assert.Equal(t, s.PID(), e.result.PID)
	assert.Equal(t, 3, s.Retries())
	// Two full rounds: the request itself plus one scheduled retry
	assert.Len(t, sig.Calls(), 8)
	assert.Equal(t, StateStopping, s.State())

	sig.setKillOn(StepKill)
	require.NoError(t, s.Kill())
	require.Eventually(t, func() bool { return s.State() == StateKilled }, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_ContextCancel(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New([]string{sleep, "30"}, fastOptions())
	require.NoError(t, err)

	ch := launch(t, ctx, s)
	cancel()

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, StateStopped, e.result.State)
}

func TestExecute_Timeout(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	opts := fastOptions()
	opts.Timeout = 200 * time.Millisecond

	s, err := New([]string{sleep, "30"}, opts)
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	e := await(t, ch)
	assert.ErrorIs(t, e.err, ErrTimeoutExceeded)
	require.NotNil(t, e.result)
	assert.Equal(t, StateStopped, e.result.State)
}

func TestTerminate_NotRunning(t *testing.T) {
	sh := requireBinary(t, "sh")
	sig := &fakeSignaler{}
	opts := fastOptions()
	opts.Signaler = sig

	s, err := New([]string{sh, "-c", "exit 0"}, opts)
	require.NoError(t, err)

	// Never started
	require.NoError(t, s.Terminate(context.Background()))
	require.NoError(t, s.Kill())

	_, err = s.Execute(context.Background())
	require.NoError(t, err)

	// Already exited, twice in a row
	require.NoError(t, s.Terminate(context.Background()))
	require.NoError(t, s.Terminate(context.Background()))
	assert.Empty(t, sig.Calls())
	assert.Equal(t, StateExited, s.State())
}

func TestTerminate_Running(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	rec := &recorder{}
	opts := fastOptions()
	opts.Publisher = rec

	s, err := New([]string{sleep, "30"}, opts)
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	require.NoError(t, s.Terminate(context.Background()))

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, StateStopped, e.result.State)
	assert.Contains(t, rec.Types(), events.EventProcessTerminating)
}

func TestTerminate_ConcurrentWithExecute(t *testing.T) {
	trueBin := requireBinary(t, "true")

	for i := 0; i < 50; i++ {
		opts := fastOptions()
		opts.Signaler = &fakeSignaler{}
		s, err := New([]string{trueBin}, opts)
		require.NoError(t, err)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = s.Terminate(context.Background())
					_ = s.Kill()
				}
			}
		}()

		res, err := s.Execute(context.Background())
		close(stop)
		wg.Wait()

		require.NoError(t, err)
		assert.NotZero(t, res.PID)
	}
}

func TestKill(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	s, err := New([]string{sleep, "30"}, fastOptions())
	require.NoError(t, err)

	ch := launch(t, context.Background(), s)
	require.NoError(t, s.Kill())

	e := await(t, ch)
	require.NoError(t, e.err)
	assert.Equal(t, StateKilled, e.result.State)
	assert.Equal(t, -1, e.result.ReturnCode)
}
