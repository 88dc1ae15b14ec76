package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cloner/pkg/events"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// State is the lifecycle state of a supervised process
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateKilled     State = "killed"
	StateExited     State = "exited"
)

// Escalation steps, in the order a round runs them
const (
	StepTerminate      = "sigterm"
	StepKill           = "sigkill"
	StepPrivileged     = "privileged_kill"
	StepGroupTerminate = "group_sigterm"
)

// Options tunes polling and the termination ladder
type Options struct {
	// PollInterval is how often the supervision loop checks the stop flag
	PollInterval time.Duration
	// ConfirmAttempts and ConfirmInterval bound the wait for exit after each step
	ConfirmAttempts int
	ConfirmInterval time.Duration
	// MaxRetryAttempts caps the retry counter before termination is reported failed
	MaxRetryAttempts int
	// PrivilegedKillCommand is prefixed to the pid for the privileged step
	PrivilegedKillCommand []string
	// Timeout bounds the process lifetime; zero means no limit
	Timeout time.Duration
	// WaitDelay bounds how long output is drained after the process exits
	WaitDelay time.Duration
	// OutputLimit is the number of trailing bytes kept per stream
	OutputLimit int

	Signaler  Signaler
	Publisher events.Publisher
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		PollInterval:          100 * time.Millisecond,
		ConfirmAttempts:       10,
		ConfirmInterval:       100 * time.Millisecond,
		MaxRetryAttempts:      600,
		PrivilegedKillCommand: []string{"sudo", "kill"},
		WaitDelay:             5 * time.Second,
		OutputLimit:           1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ConfirmAttempts <= 0 {
		o.ConfirmAttempts = d.ConfirmAttempts
	}
	if o.ConfirmInterval <= 0 {
		o.ConfirmInterval = d.ConfirmInterval
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if len(o.PrivilegedKillCommand) == 0 {
		o.PrivilegedKillCommand = d.PrivilegedKillCommand
	}
	if o.WaitDelay <= 0 {
		o.WaitDelay = d.WaitDelay
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = d.OutputLimit
	}
	if o.Signaler == nil {
		o.Signaler = NewSignaler(o.PrivilegedKillCommand)
	}
	if o.Publisher == nil {
		o.Publisher = events.Discard
	}
	return o
}

// Result describes a completed process
type Result struct {
	PID        int
	Command    []string
	ReturnCode int
	Stdout     string
	Stderr     string
	State      State
	Duration   time.Duration
}

// Supervisor runs one external process and owns its termination
type Supervisor struct {
	args       []string
	opts       Options
	baseLogger zerolog.Logger

	mu      sync.Mutex
	state   State
	pid     int
	started time.Time
	// procLogger carries the pid once the child is running
	procLogger *zerolog.Logger
	// stoppedBy is the last escalation step sent, or empty on a natural exit
	stoppedBy string

	// roundMu serializes escalation rounds
	roundMu sync.Mutex

	launched      atomic.Bool
	exited        atomic.Bool
	stopRequested atomic.Bool
	retries       atomic.Int64
}

// New creates a supervisor for the given argument vector
func New(args []string, opts Options) (*Supervisor, error) {
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Supervisor{
		args:   append([]string(nil), args...),
		opts:   opts.withDefaults(),
		baseLogger: log.WithComponent("supervisor"),
		state:  StateNotStarted,
	}, nil
}

// logger returns the pid-scoped logger once the child has started
func (s *Supervisor) logger() *zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procLogger != nil {
		return s.procLogger
	}
	return &s.baseLogger
}

// Args returns the argument vector
func (s *Supervisor) Args() []string {
	return append([]string(nil), s.args...)
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the process id, or 0 before the process starts
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Retries returns the retry counter
func (s *Supervisor) Retries() int {
	return int(s.retries.Load())
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Supervisor) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid != 0 && !s.exited.Load()
}

// RequestStop asks the supervision loop to terminate the process. It only
// touches atomics, so it is safe to call from a signal handler goroutine and
// any number of times.
func (s *Supervisor) RequestStop() {
	n := s.retries.Add(1)
	metrics.TerminationRetries.Set(float64(n))
	s.stopRequested.Store(true)
}

// Execute starts the process and supervises it until it exits. The poll loop
// consumes stop requests and runs escalation rounds. Cancelling ctx is the
// same as RequestStop and is not reported as an error.
func (s *Supervisor) Execute(ctx context.Context) (*Result, error) {
	if !s.launched.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	done, err := s.start()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var timeoutC <-chan time.Time
	if s.opts.Timeout > 0 {
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	ctxDone := ctx.Done()
	timedOut := false
	retryPending := false

	for {
		select {
		case res := <-done:
			if timedOut {
				return res, fmt.Errorf("%w after %s", ErrTimeoutExceeded, s.opts.Timeout)
			}
			return res, nil

		case <-ctxDone:
			ctxDone = nil
			s.logger().Info().Msg("Context cancelled, stopping process")
			s.RequestStop()

		case <-timeoutC:
			timeoutC = nil
			timedOut = true
			s.logger().Warn().Dur("timeout", s.opts.Timeout).Msg("Process timeout exceeded, stopping process")
			s.RequestStop()

		case <-ticker.C:
			requested := s.stopRequested.Swap(false)
			if !requested && !retryPending {
				continue
			}
			if s.exited.Load() {
				continue
			}
			if s.terminateRound(context.Background()) {
				retryPending = false
				continue
			}

			retryPending = true
			n := s.retries.Add(1)
			metrics.TerminationRetries.Set(float64(n))
			if n >= int64(s.opts.MaxRetryAttempts) {
				s.logger().Error().
					Int("pid", s.PID()).
					Int64("attempts", n).
					Msg("Process still alive after termination retries")
				return s.partialResult(), fmt.Errorf("%w: pid %d alive after %d attempts", ErrTerminationFailed, s.PID(), n)
			}
		}
	}
}

// start launches the child and returns a channel that yields its result
func (s *Supervisor) start() (<-chan *Result, error) {
	stdout, err := newPipeCapture(s.baseLogger, "stdout", s.opts.OutputLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderr, err := newPipeCapture(s.baseLogger, "stderr", s.opts.OutputLimit)
	if err != nil {
		stdout.abort()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	cmd := exec.Command(s.args[0], s.args[1:]...)
	cmd.Stdout = stdout.w
	cmd.Stderr = stderr.w
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.abort()
		stderr.abort()
		metrics.ProcessStartsTotal.WithLabelValues("error").Inc()
		s.logger().Error().Err(err).Str("command", s.args[0]).Msg("Failed to spawn process")
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, s.args[0], err)
	}
	stdout.start()
	stderr.start()

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.pid = pid
	s.started = time.Now()
	s.state = StateRunning
	procLogger := log.WithPID(pid).With().Str("component", "supervisor").Logger()
	s.procLogger = &procLogger
	s.mu.Unlock()

	metrics.ProcessStartsTotal.WithLabelValues("success").Inc()
	metrics.ProcessRunning.Set(1)
	s.logger().Info().Strs("args", s.args).Msg("Process started")
	s.publish(events.EventProcessStarted, "process started", nil)

	done := make(chan *Result, 1)
	go func() {
		waitErr := cmd.Wait()
		s.exited.Store(true)
		metrics.ProcessRunning.Set(0)

		res := &Result{
			PID:        pid,
			Command:    s.Args(),
			ReturnCode: exitCode(cmd, waitErr),
			Stdout:     stdout.finish(s.opts.WaitDelay),
			Stderr:     stderr.finish(s.opts.WaitDelay),
		}
		s.mu.Lock()
		switch {
		case s.stoppedBy == StepTerminate:
			s.state = StateStopped
		case s.stoppedBy != "":
			s.state = StateKilled
		case s.state == StateStopping:
			// Exited on its own while a round was in progress
			s.state = StateStopped
		default:
			s.state = StateExited
		}
		res.State = s.state
		res.Duration = time.Since(s.started)
		s.mu.Unlock()

		metrics.ProcessExitCode.Set(float64(res.ReturnCode))
		s.logger().Info().
			Int("return_code", res.ReturnCode).
			Str("state", string(res.State)).
			Dur("duration", res.Duration).
			Msg("Process exited")
		s.publish(events.EventProcessExited, "process exited", map[string]string{
			"return_code": strconv.Itoa(res.ReturnCode),
			"state":       string(res.State),
		})
		done <- res
	}()

	return done, nil
}

func (s *Supervisor) partialResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		PID:        s.pid,
		Command:    append([]string(nil), s.args...),
		ReturnCode: -1,
		State:      s.state,
		Duration:   time.Since(s.started),
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Terminate runs one escalation round and reports whether the process is
// gone afterwards. On a process that never started or has already exited it
// only logs.
func (s *Supervisor) Terminate(ctx context.Context) error {
	if !s.running() {
		s.logger().Debug().Str("state", string(s.State())).Msg("Terminate ignored, process not running")
		return nil
	}
	if s.terminateRound(ctx) {
		return nil
	}
	return fmt.Errorf("%w: pid %d still alive", ErrTerminationFailed, s.PID())
}

// Kill sends SIGKILL directly, bypassing the escalation ladder
func (s *Supervisor) Kill() error {
	if !s.running() {
		s.logger().Debug().Msg("Kill ignored, process not running")
		return nil
	}
	pid := s.PID()
	s.markStep(StepKill)

	err := s.opts.Signaler.Signal(pid, unix.SIGKILL)
	if err != nil && !processGone(err) {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}

type escalationStep struct {
	name string
	send func(ctx context.Context, pid int) error
}

func (s *Supervisor) steps() []escalationStep {
	sig := s.opts.Signaler
	return []escalationStep{
		{StepTerminate, func(_ context.Context, pid int) error { return sig.Signal(pid, unix.SIGTERM) }},
		{StepKill, func(_ context.Context, pid int) error { return sig.Signal(pid, unix.SIGKILL) }},
		{StepPrivileged, sig.PrivilegedKill},
		{StepGroupTerminate, func(_ context.Context, pid int) error { return sig.SignalGroup(pid, unix.SIGTERM) }},
	}
}

// terminateRound walks the ladder once. Each step is followed by its own
// confirmation window. EPERM moves on to the next step; ESRCH ends the round.
func (s *Supervisor) terminateRound(ctx context.Context) bool {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	if s.exited.Load() {
		return true
	}
	pid := s.PID()
	s.setState(StateStopping)
	s.logger().Info().Int("retry", s.Retries()).Msg("Terminating process")
	s.publish(events.EventProcessTerminating, "terminating process", map[string]string{
		"retry": strconv.Itoa(s.Retries()),
	})

	for i, step := range s.steps() {
		if s.exited.Load() {
			return true
		}
		if i > 0 {
			s.publish(events.EventProcessEscalated, "escalating termination", map[string]string{"step": step.name})
		}

		s.markStep(step.name)
		err := step.send(ctx, pid)
		switch {
		case err == nil:
			metrics.TerminationStepsTotal.WithLabelValues(step.name, "sent").Inc()
		case processGone(err):
			metrics.TerminationStepsTotal.WithLabelValues(step.name, "gone").Inc()
			s.logger().Debug().Str("step", step.name).Msg("Process already gone")
			return s.confirmExit()
		case permissionDenied(err):
			metrics.TerminationStepsTotal.WithLabelValues(step.name, "denied").Inc()
			s.logger().Warn().Err(err).Str("step", step.name).Msg("Permission denied, escalating")
			continue
		default:
			metrics.TerminationStepsTotal.WithLabelValues(step.name, "error").Inc()
			s.logger().Warn().Err(err).Str("step", step.name).Msg("Termination step failed, escalating")
			continue
		}

		if s.confirmExit() {
			s.logger().Info().Str("step", step.name).Msg("Process termination confirmed")
			return true
		}
		s.logger().Debug().Str("step", step.name).Msg("Process still alive after step")
	}
	return s.exited.Load()
}

// markStep records the step about to be sent so the wait goroutine can
// attribute the exit to it
func (s *Supervisor) markStep(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppedBy = step
}

// confirmExit polls for the exit observed by the wait goroutine
func (s *Supervisor) confirmExit() bool {
	for i := 0; i < s.opts.ConfirmAttempts; i++ {
		if s.exited.Load() {
			return true
		}
		time.Sleep(s.opts.ConfirmInterval)
	}
	return s.exited.Load()
}

func (s *Supervisor) publish(t events.EventType, msg string, metadata map[string]string) {
	if metadata == nil {
		metadata = make(map[string]string, 2)
	}
	metadata["pid"] = strconv.Itoa(s.PID())
	metadata["command"] = s.args[0]
	s.opts.Publisher.Publish(events.New(t, msg, metadata))
}

// String renders the command for logs
func (s *Supervisor) String() string {
	return strings.Join(s.args, " ")
}
