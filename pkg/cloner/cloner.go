package cloner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cloner/pkg/gor"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/supervisor"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultWaitInterval is how often Wait re-checks the keep-running flag
const DefaultWaitInterval = time.Second

// ErrNotStarted is returned by operations that need a started cloner
var ErrNotStarted = errors.New("cloner not started")

// Options configures a Cloner
type Options struct {
	Gor          gor.Options
	Supervisor   supervisor.Options
	WaitInterval time.Duration
}

// Details is a point-in-time view of a cloner
type Details struct {
	Args    []string           `json:"args"`
	PID     int                `json:"pid"`
	State   supervisor.State   `json:"state"`
	Running bool               `json:"running"`
	Result  *supervisor.Result `json:"result,omitempty"`
}

// Cloner runs one traffic cloning session on a background goroutine
type Cloner struct {
	config *types.Configuration
	args   []string
	sup    *supervisor.Supervisor
	opts   Options
	logger zerolog.Logger

	keepRunning atomic.Bool
	started     atomic.Bool
	done        chan struct{}

	mu     sync.Mutex
	result *supervisor.Result
	err    error

	signalOnce sync.Once
	signals    chan os.Signal
}

// New synthesizes the argument vector for cfg and prepares its supervisor
func New(cfg *types.Configuration, opts Options) (*Cloner, error) {
	args, err := gor.Synthesize(cfg, opts.Gor)
	if err != nil {
		return nil, err
	}
	sup, err := supervisor.New(args, opts.Supervisor)
	if err != nil {
		return nil, err
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultWaitInterval
	}

	c := &Cloner{
		config: cfg,
		args:   args,
		sup:    sup,
		opts:   opts,
		logger: log.WithComponent("cloner"),
		done:   make(chan struct{}),
	}
	c.keepRunning.Store(true)
	return c, nil
}

// Args returns the synthesized argument vector
func (c *Cloner) Args() []string {
	return append([]string(nil), c.args...)
}

// Start launches supervision on its own goroutine and returns immediately
func (c *Cloner) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("cloner already started")
	}

	c.logger.Info().Str("command", gor.String(c.args)).Msg("Starting cloner")
	go func() {
		defer close(c.done)
		res, err := c.sup.Execute(ctx)

		c.mu.Lock()
		c.result, c.err = res, err
		c.mu.Unlock()

		if err != nil {
			c.logger.Error().Err(err).Msg("Supervision ended with error")
		}
	}()
	return nil
}

// Wait blocks until the process exits or the keep-running flag is cleared.
// It polls so a cleared flag is observed within one WaitInterval.
func (c *Cloner) Wait() {
	if !c.started.Load() {
		return
	}
	ticker := time.NewTicker(c.opts.WaitInterval)
	defer ticker.Stop()

	for c.keepRunning.Load() {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
	c.logger.Info().Msg("Stop requested, leaving wait")
}

// Done is closed once supervision has finished
func (c *Cloner) Done() <-chan struct{} {
	return c.done
}

// Stop requests graceful termination and blocks until supervision has joined
func (c *Cloner) Stop() error {
	if !c.started.Load() {
		return nil
	}
	c.keepRunning.Store(false)

	select {
	case <-c.done:
	default:
		c.sup.RequestStop()
		<-c.done
	}

	_, err := c.Result()
	if errors.Is(err, supervisor.ErrTimeoutExceeded) {
		// The process is gone; the timeout was already reported by Result
		return nil
	}
	return err
}

// ForceStop kills the process directly by pid, bypassing the graceful path
func (c *Cloner) ForceStop() error {
	c.keepRunning.Store(false)
	if !c.started.Load() {
		return nil
	}
	c.logger.Warn().Int("pid", c.sup.PID()).Msg("Force stopping cloner")
	return c.sup.Kill()
}

// HandleSignals installs the process-wide shutdown hook. Only the first call
// registers; every delivered signal clears the keep-running flag and
// forwards a stop request, so repeated signals are safe.
func (c *Cloner) HandleSignals(sigs ...os.Signal) {
	c.signalOnce.Do(func() {
		c.signals = make(chan os.Signal, 1)
		signal.Notify(c.signals, sigs...)

		go func() {
			for sig := range c.signals {
				c.logger.Info().Str("signal", sig.String()).Msg("Received signal, stopping")
				c.keepRunning.Store(false)
				c.sup.RequestStop()
			}
		}()
	})
}

// StopSignals removes the shutdown hook
func (c *Cloner) StopSignals() {
	if c.signals == nil {
		return
	}
	signal.Stop(c.signals)
	close(c.signals)
	c.signals = nil
}

// Running reports whether the keep-running flag is still set
func (c *Cloner) Running() bool {
	return c.keepRunning.Load()
}

// Result returns the supervision outcome once Done is closed
func (c *Cloner) Result() (*supervisor.Result, error) {
	select {
	case <-c.done:
	default:
		if !c.started.Load() {
			return nil, ErrNotStarted
		}
		return nil, fmt.Errorf("cloner still running")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Details describes the cloner for status output
func (c *Cloner) Details() Details {
	d := Details{
		Args:    c.Args(),
		PID:     c.sup.PID(),
		State:   c.sup.State(),
		Running: c.keepRunning.Load(),
	}
	c.mu.Lock()
	d.Result = c.result
	c.mu.Unlock()
	return d
}

// Version runs the tool with no arguments and returns its trimmed stdout
func Version(ctx context.Context, gorOpts gor.Options, supOpts supervisor.Options) (string, error) {
	args, err := gor.VersionArgs(gorOpts)
	if err != nil {
		return "", err
	}
	if supOpts.Timeout <= 0 {
		supOpts.Timeout = 30 * time.Second
	}
	sup, err := supervisor.New(args, supOpts)
	if err != nil {
		return "", err
	}
	res, err := sup.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query tool version: %w", err)
	}
	return res.Stdout, nil
}
