/*
Package supervisor runs the external traffic tool and owns its termination.

A Supervisor wraps one argument vector. Execute starts the process in its own
process group and polls at Options.PollInterval instead of blocking on wait,
so a stop request is noticed promptly even while the child ignores SIGTERM.

# Lifecycle

	not_started -> running -> stopping -> stopped | killed
	               running -> exited

A process that exits without being asked ends in exited. One stopped by
SIGTERM ends in stopped; any later step of the ladder yields killed.

# Termination ladder

Each escalation round sends, in order, with a confirmation window after each:

 1. SIGTERM to the process
 2. SIGKILL to the process
 3. the privileged kill command (default "sudo kill <pid>"), for a tool that
    re-executed itself as root
 4. SIGTERM to the process group

EPERM moves on to the next step. ESRCH ends the round. Rounds never overlap.

# Stop requests

RequestStop only touches atomics and may be called from a signal handler any
number of times. Every call increments the retry counter, and so does every
round that leaves the process alive. When the counter reaches
Options.MaxRetryAttempts, Execute gives up with ErrTerminationFailed and the
caller is expected to fall back to Kill.

	sup, err := supervisor.New(args, supervisor.Options{Timeout: time.Hour})
	if err != nil {
		return err
	}
	res, err := sup.Execute(ctx)

Only unix platforms are supported.
*/
package supervisor
