package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Signaler delivers the signals of the termination ladder. The default
// implementation talks to the kernel; tests substitute their own.
type Signaler interface {
	// Signal sends sig to a single process
	Signal(pid int, sig unix.Signal) error
	// SignalGroup sends sig to the process group led by pid
	SignalGroup(pid int, sig unix.Signal) error
	// PrivilegedKill kills pid through a separate privileged command
	PrivilegedKill(ctx context.Context, pid int) error
}

// NewSignaler returns the kernel-backed Signaler. privileged is the command
// prefix used for PrivilegedKill; the pid is appended as its last argument.
func NewSignaler(privileged []string) Signaler {
	return &unixSignaler{privileged: append([]string(nil), privileged...)}
}

type unixSignaler struct {
	privileged []string
}

func (s *unixSignaler) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

func (s *unixSignaler) SignalGroup(pid int, sig unix.Signal) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Already reaped; fall back to the group the child was started in
		pgid = pid
	}
	return unix.Kill(-pgid, sig)
}

func (s *unixSignaler) PrivilegedKill(ctx context.Context, pid int) error {
	if len(s.privileged) == 0 {
		return fmt.Errorf("no privileged kill command configured")
	}
	args := append(append([]string(nil), s.privileged[1:]...), strconv.Itoa(pid))
	out, err := exec.CommandContext(ctx, s.privileged[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", s.privileged[0], err, bytes.TrimSpace(out))
	}
	return nil
}

// processGone reports whether err means the target no longer exists
func processGone(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone)
}

// permissionDenied reports whether the kernel refused the signal
func permissionDenied(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, os.ErrPermission)
}
