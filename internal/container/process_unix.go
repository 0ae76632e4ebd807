// SPDX-License-Identifier: MPL-2.0

//go:build unix

package container

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/e4s-project/e4s-cl/pkg/types"
)

var forwardedSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT}

// job is a launched command and its relation to this process's terminal.
type job struct {
	cmd *exec.Cmd
	// group is set when the command leads its own process group.
	group bool
	// terminal is the descriptor handed to the command as foreground, or -1.
	terminal int
}

// isolate prepares cmd before it is started.
//
// When stdin is the terminal this process holds in the foreground, the command
// leads its own process group, made the terminal's foreground group until
// release. Otherwise the command stays in this process's group, so job control
// of the calling shell or launcher covers both, and signals go to its pid.
// Cancellation sends SIGTERM the same way signals are forwarded, and the
// process is killed if it outlives killDelay.
func isolate(cmd *exec.Cmd, stdin io.Reader) *job {
	j := &job{cmd: cmd, terminal: -1}
	if fd, ok := terminalOf(stdin); ok && isForeground(fd) {
		if cmd.SysProcAttr == nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{}
		}
		j.group, j.terminal = true, fd
		cmd.SysProcAttr.Setpgid = true
		cmd.SysProcAttr.Foreground = true
		cmd.SysProcAttr.Ctty = fd
	}

	cmd.Cancel = func() error { return j.signal(unix.SIGTERM) }
	cmd.WaitDelay = killDelay
	return j
}

// signal delivers sig to the command's group, or to the command alone when it
// shares this process's group.
func (j *job) signal(sig unix.Signal) error {
	if j.cmd.Process == nil {
		return nil
	}
	pid := j.cmd.Process.Pid
	if j.group {
		pid = -pid
	}
	if err := unix.Kill(pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// forwardSignals relays termination signals received by this process to the
// command until stop is called.
func (j *job) forwardSignals() (stop func()) {
	ch := make(chan os.Signal, len(forwardedSignals))
	signal.Notify(ch, forwardedSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if s, ok := sig.(unix.Signal); ok {
					_ = j.signal(s)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// release gives the terminal back to this process's group. The call is made
// from the background, so SIGTTOU is ignored while it runs.
func (j *job) release() error {
	if j.terminal < 0 {
		return nil
	}
	fd := j.terminal
	j.terminal = -1

	signal.Ignore(unix.SIGTTOU)
	defer signal.Reset(unix.SIGTTOU)
	return setForegroundGroup(fd, unix.Getpgrp())
}

// terminalOf returns the descriptor of r when it is a terminal.
func terminalOf(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return -1, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// isForeground reports whether fd is the controlling terminal of this process
// and this process's group is its foreground group.
func isForeground(fd int) bool {
	pgrp, err := foregroundGroup(fd)
	return err == nil && pgrp == unix.Getpgrp()
}

// exitCode maps the result of cmd.Wait to the child's exit code.
func exitCode(err error) (types.ExitCode, bool) {
	if err == nil {
		return types.ExitSuccess, true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return types.ExitInternalError, false
	}
	sig := 0
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig = int(ws.Signal())
	}
	return types.FromWaitStatus(exitErr.ExitCode(), sig), true
}
