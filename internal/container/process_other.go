// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package container

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/e4s-project/e4s-cl/pkg/types"
)

type job struct {
	cmd *exec.Cmd
}

func isolate(cmd *exec.Cmd, _ io.Reader) *job {
	cmd.WaitDelay = killDelay
	return &job{cmd: cmd}
}

func (j *job) forwardSignals() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			_ = j.cmd.Process.Kill()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (j *job) release() error { return nil }

func exitCode(err error) (types.ExitCode, bool) {
	if err == nil {
		return types.ExitSuccess, true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return types.ExitInternalError, false
	}
	return types.FromWaitStatus(exitErr.ExitCode(), 0), true
}
