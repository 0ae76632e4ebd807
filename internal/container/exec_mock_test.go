// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type (
	// mockCommandRecorder captures backend invocations and replays them
	// through TestHelperProcess with the configured output and exit code.
	mockCommandRecorder struct {
		mu          sync.Mutex
		invocations []mockInvocation
		// exitCodes are consumed one per invocation; the last one repeats.
		exitCodes []int
		stdout    string
		stderr    string
		// env is appended to the helper's environment, e.g. GO_HELPER_MODE.
		env []string
	}

	mockInvocation struct {
		Name string
		Args []string
	}
)

func newMockCommandRecorder(stdout, stderr string, exitCodes ...int) *mockCommandRecorder {
	if len(exitCodes) == 0 {
		exitCodes = []int{0}
	}
	return &mockCommandRecorder{stdout: stdout, stderr: stderr, exitCodes: exitCodes}
}

// commandFunc returns an ExecCommandFunc running TestHelperProcess.
func (m *mockCommandRecorder) commandFunc() ExecCommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		m.mu.Lock()
		code := m.exitCodes[min(len(m.invocations), len(m.exitCodes)-1)]
		m.invocations = append(m.invocations, mockInvocation{Name: name, Args: args})
		m.mu.Unlock()

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...) //nolint:gosec // test helper re-executes the test binary
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", code),
			"GO_HELPER_STDOUT=" + m.stdout,
			"GO_HELPER_STDERR=" + m.stderr,
		}
		cmd.Env = append(cmd.Env, m.env...)
		return cmd
	}
}

func (m *mockCommandRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

func (m *mockCommandRecorder) last() mockInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.invocations) == 0 {
		return mockInvocation{}
	}
	return m.invocations[len(m.invocations)-1]
}

// TestHelperProcess is not a real test. It stands in for the backend tool
// when re-executed by mockCommandRecorder.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if stdout := os.Getenv("GO_HELPER_STDOUT"); stdout != "" {
		fmt.Fprint(os.Stdout, stdout)
	}
	if stderr := os.Getenv("GO_HELPER_STDERR"); stderr != "" {
		fmt.Fprint(os.Stderr, stderr)
	}
	switch os.Getenv("GO_HELPER_MODE") {
	case "readline":
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(3)
		}
		fmt.Fprintln(os.Stdout, "read:", strings.TrimSpace(line))
	case "sleep":
		writePidFile(os.Getenv("GO_HELPER_PIDFILE"))
		time.Sleep(time.Minute)
	}

	// Echo the process environment the backend would see.
	for _, kv := range os.Environ() {
		if strings.Contains(kv, "ENV_") {
			fmt.Fprintln(os.Stdout, "env:", kv)
		}
	}

	exitCode := 0
	if code := os.Getenv("GO_HELPER_EXIT_CODE"); code != "" {
		fmt.Sscanf(code, "%d", &exitCode)
	}
	os.Exit(exitCode)
}

// writePidFile publishes the helper's pid atomically.
func writePidFile(path string) {
	if path == "" {
		return
	}
	tmp := filepath.Join(filepath.Dir(path), ".pid.tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		os.Exit(4)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Exit(4)
	}
}

// waitPidFile polls path until the helper has published its pid.
func waitPidFile(path string, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return strconv.Atoi(string(data))
		}
		time.Sleep(10 * time.Millisecond)
	}
	return 0, fmt.Errorf("helper never wrote %s", path)
}
