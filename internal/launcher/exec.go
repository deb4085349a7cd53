package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecLauncher launches the child with inherited standard streams so its
// logs interleave with the bootstrapper's own status lines. The child stays
// in the foreground process group, so interactive interrupts reach it.
type ExecLauncher struct{}

// NewExecLauncher creates the real subprocess launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch runs the command in workingDir and blocks until it exits, returning
// the child's exit code. A non-zero child exit is not an error; failing to
// start the process is.
func (l *ExecLauncher) Launch(workingDir, name string, args []string) (int, error) {
	// #nosec G204 -- the command line is assembled from validated launcher config
	cmd := exec.Command(name, args...)
	cmd.Dir = workingDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return 0, fmt.Errorf("failed to start %s: %w", name, err)
}
