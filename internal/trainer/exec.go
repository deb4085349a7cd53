package trainer

import (
	"context"
	"os/exec"
)

// ExecRunner executes training stages as real subprocesses.
type ExecRunner struct{}

// Run executes name with args in workingDir and returns combined output.
func (ExecRunner) Run(ctx context.Context, workingDir, name string, args []string) ([]byte, error) {
	// #nosec G204 -- the binary and scripts come from validated configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workingDir

	return cmd.CombinedOutput()
}
