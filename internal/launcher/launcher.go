// Package launcher gates the GPT-SoVITS api_v2 process launch behind
// environment preconditions and surfaces the child's exit status.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Defaults reproducing the stock GPT-SoVITS layout.
const (
	DefaultSoVITSDir  = "GPT-SoVITS-main"
	DefaultEntrypoint = "api_v2.py"
	DefaultPythonBin  = "python"
	DefaultBindHost   = "127.0.0.1"
	DefaultBindPort   = 9880
)

// ExitPreconditionFailed is returned for every failed guard clause.
const ExitPreconditionFailed = 1

// Static errors forming the failure taxonomy of the bootstrapper.
var (
	ErrEnvironmentNotActive = errors.New("no active python virtual environment")
	ErrDependencyDirMissing = errors.New("dependency directory not found")
	ErrEntryPointMissing    = errors.New("entry-point file not found")
)

// Remediation hints printed alongside each failed precondition.
const (
	hintActivateEnv   = "Activate a virtual environment first: source venv/bin/activate"
	hintInstallSoVITS = "Install GPT-SoVITS first: git clone https://github.com/RVC-Boss/GPT-SoVITS %s"
	hintReinstall     = "The install at %s looks incomplete; re-clone GPT-SoVITS to restore %s"
)

// Status lines printed before each check and before launch.
const (
	statusCheckingEnv  = "Checking python virtual environment..."
	statusCheckingDir  = "Checking GPT-SoVITS install at %s...\n"
	statusCheckingFile = "Checking API entry point %s...\n"
	statusLaunching    = "Starting GPT-SoVITS API server on %s:%d\n"
)

// Config holds the resolved launch settings. The environment marker is read
// once by the caller and passed in, keeping the checks testable without
// mutating real process state.
type Config struct {
	// VenvPath is the value of the isolated-environment marker
	// (VIRTUAL_ENV). Empty means no environment is active.
	VenvPath   string
	SoVITSDir  string
	Entrypoint string
	PythonBin  string
	BindHost   string
	BindPort   int
}

// NewConfig returns a Config with the stock defaults and the given
// environment marker value.
func NewConfig(venvPath string) Config {
	return Config{
		VenvPath:   venvPath,
		SoVITSDir:  DefaultSoVITSDir,
		Entrypoint: DefaultEntrypoint,
		PythonBin:  DefaultPythonBin,
		BindHost:   DefaultBindHost,
		BindPort:   DefaultBindPort,
	}
}

// ProcessLauncher launches an external process in the foreground and reports
// its exit code. The real implementation shells out; tests substitute a fake.
type ProcessLauncher interface {
	Launch(workingDir, name string, args []string) (int, error)
}

// Bootstrapper sequentially evaluates the preconditions and, when all hold,
// launches the api_v2 server. All failures are terminal; nothing is retried.
type Bootstrapper struct {
	cfg      Config
	launcher ProcessLauncher
	out      io.Writer
}

// New creates a Bootstrapper writing status lines to out.
func New(cfg Config, procLauncher ProcessLauncher, out io.Writer) *Bootstrapper {
	return &Bootstrapper{
		cfg:      cfg,
		launcher: procLauncher,
		out:      out,
	}
}

// Run evaluates the guard clauses in fixed order, short-circuiting on the
// first failure, then launches the API server and returns its exit code.
// Precondition failures return ExitPreconditionFailed.
func (b *Bootstrapper) Run() int {
	fmt.Fprintln(b.out, statusCheckingEnv)

	envErr := b.checkEnvironmentActive()
	if envErr != nil {
		fmt.Fprintf(b.out, "%v\n%s\n", envErr, hintActivateEnv)

		return ExitPreconditionFailed
	}

	fmt.Fprintf(b.out, statusCheckingDir, b.cfg.SoVITSDir)

	dirErr := b.checkDependencyDir()
	if dirErr != nil {
		fmt.Fprintf(b.out, "%v\n", dirErr)
		fmt.Fprintf(b.out, hintInstallSoVITS+"\n", b.cfg.SoVITSDir)

		return ExitPreconditionFailed
	}

	entrypointPath := filepath.Join(b.cfg.SoVITSDir, b.cfg.Entrypoint)

	fmt.Fprintf(b.out, statusCheckingFile, entrypointPath)

	fileErr := b.checkEntryPoint()
	if fileErr != nil {
		fmt.Fprintf(b.out, "%v\n", fileErr)
		fmt.Fprintf(b.out, hintReinstall+"\n", b.cfg.SoVITSDir, b.cfg.Entrypoint)

		return ExitPreconditionFailed
	}

	fmt.Fprintf(b.out, statusLaunching, b.cfg.BindHost, b.cfg.BindPort)

	args := []string{
		b.cfg.Entrypoint,
		"-a", b.cfg.BindHost,
		"-p", strconv.Itoa(b.cfg.BindPort),
	}

	exitCode, launchErr := b.launcher.Launch(b.cfg.SoVITSDir, b.cfg.PythonBin, args)
	if launchErr != nil {
		fmt.Fprintf(b.out, "failed to launch api server: %v\n", launchErr)

		return ExitPreconditionFailed
	}

	return exitCode
}

// checkEnvironmentActive fails when the environment marker is unset or empty.
// The marker's value is not otherwise inspected.
func (b *Bootstrapper) checkEnvironmentActive() error {
	if b.cfg.VenvPath == "" {
		return ErrEnvironmentNotActive
	}

	return nil
}

func (b *Bootstrapper) checkDependencyDir() error {
	info, err := os.Stat(b.cfg.SoVITSDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDependencyDirMissing, b.cfg.SoVITSDir)
	}

	return nil
}

func (b *Bootstrapper) checkEntryPoint() error {
	entrypointPath := filepath.Join(b.cfg.SoVITSDir, b.cfg.Entrypoint)

	info, err := os.Stat(entrypointPath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrEntryPointMissing, entrypointPath)
	}

	return nil
}
