package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Process is a running instance.
type Process interface {
	Pid() int
	// Terminate asks the process to exit.
	Terminate() error
	// Kill ends the process immediately.
	Kill() error
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
}

// InstanceSpec describes one instance to start.
type InstanceSpec struct {
	Ordinal int
	Port    int
	Output  io.Writer
}

// Env returns the variables that tell an instance which port to bind.
func (s InstanceSpec) Env() []string {
	port := strconv.Itoa(s.Port)
	return []string{"PORT=" + port, "BACKEND_PORT=" + port}
}

// Launcher starts instances.
type Launcher interface {
	Launch(ctx context.Context, spec InstanceSpec) (Process, error)
}

// ExecLauncher starts each instance as a child process.
type ExecLauncher struct {
	Binary string
	Args   []string
}

// Launch starts Binary with Args in its own process group, with the port
// variables added to the current environment.
func (l ExecLauncher) Launch(_ context.Context, spec InstanceSpec) (Process, error) {
	// The instance outlives the launch context; it is stopped by Terminate.
	cmd := exec.Command(l.Binary, l.Args...) //nolint:gosec
	cmd.Env = append(os.Environ(), spec.Env()...)
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start instance %d: %w", spec.Ordinal, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Terminate() error {
	return terminateGroup(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	return killGroup(p.cmd.Process)
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
