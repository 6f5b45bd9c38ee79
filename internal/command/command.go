package command

import (
	"context"
	"os/exec"
)

// Factory creates Executor instances.
//
// The factory abstracts process creation so that callers do not depend
// directly on exec.Command. Tests replace it with a fake.
type Factory interface {
	Command(ctx context.Context, name string, args ...string) Executor
}

// Executor is the minimal surface over exec.Cmd used by certd.
type Executor interface {
	Run() error
	CombinedOutput() ([]byte, error)
}

// ExecFactory is the default Factory. It launches real OS processes.
type ExecFactory struct{}

func NewFactory() *ExecFactory {
	return &ExecFactory{}
}

func (ExecFactory) Command(ctx context.Context, name string, args ...string) Executor {
	return &execCmd{cmd: exec.CommandContext(ctx, name, args...)}
}

type execCmd struct {
	cmd *exec.Cmd
}

func (e *execCmd) Run() error {
	return e.cmd.Run()
}

func (e *execCmd) CombinedOutput() ([]byte, error) {
	return e.cmd.CombinedOutput()
}
