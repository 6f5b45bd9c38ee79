package command

import (
	"context"
	"strings"
	"sync"
)

// Call is one command issued through a Fake.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Fake records commands instead of running them. Handler, when set, decides the
// output and error of each call; otherwise every call succeeds with no output.
type Fake struct {
	Handler func(call Call) ([]byte, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Command(_ context.Context, name string, args ...string) Executor {
	return &fakeCmd{f: f, call: Call{Name: name, Args: append([]string(nil), args...)}}
}

// Calls returns a copy of the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) run(call Call) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(call)
}

type fakeCmd struct {
	f    *Fake
	call Call
}

func (c *fakeCmd) Run() error {
	_, err := c.f.run(c.call)
	return err
}

func (c *fakeCmd) CombinedOutput() ([]byte, error) {
	return c.f.run(c.call)
}
