// Package notify signals running containers that a certificate changed.
package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/internal/command"
)

// ContainerNotifier sends `{runtime} kill -s {signal} {target}` for each target.
type ContainerNotifier struct {
	runtime  string
	signal   string
	commands command.Factory
	logger   *slog.Logger
}

// Option configures a ContainerNotifier.
type Option func(*ContainerNotifier)

// WithCommandFactory replaces the process launcher.
func WithCommandFactory(f command.Factory) Option {
	return func(n *ContainerNotifier) { n.commands = f }
}

// New returns a notifier for runtime ("docker", "podman") sending signal ("SIGHUP").
func New(runtime, signal string, logger *slog.Logger, opts ...Option) *ContainerNotifier {
	if logger == nil {
		panic("notify.New: received nil logger")
	}
	if signal == "" {
		signal = "SIGHUP"
	}
	n := &ContainerNotifier{
		runtime:  runtime,
		signal:   signal,
		commands: command.NewFactory(),
		logger:   logger.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify signals every target in order. A failing target is logged and returned as a
// *certd.NotifyError; the remaining targets are still signalled.
func (n *ContainerNotifier) Notify(ctx context.Context, targets []string) []error {
	var errs []error
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		n.logger.Info("Send signal to container", "container", target, "signal", n.signal)

		out, err := n.commands.Command(ctx, n.runtime, "kill", "-s", n.signal, target).CombinedOutput()
		if err != nil {
			if msg := bytes.TrimSpace(out); len(msg) > 0 {
				err = errors.Join(err, errors.New(string(msg)))
			}
			n.logger.Error("Failed to notify container", "container", target, "error", err)
			errs = append(errs, &certd.NotifyError{Target: target, Err: err})
		}
	}
	return errs
}
