package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caasmo/certd"
	"github.com/caasmo/certd/internal/command"
	"github.com/caasmo/certd/notify"
)

func TestNotifySignalsEveryTarget(t *testing.T) {
	fake := &command.Fake{Handler: func(call command.Call) ([]byte, error) {
		if call.Args[len(call.Args)-1] == "gone" {
			return []byte("Error: No such container: gone\n"), errors.New("exit status 1")
		}
		return nil, nil
	}}
	n := notify.New("podman", "", slog.New(slog.NewTextHandler(io.Discard, nil)), notify.WithCommandFactory(fake))

	errs := n.Notify(context.Background(), []string{"nginx", " ", "gone", "api"})

	require.Len(t, errs, 1)
	var nerr *certd.NotifyError
	require.True(t, errors.As(errs[0], &nerr))
	assert.Equal(t, "gone", nerr.Target)
	assert.Contains(t, nerr.Error(), "No such container")

	var got []string
	for _, c := range fake.Calls() {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{
		"podman kill -s SIGHUP nginx",
		"podman kill -s SIGHUP gone",
		"podman kill -s SIGHUP api",
	}, got, "a failing target does not stop the batch")
}

func TestNotifyNoTargets(t *testing.T) {
	fake := &command.Fake{}
	n := notify.New("docker", "SIGUSR1", slog.New(slog.NewTextHandler(io.Discard, nil)), notify.WithCommandFactory(fake))

	assert.Empty(t, n.Notify(context.Background(), nil))
	assert.Empty(t, fake.Calls())
}
