package certd

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caasmo/certd/metrics"
)

// DhRefresher keeps the shared DH parameter file younger than maxAgeDays.
// A zero maxAgeDays disables it.
type DhRefresher struct {
	path       string
	maxAgeDays int
	bits       int
	toolkit    Toolkit
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewDhRefresher(settings Settings, toolkit Toolkit, logger *slog.Logger, opts ...Option) *DhRefresher {
	if toolkit == nil || logger == nil {
		panic("NewDhRefresher: received nil toolkit or logger")
	}
	o := buildOptions(opts)
	return &DhRefresher{
		path:       NewLayout(settings).DhParamPath,
		maxAgeDays: settings.DhMaxAgeDays,
		bits:       settings.DhBits,
		toolkit:    toolkit,
		metrics:    o.metrics,
		logger:     logger.With("component", "dhparam"),
		now:        o.now,
	}
}

func (d *DhRefresher) Enabled() bool { return d.maxAgeDays > 0 }

// Refresh regenerates the file when it is absent or too old and reports whether it did.
func (d *DhRefresher) Refresh(ctx context.Context) (bool, error) {
	if !d.Enabled() {
		return false, nil
	}

	// The modification time is read right before regenerating.
	fresh, err := d.fresh()
	if err != nil {
		d.logger.Error("Failed to stat DH parameter file", "path", d.path, "error", err)
		d.metrics.ObserveDhRefresh(metrics.ResultFailed)
		return false, &ToolkitError{Op: "stat dhparam", Err: err}
	}
	if fresh {
		d.metrics.ObserveDhRefresh(metrics.ResultSkipped)
		return false, nil
	}

	d.logger.Info("Creating DH parameter file", "path", d.path, "bits", d.bits)
	start := d.now()
	if err := d.toolkit.GenerateDhParams(ctx, d.path, d.bits); err != nil {
		d.logger.Error("Failed to generate DH parameters", "error", err)
		d.metrics.ObserveDhRefresh(metrics.ResultFailed)
		return false, asToolkitError("generate dhparam", err)
	}
	d.logger.Info("DH parameter file created", "path", d.path, "took", d.now().Sub(start).Round(time.Second))
	d.metrics.ObserveDhRefresh(metrics.ResultIssued)
	return true, nil
}

func (d *DhRefresher) fresh() (bool, error) {
	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ageDays(d.now(), info.ModTime()) < d.maxAgeDays, nil
}
