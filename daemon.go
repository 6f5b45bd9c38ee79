package certd

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/caasmo/certd/metrics"
)

// PassResult summarises one orchestration pass.
type PassResult struct {
	Definitions []Definition
	Changed     []string         // names reissued in this pass, in processing order
	Failed      map[string]error // per certificate failures
	DhRefreshed bool
}

// Daemon runs the refresh, aggregate, renew, notify, wait cycle.
type Daemon struct {
	settings   Settings
	layout     Layout
	aggregator *Aggregator
	pipeline   *Pipeline
	dh         *DhRefresher
	notifier   Notifier
	metrics    *metrics.Metrics
	environ    func() []string
	now        func() time.Time
	logger     *slog.Logger
}

// NewDaemon wires the orchestration loop. Options are shared with the pipeline.
func NewDaemon(settings Settings, toolkit Toolkit, signer Signer, notifier Notifier, logger *slog.Logger, opts ...Option) *Daemon {
	if toolkit == nil || signer == nil || notifier == nil || logger == nil {
		panic("NewDaemon: received nil toolkit, signer, notifier, or logger")
	}
	o := buildOptions(opts)
	return &Daemon{
		settings:   settings,
		layout:     NewLayout(settings),
		aggregator: NewAggregator(logger),
		pipeline:   NewPipeline(settings, toolkit, signer, logger, opts...),
		dh:         NewDhRefresher(settings, toolkit, logger, opts...),
		notifier:   notifier,
		metrics:    o.metrics,
		environ:    o.environ,
		now:        o.now,
		logger:     logger.With("component", "daemon"),
	}
}

// Run loops until ctx is cancelled. It never returns because of a certificate failure.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Certificate daemon started")
	for {
		d.RunOnce(ctx)
		if _, err := d.Wait(ctx); err != nil {
			d.logger.Info("Certificate daemon stopping", "reason", err)
			return err
		}
	}
}

// RunOnce performs a single pass: DH refresh, aggregation, renewal and notification.
func (d *Daemon) RunOnce(ctx context.Context) PassResult {
	res := PassResult{Failed: make(map[string]error)}

	if refreshed, err := d.dh.Refresh(ctx); err == nil {
		res.DhRefreshed = refreshed
	}

	agg := d.aggregator.Aggregate(d.environ(), d.layout.DomainsFile)
	res.Definitions = agg.Definitions
	d.logger.Info("Certificate definitions loaded", "count", len(agg.Definitions), "domains_file", agg.File.Status.String())

	var changed []Definition
	for _, def := range agg.Definitions {
		ok, err := d.pipeline.Renew(ctx, def)
		if err != nil {
			d.logger.Error("Certificate failed this pass", "cert", def.Name, "error", err)
			res.Failed[def.Name] = err
			continue
		}
		if ok {
			changed = append(changed, def)
			res.Changed = append(res.Changed, def.Name)
		}
	}

	if len(changed) > 0 {
		d.notify(ctx, changed)
	}

	d.metrics.ObservePass(len(res.Changed), d.now())
	d.logger.Info("Pass finished", "changed", len(res.Changed), "failed", len(res.Failed))
	return res
}

// notify signals the default targets once, then the targets of every changed certificate.
func (d *Daemon) notify(ctx context.Context, changed []Definition) {
	if len(d.settings.DefaultNotify) > 0 {
		d.logger.Info("Notifying default containers", "targets", d.settings.DefaultNotify)
		d.metrics.ObserveNotifyFailures(len(d.notifier.Notify(ctx, d.settings.DefaultNotify)))
	}
	for _, def := range changed {
		if len(def.Notify) == 0 {
			continue
		}
		d.logger.Info("Notifying certificate containers", "cert", def.Name, "targets", def.Notify)
		d.metrics.ObserveNotifyFailures(len(d.notifier.Notify(ctx, def.Notify)))
	}
}

// Wait blocks until the wait ceiling elapses, the force update marker shows up, or ctx
// is done. The marker is checked every tick and on filesystem events in its directory;
// a found marker is removed and reported as forced=true.
func (d *Daemon) Wait(ctx context.Context) (forced bool, err error) {
	ceiling := time.NewTimer(d.settings.WaitCeiling.Duration)
	defer ceiling.Stop()
	ticker := time.NewTicker(d.settings.WaitTick.Duration)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if w, err := d.watchMarker(); err != nil {
		d.logger.Debug("Watching force update marker unavailable, polling only", "error", err)
	} else {
		defer w.Close()
		events, watchErrs = w.Events, w.Errors
	}

	marker := filepath.Base(d.layout.ForceUpdateFile)
	for {
		if d.consumeMarker() {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ceiling.C:
			return d.consumeMarker(), nil
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != marker {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.Debug("Force update watch error", "error", err)
		}
	}
}

func (d *Daemon) watchMarker() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(d.layout.ForceUpdateFile)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// consumeMarker removes the force update marker and reports whether it was there.
func (d *Daemon) consumeMarker() bool {
	ok, err := fileExists(d.layout.ForceUpdateFile)
	if err != nil || !ok {
		return false
	}
	if err := os.Remove(d.layout.ForceUpdateFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Error("Failed to remove force update marker", "path", d.layout.ForceUpdateFile, "error", err)
		return false
	}
	d.logger.Info("Force update")
	return true
}
