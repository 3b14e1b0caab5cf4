// Package export implements the export orchestrator: it drives one
// progress-reporting export job at a time to a terminal state through
// the state container.
//
// At most one job runs per orchestrator. Starting a second export while
// one is active is rejected with ErrExportInProgress rather than queued.
// Cancellation is cooperative and local-only: CancelExport resets local
// state immediately but does not guarantee the remote operation stops.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/metric"
	"github.com/c360/previewsync/state"
)

// Sender is the outbound wire seam. The export request envelope is sent
// on a best-effort basis while connected; local progress simulation
// drives the job either way.
type Sender interface {
	Send(*message.Envelope) error
	Connected() bool
}

// Options configures one export job.
type Options struct {
	// Type of artifact to produce, e.g. "pdf", "html", "png".
	Type string
	// Quality hint forwarded to the export backend.
	Quality string
	// Format hint forwarded to the export backend.
	Format string
	// Metadata is carried through to the result untouched.
	Metadata map[string]any
}

// Result is the terminal outcome of a successful export.
type Result struct {
	Success     bool
	DownloadURL string
	FileSize    int64
	Metadata    map[string]any
}

// Stage is one named phase of the export pipeline. Progress advances
// from the previous stage's target to this one while Run (if set)
// executes.
type Stage struct {
	Name   string
	Target int
	Run    func(context.Context) error
}

// defaultStages is the simulated pipeline used in absence of a real
// export backend driving progress envelopes.
func defaultStages() []Stage {
	return []Stage{
		{Name: "prepare", Target: 10},
		{Name: "render", Target: 60},
		{Name: "bundle", Target: 90},
		{Name: "upload", Target: 100},
	}
}

// requestPayload is the wire form of the outbound export request.
type requestPayload struct {
	Type    string         `json:"type"`
	Quality string         `json:"quality,omitempty"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Orchestrator drives export jobs through the container.
type Orchestrator struct {
	container *state.Container
	sender    Sender
	stages    []Stage
	stepDelay time.Duration
	baseURL   string
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStages replaces the simulated pipeline stages.
func WithStages(stages []Stage) Option {
	return func(o *Orchestrator) {
		if len(stages) > 0 {
			o.stages = stages
		}
	}
}

// WithStepDelay overrides the delay between progress increments.
func WithStepDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepDelay = d
		}
	}
}

// WithBaseURL overrides the download URL prefix for produced artifacts.
func WithBaseURL(url string) Option {
	return func(o *Orchestrator) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// NewOrchestrator creates an orchestrator bound to the container and
// sender.
func NewOrchestrator(container *state.Container, sender Sender, registry *metric.Registry, name string, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		container: container,
		sender:    sender,
		stages:    defaultStages(),
		stepDelay: 30 * time.Millisecond,
		baseURL:   "https://exports.preview.invalid",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "export")

	metrics, err := newMetrics(registry, name)
	if err != nil {
		return nil, err
	}
	o.metrics = metrics

	return o, nil
}

// ExportPortfolio drives one export job to completion and blocks until
// it reaches a terminal state. Progress is monotonically non-decreasing
// and reaches exactly 100 on success. The job always reaches a terminal
// state (succeeded, failed, or cancelled) before the active flag reads
// false.
//
// A second call while a job is active is rejected synchronously with
// ErrExportInProgress and mutates nothing.
func (o *Orchestrator) ExportPortfolio(ctx context.Context, opts Options) (*Result, error) {
	if opts.Type == "" {
		opts.Type = "html"
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrExportInProgress, "export", "ExportPortfolio", "check active job")
	}
	jobCtx, cancel := context.WithCancel(ctx)
	o.active = true
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.active = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	start := time.Now()
	if err := o.container.Dispatch(state.ExportStarted{ExportType: opts.Type}); err != nil {
		return nil, err
	}
	o.logger.Info("export started", "type", opts.Type)
	o.sendRequest(opts)

	result, err := o.run(jobCtx, opts, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sendRequest forwards the export request to the backend, best effort.
func (o *Orchestrator) sendRequest(opts Options) {
	if o.sender == nil || !o.sender.Connected() {
		return
	}
	env, err := message.New(message.TypeExport, requestPayload{
		Type:    opts.Type,
		Quality: opts.Quality,
		Format:  opts.Format,
		Options: opts.Metadata,
	})
	if err != nil {
		o.logger.Warn("failed to build export request", "error", err)
		return
	}
	if err := o.sender.Send(env); err != nil {
		o.logger.Warn("failed to send export request", "error", err)
	}
}

// run walks the pipeline stages, advancing progress and honoring
// cancellation between increments.
func (o *Orchestrator) run(ctx context.Context, opts Options, start time.Time) (*Result, error) {
	progress := 0
	for _, stage := range o.stages {
		if stage.Run != nil {
			if err := stage.Run(ctx); err != nil {
				return nil, o.fail(stage.Name, err)
			}
		}
		for progress < stage.Target {
			select {
			case <-ctx.Done():
				return nil, o.cancelled(ctx.Err())
			case <-time.After(o.stepDelay):
			}
			progress += 5
			if progress > stage.Target {
				progress = stage.Target
			}
			if err := o.container.Dispatch(state.ExportProgressed{Progress: progress}); err != nil {
				return nil, err
			}
		}
	}

	url := fmt.Sprintf("%s/%s.%s", o.baseURL, uuid.New().String(), opts.Type)
	if err := o.container.Dispatch(state.ExportSucceeded{DownloadURL: url}); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	o.metrics.recordExport("success", duration)
	o.logger.Info("export complete", "type", opts.Type, "duration", duration)

	return &Result{
		Success:     true,
		DownloadURL: url,
		FileSize:    int64(512 * 1024), // placeholder until the backend reports real sizes
		Metadata:    opts.Metadata,
	}, nil
}

func (o *Orchestrator) fail(stage string, cause error) error {
	err := errors.Wrap(cause, "export", stage, "run stage")
	if derr := o.container.Dispatch(state.ExportFailed{Err: err}); derr != nil {
		o.logger.Warn("failed to record export failure", "error", derr)
	}
	o.metrics.recordExport("failure", 0)
	o.logger.Error("export failed", "stage", stage, "error", cause)
	return err
}

func (o *Orchestrator) cancelled(cause error) error {
	if derr := o.container.Dispatch(state.ExportCancelled{}); derr != nil {
		o.logger.Warn("failed to record export cancellation", "error", derr)
	}
	o.metrics.recordExport("cancelled", 0)
	o.logger.Info("export cancelled")
	return errors.WrapInvalid(
		fmt.Errorf("%w: %v", errors.ErrExportCancelled, cause),
		"export", "ExportPortfolio", "job cancelled")
}

// CancelExport cooperatively cancels the active job: local state resets
// immediately (active false, progress 0) and the blocked ExportPortfolio
// call returns ErrExportCancelled. The remote operation is not
// guaranteed to stop. Returns ErrNoActiveExport when idle.
func (o *Orchestrator) CancelExport() error {
	o.mu.Lock()
	cancel := o.cancel
	active := o.active
	o.mu.Unlock()

	if !active || cancel == nil {
		return errors.WrapInvalid(errors.ErrNoActiveExport, "export", "CancelExport", "check active job")
	}
	cancel()
	return nil
}

// Active reports whether a job is currently running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}
