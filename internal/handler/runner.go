package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openmined/syftxfer/internal/config"
	"github.com/openmined/syftxfer/internal/history"
	"github.com/openmined/syftxfer/internal/ignore"
	"github.com/openmined/syftxfer/internal/transfer"
)

// Refresh is sent after a handler changed the remote tree
type Refresh struct {
	Handler   string
	Path      string
	Recursive bool
}

type NotifyFunc func(Refresh)

// Report is the outcome of one handler invocation
type Report struct {
	Handler   string             `json:"handler"`
	Direction transfer.Direction `json:"-"`
	Target    Target             `json:"target"`
	DryRun    bool               `json:"dryRun"`

	// Operations is the plan of a dry run, skips included
	Operations []*transfer.Operation `json:"-"`

	// Result is nil for dry runs
	Result *transfer.Result `json:"-"`
}

type RunOptions struct {
	DryRun bool

	// Status receives live per-path state. Nil uses a private tracker.
	Status *transfer.Status
}

type Option func(*Runner)

func WithHistory(store *history.Store) Option {
	return func(r *Runner) {
		r.history = store
	}
}

func WithNotify(fn NotifyFunc) Option {
	return func(r *Runner) {
		r.notify = fn
	}
}

// WithIgnore replaces the rules loaded from the config
func WithIgnore(list *ignore.List) Option {
	return func(r *Runner) {
		r.ignore = list
	}
}

// Runner executes handlers against one configured pair of endpoints
type Runner struct {
	cfg       *config.Config
	endpoints transfer.Endpoints
	ignore    *ignore.List
	history   *history.Store
	notify    NotifyFunc
}

// NewRunner expects a validated config
func NewRunner(cfg *config.Config, endpoints transfer.Endpoints, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, &transfer.ConfigurationError{Field: "config", Reason: "config is required"}
	}
	if endpoints.Local == nil || endpoints.Remote == nil {
		return nil, &transfer.ConfigurationError{Field: "endpoints", Reason: "local and remote endpoints are required"}
	}

	r := &Runner{cfg: cfg, endpoints: endpoints}
	for _, opt := range opts {
		opt(r)
	}

	if r.ignore == nil {
		list, err := ignore.Load(cfg.IgnoreFile, cfg.Ignore...)
		if err != nil {
			return nil, err
		}
		r.ignore = list
	}
	return r, nil
}

// rootedIgnore evaluates rules against paths relative to the configured local
// root, whichever sub-folder the transfer starts from.
func (r *Runner) rootedIgnore(localPath string) transfer.IgnoreFunc {
	return func(rel string, isDir bool) bool {
		return r.ignore.ShouldIgnore(transfer.JoinPath(localPath, rel), isDir)
	}
}

func (r *Runner) plan(ctx context.Context, h *Handler, tcfg *transfer.Config, opts transfer.SyncOptions) (transfer.Plan, error) {
	if h.Strategy == StrategySync {
		return transfer.PlanSync(ctx, tcfg, opts)
	}
	return transfer.PlanCopy(ctx, tcfg, opts.TransferOptions)
}

func (r *Runner) checkSource(ctx context.Context, h *Handler, tcfg *transfer.Config) error {
	if h.Expect == "" {
		return nil
	}
	node, err := tcfg.Source.Stat(ctx, tcfg.SourceRoot)
	if err != nil {
		return &transfer.IOError{Op: "stat", Path: tcfg.SourceRoot, Err: err}
	}
	if node.Kind != h.Expect {
		return &transfer.ConfigurationError{
			Field:  "target",
			Reason: fmt.Sprintf("%s expects a %s, %q is a %s", h.Name, h.Expect, tcfg.SourceRoot, node.Kind),
		}
	}
	return nil
}

// Run plans and executes h for target. The error is the run's aggregate
// *transfer.RunError when operations failed or were cancelled; the report is
// returned alongside it.
func (r *Runner) Run(ctx context.Context, h *Handler, target Target, opts RunOptions) (*Report, error) {
	target = target.clean()
	report := &Report{Handler: h.Name, Direction: h.Direction, Target: target, DryRun: opts.DryRun}
	hc := &HandleContext{
		Config:    r.cfg,
		Endpoints: r.endpoints,
		Target:    target,
		Ignore:    r.rootedIgnore(target.LocalPath),
		Report:    report,
		notify:    r.notify,
	}

	tcfg := transfer.NewConfig(r.endpoints, target.LocalPath, target.RemotePath, h.Direction)
	if err := r.checkSource(ctx, h, tcfg); err != nil {
		return nil, err
	}

	plan, err := r.plan(ctx, h, tcfg, h.TransformOption(hc))
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		ops, err := transfer.Collect(plan)
		report.Operations = ops
		slog.Info("dry run", "handler", h.Name, "operations", len(ops))
		return report, err
	}

	lock := newTreeLock(r.cfg.LocksDir(), r.cfg.LocalPath)
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("unlock", "error", err)
		}
	}()

	var schedOpts []transfer.SchedulerOption
	if opts.Status != nil {
		schedOpts = append(schedOpts, transfer.WithStatus(opts.Status))
	}
	scheduler := transfer.NewScheduler(r.endpoints, r.cfg.Concurrency, schedOpts...)

	slog.Info("run", "handler", h.Name, "local", target.LocalPath, "remote", target.RemotePath, "concurrency", scheduler.Concurrency())
	result, runErr := scheduler.RunPlan(ctx, plan)
	if result == nil {
		return nil, runErr
	}
	report.Result = result

	// the run is over; bookkeeping outlives a cancelled ctx
	afterCtx := context.WithoutCancel(ctx)
	r.record(afterCtx, h, target, result)

	if h.AfterHandle != nil && result.Count(transfer.StatusSucceeded) > 0 {
		if err := h.AfterHandle(afterCtx, hc); err != nil {
			slog.Warn("after handle", "handler", h.Name, "error", err)
		}
	}

	logSummary(h, result)
	return report, runErr
}

func (r *Runner) record(ctx context.Context, h *Handler, target Target, result *transfer.Result) {
	if r.history == nil {
		return
	}
	run, failures := history.RunFromResult(h.Name, h.Direction, target.LocalPath, target.RemotePath, result)
	if err := r.history.Record(ctx, run, failures); err != nil {
		slog.Error("history", "run", run.ID, "error", err)
	}
}

func logSummary(h *Handler, result *transfer.Result) {
	attrs := []any{
		"handler", h.Name,
		"succeeded", result.Count(transfer.StatusSucceeded),
		"skipped", result.Count(transfer.StatusSkipped),
		"failed", result.Count(transfer.StatusFailed),
		"dependencyFailed", result.Count(transfer.StatusDependencyFailed),
		"cancelled", result.Count(transfer.StatusCancelled),
		"bytes", humanize.Bytes(uint64(result.Bytes())),
		"took", result.Duration.Round(time.Millisecond),
	}
	if result.Failed() {
		slog.Error("run finished with failures", attrs...)
		return
	}
	slog.Info("run finished", attrs...)
}

// IsConfigurationError reports errors that come from bad input rather than IO
func IsConfigurationError(err error) bool {
	return errors.Is(err, transfer.ErrConfiguration)
}
