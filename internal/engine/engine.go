package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/ledger"
)

// Adapter executes opaque operations against the target store.
// Implemented by *docstore.Store.
type Adapter interface {
	Execute(ctx context.Context, op ir.Operation) error
}

// Ledger is the applied-set store the engine drives.
// Implemented by *ledger.Ledger.
type Ledger interface {
	ListApplied(ctx context.Context) ([]ir.LedgerEntry, error)
	Record(ctx context.Context, entry ir.LedgerEntry) error
	Replace(ctx context.Context, entry ir.LedgerEntry) error
	Remove(ctx context.Context, id ir.ChangesetID) error
	AcquireLock(ctx context.Context, owner string, ttl time.Duration) error
	RenewLock(ctx context.Context, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, owner string) error
	RecordRun(ctx context.Context, summary ir.RunSummary) error
}

// Default lease settings.
const (
	DefaultLockTTL          = 5 * time.Minute
	DefaultLockPollInterval = time.Second
)

// Engine runs apply and rollback requests. One Engine may serve many runs,
// but runs against the same ledger are serialised by the ledger lease.
type Engine struct {
	ledger  Ledger
	adapter Adapter
	ids     IDGenerator
	now     func() time.Time
	logger  *slog.Logger

	lockTTL      time.Duration
	lockTimeout  time.Duration
	lockInterval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the deployment id generator (default UUIDv7Generator).
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithClock sets the wall clock used for applied_at and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLockTTL sets the lease duration. The lease is renewed before every
// changeset, so ttl only needs to cover the slowest single operation.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithLockTimeout makes a run wait up to timeout for a held lease, polling
// every interval. Zero timeout (the default) fails immediately.
func WithLockTimeout(timeout, interval time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = timeout
		if interval > 0 {
			e.lockInterval = interval
		}
	}
}

// New creates an Engine over a ledger and a target adapter.
func New(l Ledger, a Adapter, opts ...Option) *Engine {
	e := &Engine{
		ledger:       l,
		adapter:      a,
		ids:          UUIDv7Generator{},
		now:          time.Now,
		logger:       slog.Default(),
		lockTTL:      DefaultLockTTL,
		lockInterval: DefaultLockPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the bookkeeping shared by one apply or rollback.
type run struct {
	summary *ir.RunSummary
	owner   string
	locked  bool
}

func (e *Engine) startRun(command string, dryRun bool) *run {
	id := e.ids.Generate()
	return &run{
		owner: id,
		summary: &ir.RunSummary{
			DeploymentID: id,
			Command:      command,
			DryRun:       dryRun,
			StartedAt:    e.now().UTC(),
			Results:      []ir.ChangesetResult{},
		},
	}
}

// acquire takes the ledger lease, waiting up to lockTimeout while another
// run holds it.
func (e *Engine) acquire(ctx context.Context, r *run) error {
	waitCtx := ctx
	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}

	for {
		err := e.ledger.AcquireLock(ctx, r.owner, e.lockTTL)
		if err == nil {
			r.locked = true
			e.logger.Debug("ledger lock acquired", "owner", r.owner, "ttl", e.lockTTL)
			return nil
		}
		if !ledger.IsLockHeld(err) || e.lockTimeout <= 0 {
			return err
		}

		e.logger.Info("ledger lock held, waiting", "owner", r.owner, "error", err)
		timer := time.NewTimer(e.lockInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		case <-timer.C:
		}
	}
}

// renew extends the lease before a changeset starts.
func (e *Engine) renew(ctx context.Context, r *run) error {
	if err := e.ledger.RenewLock(ctx, r.owner, e.lockTTL); err != nil {
		return fmt.Errorf("renew ledger lock: %w", err)
	}
	return nil
}

// finish releases the lease, stores run history and wraps cause.
// Cleanup ignores cancellation so a cancelled run still leaves a clean ledger.
func (e *Engine) finish(ctx context.Context, r *run, cause error) (*ir.RunSummary, error) {
	cleanup := context.WithoutCancel(ctx)
	r.summary.FinishedAt = e.now().UTC()
	if cause != nil {
		r.summary.Error = cause.Error()
	}

	if r.locked {
		if err := e.ledger.RecordRun(cleanup, *r.summary); err != nil {
			e.logger.Warn("failed to record run history", "deployment", r.owner, "error", err)
		}
		if err := e.ledger.ReleaseLock(cleanup, r.owner); err != nil {
			e.logger.Warn("failed to release ledger lock", "owner", r.owner, "error", err)
		}
	}

	e.logger.Info("run finished",
		"command", r.summary.Command,
		"deployment", r.owner,
		"outcome", r.summary.Outcome(),
		"applied", len(r.summary.Applied()),
		"rolled_back", len(r.summary.RolledBack()),
		"failed", len(r.summary.Failed()),
		"not_attempted", len(r.summary.NotAttempted()),
	)

	if cause != nil {
		return r.summary, &RunError{Summary: r.summary, Err: cause}
	}
	return r.summary, nil
}

// failureCause combines per-changeset store failures into one error.
func failureCause(failures []error) error {
	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return errors.Join(failures...)
	}
}
