// Package importer backfills historical candles for a product: it plans the
// date ranges, feeds them through a rate-limited scheduler and persists
// every fetched batch.
package importer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/provider"
	"github.com/ahmethakanbesel/candle-backfill/internal/scheduler"
)

const defaultProgressInterval = 10 * time.Second

// Importer starts backfill runs. One Importer can serve many runs; each run
// owns its own scheduler.
type Importer struct {
	repo             imports.Repository
	provider         provider.Provider
	schedCfg         scheduler.Config
	retry            RetryPolicy
	maxPerRequest    int
	progressInterval time.Duration
	now              func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithSchedulerConfig sets the rate limits applied to each run.
func WithSchedulerConfig(cfg scheduler.Config) Option {
	return func(im *Importer) { im.schedCfg = cfg }
}

// WithRetryPolicy sets how transient failures are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(im *Importer) { im.retry = p }
}

// WithMaxPerRequest overrides the provider's per-request bucket cap.
func WithMaxPerRequest(n int) Option {
	return func(im *Importer) { im.maxPerRequest = n }
}

// WithProgressInterval sets how often a running import logs its counters.
func WithProgressInterval(d time.Duration) Option {
	return func(im *Importer) { im.progressInterval = d }
}

// WithClock replaces time.Now for planning.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

func New(repo imports.Repository, p provider.Provider, opts ...Option) *Importer {
	im := &Importer{
		repo:             repo,
		provider:         p,
		schedCfg:         scheduler.DefaultConfig(),
		maxPerRequest:    provider.MaxDataPointsPerRequest,
		progressInterval: defaultProgressInterval,
		now:              time.Now,
	}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Start validates the request, records the import and schedules the
// initial ranges. The returned Run completes in the background.
//
// A duplicate name is reported before anything is scheduled.
func (im *Importer) Start(ctx context.Context, req imports.RunImportRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := im.repo.EnsureSchema(ctx); err != nil {
		return nil, &imports.StorageError{Op: "ensure schema", Err: err}
	}

	now := im.now()
	imp := &imports.Import{
		Name:        req.Name,
		Product:     req.Product,
		Datapoints:  req.Datapoints,
		Granularity: req.Granularity,
		CreatedAt:   now.UTC(),
	}
	if err := im.repo.CreateImport(ctx, imp); err != nil {
		if errors.Is(err, imports.ErrDuplicateName) {
			return nil, err
		}
		return nil, &imports.StorageError{Op: "create import", Err: err}
	}

	run := &Run{
		ID:       uuid.NewString(),
		Import:   *imp,
		repo:     im.repo,
		provider: im.provider,
		retry:    im.retry,
		sched:    scheduler.New(im.schedCfg),
		fatal:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	run.log = slog.With("run", run.ID, "import", imp.Name, "product", imp.Product)

	ranges := provider.Plan(provider.DefaultAnchor(now), imp.Granularity, imp.Datapoints, im.maxPerRequest)
	run.stats.planned.Store(int64(len(ranges)))

	// Everything is queued before the scheduler starts so drain cannot fire
	// between two initial ranges.
	for _, r := range ranges {
		run.schedule(r, im.retry.newBackOff())
	}

	run.log.Info("import started",
		"import_id", imp.ID, "datapoints", imp.Datapoints, "granularity", imp.Granularity,
		"ranges", len(ranges))

	go run.wait(ctx, im.progressInterval)
	return run, nil
}

// RunImport starts an import and blocks until it completes.
func (im *Importer) RunImport(ctx context.Context, req imports.RunImportRequest) (*Run, error) {
	run, err := im.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	<-run.Done()
	return run, run.Err()
}

// Stats counts what happened during a run.
type Stats struct {
	Planned         int64 `json:"planned"`
	Fetches         int64 `json:"fetches"`
	Splits          int64 `json:"splits"`
	Retries         int64 `json:"retries"`
	Abandoned       int64 `json:"abandoned"`
	PersistFailures int64 `json:"persistFailures"`
	Candles         int64 `json:"candles"`
}

type counters struct {
	planned         atomic.Int64
	fetches         atomic.Int64
	splits          atomic.Int64
	retries         atomic.Int64
	abandoned       atomic.Int64
	persistFailures atomic.Int64
	candles         atomic.Int64
}

// Run is the completion handle of one import.
type Run struct {
	ID     string
	Import imports.Import

	repo     imports.Repository
	provider provider.Provider
	retry    RetryPolicy
	sched    *scheduler.Scheduler
	log      *slog.Logger
	stats    counters

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error

	done chan struct{}
	err  error
}

// Done is closed when every range has been settled, the run failed fatally
// or the context passed to Start was cancelled.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err reports why the run ended. It is nil after a clean drain and must only
// be read after Done is closed.
func (r *Run) Err() error { return r.err }

// Stats returns the run counters. Safe to call while the run is active.
func (r *Run) Stats() Stats {
	return Stats{
		Planned:         r.stats.planned.Load(),
		Fetches:         r.stats.fetches.Load(),
		Splits:          r.stats.splits.Load(),
		Retries:         r.stats.retries.Load(),
		Abandoned:       r.stats.abandoned.Load(),
		PersistFailures: r.stats.persistFailures.Load(),
		Candles:         r.stats.candles.Load(),
	}
}

func (r *Run) wait(ctx context.Context, progressInterval time.Duration) {
	defer close(r.done)

	errc := make(chan error, 1)
	go func() { errc <- r.sched.Run(ctx) }()

	var tick <-chan time.Time
	if progressInterval > 0 {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

loop:
	for {
		select {
		case <-r.sched.Drained():
			break loop
		case <-r.fatal:
			break loop
		case <-ctx.Done():
			break loop
		case <-tick:
			c := r.sched.Counts()
			r.log.Info("import progress",
				"queued", c.Queued, "delayed", c.Delayed, "running", c.Running, "done", c.Done,
				"candles", r.stats.candles.Load())
		}
	}

	r.sched.Close()
	runErr := <-errc

	// Every job has returned, so a fatal failure, if any, is recorded.
	select {
	case <-r.fatal:
		r.err = r.fatalErr
	default:
		if ctx.Err() != nil {
			r.err = ctx.Err()
		} else if runErr != nil {
			r.err = runErr
		}
	}

	st := r.Stats()
	attrs := []any{
		"import_id", r.Import.ID, "fetches", st.Fetches, "splits", st.Splits, "retries", st.Retries,
		"abandoned", st.Abandoned, "persist_failures", st.PersistFailures, "candles", st.Candles,
	}
	if r.err != nil {
		r.log.Error("import failed", append(attrs, "error", r.err)...)
		return
	}
	r.log.Info("import finished", attrs...)
}

func (r *Run) fail(err error) {
	r.fatalOnce.Do(func() {
		r.fatalErr = err
		close(r.fatal)
		r.sched.Close()
	})
}
