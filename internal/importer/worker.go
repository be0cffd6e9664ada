package importer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
	"github.com/ahmethakanbesel/candle-backfill/internal/provider"
	"github.com/ahmethakanbesel/candle-backfill/internal/scheduler"
)

func (r *Run) schedule(rng provider.DateRange, bo backoff.BackOff) {
	r.scheduleAfter(0, rng, bo)
}

func (r *Run) scheduleAfter(delay time.Duration, rng provider.DateRange, bo backoff.BackOff) {
	job := func(ctx context.Context) { r.process(ctx, rng, bo) }
	if err := r.sched.ScheduleAfter(delay, job); err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			r.log.Debug("range not scheduled, import is stopping", "start", rng.Start, "end", rng.End)
			return
		}
		r.log.Error("schedule range", "start", rng.Start, "end", rng.End, "error", err)
	}
}

// process fetches one range and decides what happens next: persist on
// success, split on a span the provider rejects, stop the run on an unknown
// product, and retry with swapped bounds on anything else.
func (r *Run) process(ctx context.Context, rng provider.DateRange, bo backoff.BackOff) {
	if ctx.Err() != nil {
		return
	}

	r.stats.fetches.Add(1)
	rows, err := r.provider.FetchCandles(ctx, r.Import.Product, rng.Start, rng.End, rng.Granularity)
	switch {
	case err == nil:
		r.persist(ctx, rng, rows)

	case ctx.Err() != nil:
		return

	case provider.IsNotFound(err):
		r.fail(&ProductNotFoundError{Product: r.Import.Product, Err: err})

	case provider.IsSpanTooLarge(err):
		if rng.Datapoints() < 2 {
			r.stats.abandoned.Add(1)
			r.log.Error("range rejected and cannot be split further",
				"start", rng.Start, "end", rng.End, "error", err)
			return
		}
		r.stats.splits.Add(1)
		halves := provider.Split(rng, 2)
		r.log.Warn("range too large, splitting",
			"start", rng.Start, "end", rng.End, "datapoints", rng.Datapoints(), "pieces", len(halves))
		for _, h := range halves {
			r.schedule(h, r.retry.newBackOff())
		}

	default:
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			r.stats.abandoned.Add(1)
			r.log.Error("giving up on range", "start", rng.Start, "end", rng.End, "error", err)
			return
		}
		r.stats.retries.Add(1)
		r.log.Warn("fetch failed, retrying with swapped bounds",
			"start", rng.Start, "end", rng.End, "delay", delay, "error", err)
		r.scheduleAfter(delay, rng.Swap(), bo)
	}
}

// persist writes fetched rows. A write failure drops the rows; the range is
// not fetched again.
func (r *Run) persist(ctx context.Context, rng provider.DateRange, rows []provider.Row) {
	if len(rows) == 0 {
		return
	}

	candles := make([]imports.Candle, len(rows))
	for i, row := range rows {
		candles[i] = imports.Candle{
			Time:   row.Time,
			Low:    row.Low,
			High:   row.High,
			Open:   row.Open,
			Close:  row.Close,
			Volume: row.Volume,
		}
	}

	// Rows already fetched are written even if the run is being cancelled.
	n, err := r.repo.SaveCandles(context.WithoutCancel(ctx), r.Import.ID, r.Import.Product, candles)
	r.stats.candles.Add(n)
	if err != nil {
		r.stats.persistFailures.Add(1)
		r.log.Error("save candles",
			"start", rng.Start, "end", rng.End, "rows", len(rows), "written", n,
			"error", &imports.StorageError{Op: "save candles", Err: err})
		return
	}
	r.log.Debug("saved candles", "start", rng.Start, "end", rng.End, "rows", n)
}
