//go:build linux

package flurry

import (
	"context"
	"time"

	"github.com/saveenergy/connflurry/internal/logging"
	ferrors "github.com/saveenergy/connflurry/pkg/errors"
	"github.com/saveenergy/connflurry/pkg/types"
)

const DefaultPublishEvery = 250 * time.Millisecond

type RunOptions struct {
	RunID        string
	PublishEvery time.Duration
	// Publish receives periodic snapshots from the driving goroutine. It
	// must not block.
	Publish func(types.Snapshot)
	Logger  *logging.Logger
}

// Run drives pool until the established target is met, the attempt budget
// drains, ctx is cancelled, or a fatal error occurs. The pool's sockets
// are always closed on return. The report is filled in every case.
func Run(ctx context.Context, pool *ConnectionPool, opts RunOptions) (types.RunReport, error) {
	if opts.PublishEvery <= 0 {
		opts.PublishEvery = DefaultPublishEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("runner")
	}

	start := time.Now()
	lastPublish := start
	logger.Info("run started",
		logging.F("run_id", opts.RunID),
		logging.F("target", pool.Target()),
		logging.F("concurrency", pool.Size()),
		logging.F("total", pool.Stats().Total))

	err := drive(ctx, pool, func() {
		if opts.Publish == nil {
			return
		}
		if now := time.Now(); now.Sub(lastPublish) >= opts.PublishEvery {
			lastPublish = now
			opts.Publish(snapshot(pool, opts.RunID, start, now))
		}
	})
	pool.CloseAll()

	end := time.Now()
	if opts.Publish != nil {
		opts.Publish(snapshot(pool, opts.RunID, start, end))
	}

	report := buildReport(pool, opts.RunID, start, end, err)
	if err != nil && report.Status == types.RunStatusFailed {
		logger.Error("run failed", logging.F("run_id", opts.RunID), logging.F("error", err))
	} else {
		logger.Info("run finished",
			logging.F("run_id", opts.RunID),
			logging.F("status", report.Status),
			logging.F("established", report.Established),
			logging.F("failed", report.Failed),
			logging.F("duration_ms", report.DurationMs))
	}
	return report, err
}

func drive(ctx context.Context, pool *ConnectionPool, onLoop func()) error {
	if err := pool.Fill(); err != nil {
		return err
	}
	for {
		if pool.Stats().Done() {
			return nil
		}
		if pool.Exhausted() {
			return ferrors.ErrExhausted
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pool.Tick(); err != nil {
			return err
		}
		if err := pool.Sweep(); err != nil {
			return err
		}
		onLoop()
	}
}

func snapshot(pool *ConnectionPool, runID string, start, now time.Time) types.Snapshot {
	st := pool.Stats()
	return types.Snapshot{
		RunID:       runID,
		Target:      pool.Target().String(),
		Attempted:   st.Attempted,
		Established: st.Established,
		Failed:      st.Failed,
		Reclaimed:   st.Reclaimed,
		Total:       st.Total,
		InFlight:    pool.InFlight(),
		Elapsed:     now.Sub(start).Seconds(),
		Timestamp:   now,
	}
}

func buildReport(pool *ConnectionPool, runID string, start, end time.Time, err error) types.RunReport {
	st := pool.Stats()
	elapsed := end.Sub(start)
	report := types.RunReport{
		RunID:          runID,
		Status:         statusFor(err),
		Target:         pool.Target().String(),
		Concurrency:    pool.Size(),
		Total:          st.Total,
		Attempted:      st.Attempted,
		Established:    st.Established,
		Failed:         st.Failed,
		Reclaimed:      st.Reclaimed,
		DurationMs:     elapsed.Milliseconds(),
		PerSecond:      types.EstablishedPerSecond(st.Established, elapsed),
		ConnectLatency: pool.ConnectLatency(),
		StartedAt:      start,
		EndedAt:        end,
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report
}

func statusFor(err error) types.RunStatus {
	switch {
	case err == nil:
		return types.RunStatusCompleted
	case err == ferrors.ErrExhausted:
		return types.RunStatusExhausted
	case ferrors.IsContextError(err):
		return types.RunStatusCancelled
	default:
		return types.RunStatusFailed
	}
}
