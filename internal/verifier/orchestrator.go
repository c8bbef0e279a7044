package verifier

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/observability"
)

const tracerName = "tgscan/verifier"

var ErrNoSessionsAvailable = errors.New("no active sessions available")

// SessionPool is the slice of pool behavior the orchestrator needs. The
// snapshot taken at batch start is advisory; concurrent mutations are
// tolerated (see the pool service for the storage-level guarantees).
type SessionPool interface {
	ListAllActive() ([]domain.AccountSession, error)
	Invalidate(sessionID uint) error
}

// Result is the report line for one probed entry. Only accepted outcomes
// appear here: rate limits and invalid sessions cause failover, not lines.
type Result struct {
	Entry Entry
	Probe ProbeResult
}

// Report is the outcome of one batch run, in input order. Exhausted is set
// when every session in the snapshot became unusable and the remainder of the
// batch was abandoned; MaxWait then carries the longest reported flood wait.
type Report struct {
	Results   []Result
	PoolSize  int
	Exhausted bool
	MaxWait   time.Duration
}

// Orchestrator drives a batch of numbers across the session pool, rotating
// sessions per number and failing over on rate limits and invalidated
// sessions. Numbers within a batch run strictly sequentially, so cursor and
// failure bookkeeping stay unsynchronized local state.
type Orchestrator struct {
	pool     SessionPool
	prober   Prober
	logger   *slog.Logger
	sleepMin time.Duration
	sleepMax time.Duration
	sleep    func(ctx context.Context, d time.Duration)
}

func NewOrchestrator(pool SessionPool, prober Prober, logger *slog.Logger, sleepMin, sleepMax time.Duration) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		prober:   prober,
		logger:   logger,
		sleepMin: sleepMin,
		sleepMax: sleepMax,
		sleep:    sleepCtx,
	}
}

// Run probes every entry and returns per-entry results in input order. The
// pool is snapshotted once at batch start; an empty snapshot fails fast with
// ErrNoSessionsAvailable.
func (o *Orchestrator) Run(ctx context.Context, entries []Entry) (*Report, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "verify.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(entries)))

	sessions, err := o.pool.ListAllActive()
	if err != nil {
		observability.RecordBatch("error")
		return nil, err
	}
	if len(sessions) == 0 {
		observability.RecordBatch("no_sessions")
		return nil, ErrNoSessionsAvailable
	}

	span.SetAttributes(attribute.Int("batch.pool_size", len(sessions)))

	report := &Report{PoolSize: len(sessions)}
	failed := make(map[int]struct{})
	flooded := make(map[int]time.Duration)
	cursor := 0

	for i, entry := range entries {
		var res ProbeResult
		accepted := false
		for attempt := 0; attempt < len(sessions); attempt++ {
			idx := (cursor + attempt) % len(sessions)
			if _, bad := failed[idx]; bad {
				continue
			}
			if _, limited := flooded[idx]; limited {
				continue
			}
			sess := sessions[idx]
			res = o.prober.Probe(ctx, sess, entry.Phone)
			switch res.Kind {
			case ProbeSessionInvalid:
				failed[idx] = struct{}{}
				if err := o.pool.Invalidate(sess.ID); err != nil {
					o.logger.Error("invalidate session failed", "session_id", sess.ID, "error", err)
				}
				o.logger.Warn("session invalidated during batch", "session_id", sess.ID, "phone", sess.Phone)
				continue
			case ProbeRateLimited:
				flooded[idx] = res.Wait
				o.logger.Warn("session rate limited", "session_id", sess.ID, "wait", res.Wait)
				continue
			}
			accepted = true
			break
		}

		// Advance exactly once per number processed, regardless of outcome.
		cursor = (cursor + 1) % len(sessions)

		if !accepted {
			report.Exhausted = true
			report.MaxWait = maxWait(flooded)
			span.SetAttributes(attribute.Bool("batch.exhausted", true))
			observability.RecordBatch("exhausted")
			return report, nil
		}
		report.Results = append(report.Results, Result{Entry: entry, Probe: res})

		if i < len(entries)-1 {
			o.sleep(ctx, o.pause())
			if ctx.Err() != nil {
				observability.RecordBatch("canceled")
				return report, ctx.Err()
			}
		}
	}
	observability.RecordBatch("completed")
	return report, nil
}

// pause picks a randomized inter-probe delay so batch traffic does not form a
// pattern the platform penalizes.
func (o *Orchestrator) pause() time.Duration {
	if o.sleepMax <= o.sleepMin {
		return o.sleepMin
	}
	return o.sleepMin + time.Duration(rand.Int63n(int64(o.sleepMax-o.sleepMin)))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func maxWait(flooded map[int]time.Duration) time.Duration {
	var max time.Duration
	for _, w := range flooded {
		if w > max {
			max = w
		}
	}
	return max
}
