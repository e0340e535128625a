// Package janitor runs the periodic sweep backstop spec.md §5 implies
// ("resource policy": windows prune on read, but a tenant or user who
// goes idle leaves state sitting in memory until something reclaims
// it). Grounded on the teacher's cron dependency (github.com/adhocore/
// gronx, present in go.mod for its own scheduled housekeeping) and on
// cmd/gateway.go's pattern of a small supervised background loop
// started alongside the gateway and stopped on shutdown.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/spamguard/core/internal/spam"
	"github.com/spamguard/core/internal/verification"
)

// Sweeper is the periodic job: evict idle per-tenant detector state and
// finalize any verification session whose timer never fired.
type Sweeper struct {
	engine *spam.Engine
	verify *verification.Manager

	expr string
	gron gronx.Gronx
	tick func() <-chan time.Time
}

// New creates a Sweeper that evaluates expr (a standard 5-field cron
// expression, default "* * * * *" — once a minute) against a one-minute
// ticker to decide when to run.
func New(engine *spam.Engine, verify *verification.Manager, expr string) *Sweeper {
	if expr == "" {
		expr = "* * * * *"
	}
	return &Sweeper{
		engine: engine,
		verify: verify,
		expr:   expr,
		gron:   gronx.New(),
		tick:   func() <-chan time.Time { return time.NewTicker(time.Minute).C },
	}
}

// Run blocks, evaluating the cron expression once per tick until ctx is
// canceled. Each due tick runs one sweep synchronously — sweeps are
// cheap map walks, not I/O, so overlap is not a concern at a one-minute
// cadence.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil {
				slog.Warn("janitor: invalid cron expression", "expr", s.expr, "error", err)
				continue
			}
			if !due {
				continue
			}
			s.sweepOnce(now)
		}
	}
}

func (s *Sweeper) sweepOnce(now time.Time) {
	evictedUsers := s.engine.Sweep(now)
	expiredSessions := s.verify.SweepExpired(now)
	if evictedUsers > 0 || expiredSessions > 0 {
		slog.Info("janitor: sweep complete",
			"evicted_users", evictedUsers,
			"expired_sessions", expiredSessions,
		)
	}
}
