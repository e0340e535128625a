package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Sink receives every emitted event in addition to the structured log
// line, for callers that want a durable copy (the optional Postgres
// audit mirror below, a test spy, a metrics counter). Sink methods must
// not block the moderation hot path for long; PostgresSink fires its
// insert in a background goroutine for that reason.
type Sink interface {
	Security(SecurityEvent)
	Verification(VerificationEvent)
}

// Logger emits SEC/VER events as structured slog records and fans them
// out to an optional Sink (spec.md §4.7, C7 EventLogger). Grounded on the
// teacher's pervasive log/slog usage (e.g. cmd/migrate.go) for the
// line-oriented side and its internal/store/pg session store for the
// "cache plus optional durable mirror" shape on the sink side.
type Logger struct {
	log  *slog.Logger
	sink Sink
}

// New creates a Logger. sink may be nil.
func New(log *slog.Logger, sink Sink) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log, sink: sink}
}

// EmitSecurity logs and sinks a SEC event, assigning EventID/TraceID if
// unset.
func (l *Logger) EmitSecurity(evt SecurityEvent) SecurityEvent {
	if evt.EventID == "" {
		evt.EventID = NewEventID(PrefixSecurity, evt.At)
	}
	if evt.TraceID == "" {
		evt.TraceID = NewTraceID()
	}

	l.log.Info("moderation action",
		"event_id", evt.EventID,
		"trace_id", evt.TraceID,
		"tenant_id", evt.TenantID,
		"user_id", evt.UserID,
		"score", evt.Score,
		"offense_count", evt.OffenseCount,
		"reasons", FormatReasonLabels(evt.Reasons),
		"action", ActionLabel(evt.Action),
		"delete_step", evt.DeleteStep,
		"action_step", evt.ActionStep,
		"channel", evt.Channel,
		"excerpt", evt.Excerpt,
	)

	if l.sink != nil {
		l.sink.Security(evt)
	}
	return evt
}

// EmitVerification logs and sinks a VER event, assigning EventID/TraceID
// if unset.
func (l *Logger) EmitVerification(evt VerificationEvent) VerificationEvent {
	if evt.EventID == "" {
		evt.EventID = NewEventID(PrefixVerification, evt.At)
	}
	if evt.TraceID == "" {
		evt.TraceID = NewTraceID()
	}

	l.log.Info("verification event",
		"event_id", evt.EventID,
		"trace_id", evt.TraceID,
		"tenant_id", evt.TenantID,
		"user_id", evt.UserID,
		"phase", evt.Phase,
		"status", evt.Status,
		"detail", evt.Detail,
	)

	if l.sink != nil {
		l.sink.Verification(evt)
	}
	return evt
}

// PostgresSink mirrors events into a Postgres audit table. It is
// additive: spec.md's Non-goals keep the offense ledger itself
// in-memory-only, so this sink only ever receives events after the
// in-memory decision has already been made, and its own failures never
// affect enforcement. Grounded on cmd/migrate.go's "sql.Open("pgx", dsn)"
// pattern rather than a pgxpool, since the audit table sees one
// low-frequency insert at a time and gains nothing from pool tuning.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgresSink opens dsn via the pgx stdlib driver and returns a
// PostgresSink. Callers should apply the migrations in migrations/
// before first use (audit.OpenSink does this).
func OpenPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit sink: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) Security(evt SecurityEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reasons := make([]string, len(evt.Reasons))
		for i, r := range evt.Reasons {
			reasons[i] = string(r)
		}

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO security_events
				(event_id, trace_id, tenant_id, user_id, occurred_at, score, offense_count, reasons, action, delete_step, action_step, channel, excerpt)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			 ON CONFLICT (event_id) DO NOTHING`,
			evt.EventID, evt.TraceID, evt.TenantID, evt.UserID, evt.At,
			evt.Score, evt.OffenseCount, reasons, string(evt.Action), string(evt.DeleteStep), string(evt.ActionStep),
			evt.Channel, evt.Excerpt,
		)
		if err != nil {
			slog.Warn("security audit insert failed", "event_id", evt.EventID, "error", err)
		}
	}()
}

func (s *PostgresSink) Verification(evt VerificationEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO verification_events
				(event_id, trace_id, tenant_id, user_id, occurred_at, phase, status, detail)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 ON CONFLICT (event_id) DO NOTHING`,
			evt.EventID, evt.TraceID, evt.TenantID, evt.UserID, evt.At,
			string(evt.Phase), evt.Status, evt.Detail,
		)
		if err != nil {
			slog.Warn("verification audit insert failed", "event_id", evt.EventID, "error", err)
		}
	}()
}
