// Package postgres provides a durable, queryable mirror of the execution
// router's trade journal: a typed repository with context-timeout-wrapped
// queries, a JSONB payload column, and pq.Error special-casing for
// constraint violations.
//
// The JSONL file at journal/trades_YYYYMMDD.jsonl remains the
// canonical, always-available trade record; this repository is an
// additional durable sink for operators who want SQL-queryable trade
// history across restarts and hosts. It never blocks or fails order
// execution: Append logs and swallows its own errors.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/execution"
)

// Schema is the DDL for the trade_events table, applied by operators out
// of band (no migration framework is part of this module's scope).
const Schema = `
CREATE TABLE IF NOT EXISTS trade_events (
	id               BIGSERIAL PRIMARY KEY,
	ts               TIMESTAMPTZ NOT NULL,
	client_order_id  TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	state            TEXT NOT NULL,
	lots             DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasons          JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trade_events_symbol_ts_idx ON trade_events (symbol, ts DESC);
CREATE INDEX IF NOT EXISTS trade_events_client_order_id_idx ON trade_events (client_order_id);
`

// Open connects to Postgres via sqlx, pings to fail fast on a bad DSN, and
// returns the pooled handle callers share across repositories.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// TradeJournal durably records execution.Event lifecycle transitions,
// implementing execution.Journal.
type TradeJournal struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradeJournal wires a TradeJournal to an open database handle.
func NewTradeJournal(db *sqlx.DB, timeout time.Duration) *TradeJournal {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TradeJournal{db: db, timeout: timeout}
}

// Append inserts one trade lifecycle event. Errors are logged and
// swallowed without a retry: a durable-journal outage must never block
// order execution, so Append always returns nil.
func (j *TradeJournal) Append(ev execution.Event) error {
	if err := j.insert(ev); err != nil {
		log.Warn().Err(err).Str("client_order_id", ev.ClientOrderID).
			Msg("durable trade journal write failed, JSONL journal remains canonical")
	}
	return nil
}

func (j *TradeJournal) insert(ev execution.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	reasonsJSON, err := json.Marshal(ev.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	const query = `
		INSERT INTO trade_events (ts, client_order_id, symbol, state, lots, reasons)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = j.db.ExecContext(ctx, query, ev.Timestamp, ev.ClientOrderID, ev.Symbol, string(ev.State), ev.Lots, reasonsJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("insert trade event (pg code %s): %w", pqErr.Code, err)
		}
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// ListBySymbol returns recent durable trade events for a symbol, newest
// first, capped at limit.
func (j *TradeJournal) ListBySymbol(symbol string, limit int) ([]execution.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	const query = `
		SELECT ts, client_order_id, symbol, state, lots, reasons
		FROM trade_events
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := j.db.QueryxContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var out []execution.Event
	for rows.Next() {
		var (
			ev          execution.Event
			state       string
			reasonsJSON []byte
		)
		if err := rows.Scan(&ev.Timestamp, &ev.ClientOrderID, &ev.Symbol, &state, &ev.Lots, &reasonsJSON); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		ev.State = execution.State(state)
		if len(reasonsJSON) > 0 {
			if err := json.Unmarshal(reasonsJSON, &ev.Reasons); err != nil {
				return nil, fmt.Errorf("unmarshal reasons: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade events: %w", err)
	}
	return out, nil
}

// CountByState reports how many durable trade events exist per terminal
// state, used by operator status reporting.
func (j *TradeJournal) CountByState(ctx context.Context) (map[execution.State]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	const query = `SELECT state, COUNT(*) FROM trade_events GROUP BY state`
	rows, err := j.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count trade events by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[execution.State]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[execution.State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return counts, nil
}
