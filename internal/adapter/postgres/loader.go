package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/config"
	"github.com/ftenorioinkluziva/f1-data-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxBeginner opens a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Loader commits each batch in one transaction. It implements
// pipeline.BatchLoader.
type Loader struct {
	db     TxBeginner
	schema Schema
	logger *slog.Logger
}

// NewLoader creates a Loader writing through schema.
func NewLoader(db TxBeginner, schema Schema, logger *slog.Logger) *Loader {
	return &Loader{db: db, schema: schema, logger: logger}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// LoadBatch writes every non-empty collection of b inside one transaction.
// Each collection runs under its own savepoint: a row-level database error
// rolls back that collection only, is logged with its keys and reported in
// the result, and the remaining collections still commit. Any other error
// rolls back the whole batch and is returned.
func (l *Loader) LoadBatch(ctx context.Context, b domain.Batch) (domain.LoadResult, error) {
	result := domain.LoadResult{Written: map[domain.Kind]int{}, Failed: map[domain.Kind]error{}}
	if b.Empty() {
		return result, nil
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, kind := range domain.Kinds {
		n := b.Count(kind)
		if n == 0 {
			continue
		}
		if err := l.writeKind(ctx, tx, kind, b); err != nil {
			if !isRowLevel(err) {
				return domain.LoadResult{}, fmt.Errorf("load %s: %w", kind, err)
			}
			l.logger.Error("table load failed, rolled back to savepoint",
				"table", l.schema.Table(kind),
				"kind", kind,
				"rows", n,
				"keys", describeKeys(kind, b),
				"error", err,
			)
			result.Failed[kind] = err
			continue
		}
		result.Written[kind] = n
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.LoadResult{}, fmt.Errorf("commit batch transaction: %w", err)
	}
	return result, nil
}

// writeKind runs one collection inside a savepoint.
func (l *Loader) writeKind(ctx context.Context, tx pgx.Tx, kind domain.Kind, b domain.Batch) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := l.schema.Write(ctx, sp, kind, b); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback savepoint: %w", rbErr)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// isRowLevel reports whether err came from the data of one statement
// (constraint, type or missing-table errors) rather than from the connection
// or the transaction as a whole.
func isRowLevel(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if len(pgErr.Code) < 2 {
		return true
	}
	switch pgErr.Code[:2] {
	case "08", // connection exception
		"25", // invalid transaction state
		"40", // transaction rollback (serialization, deadlock)
		"53", // insufficient resources
		"57", // operator intervention
		"58", // system error
		"XX": // internal error
		return false
	}
	return true
}

// describeKeys lists the natural keys of a collection for error logs.
func describeKeys(kind domain.Kind, b domain.Batch) string {
	const maxKeys = 10
	var keys []string
	add := func(k string) bool {
		keys = append(keys, k)
		return len(keys) < maxKeys
	}
	switch kind {
	case domain.KindSession:
		for _, r := range b.Sessions {
			if !add(strconv.Itoa(r.SessionKey)) {
				break
			}
		}
	case domain.KindDriver:
		for _, r := range b.Drivers {
			if !add(strconv.Itoa(r.DriverNumber)) {
				break
			}
		}
	case domain.KindLap:
		for _, r := range b.Laps {
			if !add(fmt.Sprintf("%d/%d", r.DriverNumber, r.LapNumber)) {
				break
			}
		}
	default:
		first, last, ok := timeRange(kind, b)
		if !ok {
			return ""
		}
		return first.Format(time.RFC3339Nano) + ".." + last.Format(time.RFC3339Nano)
	}
	if n := b.Count(kind); n > len(keys) {
		keys = append(keys, fmt.Sprintf("(+%d more)", n-len(keys)))
	}
	return strings.Join(keys, ",")
}

func timeRange(kind domain.Kind, b domain.Batch) (first, last time.Time, ok bool) {
	var ts []time.Time
	switch kind {
	case domain.KindPosition:
		for _, r := range b.Positions {
			ts = append(ts, r.Timestamp)
		}
	case domain.KindTelemetry:
		for _, r := range b.Telemetry {
			ts = append(ts, r.Timestamp)
		}
	case domain.KindRaceControl:
		for _, r := range b.RaceControl {
			ts = append(ts, r.Timestamp)
		}
	case domain.KindWeather:
		for _, r := range b.Weather {
			ts = append(ts, r.Timestamp)
		}
	}
	if len(ts) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last = ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return first, last, true
}
