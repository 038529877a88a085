// Package pgstore persists the known-source set and the event log in
// PostgreSQL. A Store satisfies both knownsource.Store and eventlog.Log.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/knownsource"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentra/internal/pgstore")

//go:embed schema.sql
var schema string

// Store is backed by a pgx pool owned by the caller.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Load implements knownsource.Store.
func (s *Store) Load(ctx context.Context) (knownsource.Set, error) {
	ctx, span := startSpan(ctx, "pgstore.Load", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT ip FROM known_sources`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query known sources: %w", err))
	}
	ips, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan known sources: %w", err))
	}
	span.SetAttributes(attribute.Int("sentra.known_sources", len(ips)))
	return knownsource.NewSet(ips...), nil
}

// Add implements knownsource.Store. The insert never removes rows, so
// concurrent writers cannot undo each other; an existing row keeps its
// trusted_at.
func (s *Store) Add(ctx context.Context, ip string) (knownsource.Set, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Add", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO known_sources (ip, trusted_at) VALUES ($1, $2)
		 ON CONFLICT (ip) DO NOTHING`,
		ip, s.now().UTC(),
	)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("insert known source: %w", err))
	}
	added := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("sentra.added", added))

	set, err := s.Load(ctx)
	if err != nil {
		return nil, false, fail(span, err)
	}
	return set, added, nil
}

// Append implements eventlog.Log.
func (s *Store) Append(ctx context.Context, message string) (eventlog.Entry, error) {
	ctx, span := startSpan(ctx, "pgstore.Append", "INSERT")
	defer span.End()

	e := eventlog.NewEntry(s.now(), message)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, created_at, message) VALUES ($1, $2, $3)`,
		e.ID, e.Time, e.Message,
	); err != nil {
		return eventlog.Entry{}, fail(span, fmt.Errorf("insert event: %w", err))
	}
	return e, nil
}

// Entries implements eventlog.Log. Entries are returned oldest first; ties
// on created_at fall back to the ULID, which sorts by creation time.
func (s *Store) Entries(ctx context.Context) ([]eventlog.Entry, error) {
	ctx, span := startSpan(ctx, "pgstore.Entries", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, created_at, message FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventlog.Entry, error) {
		var e eventlog.Entry
		err := row.Scan(&e.ID, &e.Time, &e.Message)
		e.Time = e.Time.Local()
		return e, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan events: %w", err))
	}
	return entries, nil
}
