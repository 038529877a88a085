package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, caller, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration) {
	f(ctx, operation, caller, outcome, dur)
}

type queryKey struct{}

// queryStart is what TraceQueryStart hands to TraceQueryEnd.
type queryStart struct {
	sql    string
	nargs  int
	start  time.Time
	caller string
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) with a structured log
// line and an observer callback per query.
type queryTracer struct {
	inner    pgx.QueryTracer
	logger   log.Logger
	observer QueryObserver
	slow     time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, logger log.Logger, observer QueryObserver, slow time.Duration) *queryTracer {
	if logger == nil {
		logger = log.Nop()
	}
	return &queryTracer{inner: inner, logger: logger, observer: observer, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{
		sql:    data.SQL,
		nargs:  len(data.Args),
		start:  time.Now(),
		caller: queryCaller(),
	}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() && qs.caller != "" {
		span.SetAttributes(attribute.String("db.caller", qs.caller))
	}

	return context.WithValue(ctx, queryKey{}, qs)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// inner first so its span is finished with the right end time
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(queryKey{}).(*queryStart)
	if qs == nil {
		return
	}
	dur := time.Since(qs.start)
	op := operationName(data.CommandTag.String(), qs.sql)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if t.observer != nil {
		caller := qs.caller
		if caller == "" {
			caller = "unknown"
		}
		t.observer.ObserveQuery(ctx, op, caller, outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := []any{
		"db.statement", compactSQL(qs.sql),
		"db.args", qs.nargs,
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if data.Err == nil {
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
		t.logger.Info(ctx, "db query", fields...)
		return
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	t.logger.Error(ctx, data.Err, "db query failed", fields...)
}

// operationName prefers the command tag (INSERT, DELETE, ...) and falls back
// to the first SQL keyword.
func operationName(tag, sql string) string {
	for _, s := range []string{tag, sql} {
		if f := strings.Fields(s); len(f) > 0 {
			return strings.ToUpper(f[0])
		}
	}
	return "UNKNOWN"
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// queryCaller walks the stack to the first frame outside pgx, otelpgx, the
// runtime and this package.
func queryCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" &&
			!strings.HasPrefix(fn, "runtime.") &&
			!strings.Contains(fn, "github.com/jackc/pgx/v5") &&
			!strings.Contains(fn, "github.com/exaring/otelpgx") &&
			!strings.Contains(fn, "github.com/linnemanlabs/sentra/internal/postgres.") {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
