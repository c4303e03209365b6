package database

import (
	"context"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5"
)

// QueryObserver records query latency and failures. *metrics.Metrics implements it.
type QueryObserver interface {
	RecordDBQuery(operation, table string, duration time.Duration, err error)
}

// statementLabels derives the operation and table labels of a SQL or CQL statement
func statementLabels(stmt string) (operation, table string) {
	fields := strings.Fields(strings.ToLower(stmt))
	if len(fields) == 0 {
		return "unknown", "unknown"
	}
	operation = fields[0]

	var marker string
	switch operation {
	case "insert":
		marker = "into"
	case "select", "delete":
		marker = "from"
	case "update":
		if len(fields) > 1 {
			return operation, strings.Trim(fields[1], `"`)
		}
		return operation, "unknown"
	default:
		return operation, "-"
	}

	// subqueries are skipped by tracking parenthesis depth
	depth := 0
	for i := 1; i < len(fields)-1; i++ {
		if depth == 0 && fields[i] == marker {
			return operation, strings.Trim(fields[i+1], `"(),`)
		}
		depth += strings.Count(fields[i], "(") - strings.Count(fields[i], ")")
	}
	return operation, "unknown"
}

type queryStartKey struct{}

type queryStart struct {
	at   time.Time
	stmt string
}

// pgxTracer implements pgx.QueryTracer
type pgxTracer struct {
	observer QueryObserver
}

func (t pgxTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), stmt: data.SQL})
}

func (t pgxTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	op, table := statementLabels(start.stmt)
	t.observer.RecordDBQuery(op, table, time.Since(start.at), data.Err)
}

// cqlObserver implements gocql.QueryObserver
type cqlObserver struct {
	observer QueryObserver
}

func (o cqlObserver) ObserveQuery(_ context.Context, q gocql.ObservedQuery) {
	op, table := statementLabels(q.Statement)
	o.observer.RecordDBQuery("cql_"+op, table, q.End.Sub(q.Start), q.Err)
}
