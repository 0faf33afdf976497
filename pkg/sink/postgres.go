package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

// postgresBatchRows keeps one INSERT below the 65535 bind-parameter limit.
const postgresBatchRows = 1000

const resultColumns = "run_id, step, group_name, variable, term, statistic, p_value, estimate, ci_lower, ci_upper, df, n"

// PostgresSink appends result rows to a PostgreSQL (or TimescaleDB) table.
type PostgresSink struct {
	db        *sql.DB
	tableName string
	logger    *zap.Logger
}

// OpenPostgres opens a lib/pq connection pool and checks it is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresSink creates a sink writing to table. The table name is used
// verbatim in SQL and must be validated by the caller.
func NewPostgresSink(db *sql.DB, table string, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{db: db, tableName: table, logger: logger}
}

func (p *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the results table if it does not exist.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + p.tableName + ` (
	run_id     UUID NOT NULL,
	step       TEXT NOT NULL,
	group_name TEXT NOT NULL,
	variable   TEXT NOT NULL,
	term       TEXT NOT NULL,
	statistic  DOUBLE PRECISION,
	p_value    DOUBLE PRECISION,
	estimate   DOUBLE PRECISION,
	ci_lower   DOUBLE PRECISION,
	ci_upper   DOUBLE PRECISION,
	df         DOUBLE PRECISION,
	n          INTEGER NOT NULL,
	PRIMARY KEY (run_id, step, group_name, variable, term)
)`
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", p.tableName, err)
	}
	return nil
}

// WriteResults inserts rows in batches; rows already present are skipped.
func (p *PostgresSink) WriteResults(ctx context.Context, rows []evaluation.ResultRow) error {
	for start := 0; start < len(rows); start += postgresBatchRows {
		end := min(start+postgresBatchRows, len(rows))
		if err := p.writeBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		p.logger.Info("Results written to postgres", zap.String("table", p.tableName), zap.Int("rows", len(rows)))
	}
	return nil
}

func (p *PostgresSink) writeBatch(ctx context.Context, rows []evaluation.ResultRow) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (" + resultColumns + ") VALUES ")

	const width = 12
	args := make([]any, 0, len(rows)*width)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := 1; j <= width; j++ {
			if j > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j)
		}
		b.WriteString(")")

		args = append(args,
			r.RunID,
			r.Step,
			r.Group,
			r.Variable,
			r.Term,
			nullable(r.Statistic),
			nullable(r.PValue),
			nullable(r.Estimate),
			nullable(r.CILower),
			nullable(r.CIUpper),
			nullable(r.DF),
			r.N,
		)
	}

	b.WriteString(" ON CONFLICT (run_id, step, group_name, variable, term) DO NOTHING")

	if _, err := p.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", p.tableName, err)
	}
	return nil
}

var _ ResultSink = (*PostgresSink)(nil)
