package warehouse

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/stats"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const copyTimeout = 60 * time.Second

// Postgres is a warehouse backed by a pgx connection pool.
type Postgres struct {
	pool        *pgxpool.Pool
	eventsTable string
	issuesTable string
}

// NewPostgres connects to the warehouse database and ensures the tables exist.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres warehouse requires WAREHOUSE_DSN")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("warehouse: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("warehouse: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("warehouse: ping: %w", err)
	}

	p := &Postgres{
		pool:        pool,
		eventsTable: cmp.Or(cfg.EventsTable, "jira_events"),
		issuesTable: cmp.Or(cfg.IssuesTable, "jira_issues"),
	}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the event and issue tables if they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	events := pgx.Identifier{p.eventsTable}.Sanitize()
	issues := pgx.Identifier{p.issuesTable}.Sanitize()
	index := pgx.Identifier{p.eventsTable + "_issue_ts_idx"}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			issue_id    TEXT NOT NULL,
			issue_type  TEXT NOT NULL,
			state_id    INTEGER NOT NULL,
			state_name  TEXT NOT NULL,
			event_id    INTEGER NOT NULL,
			event_name  TEXT NOT NULL,
			"timestamp" TIMESTAMP NOT NULL,
			project     TEXT NOT NULL
		)`, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (issue_id, "timestamp")`, index, events),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			issue_id TEXT NOT NULL,
			estimate DOUBLE PRECISION
		)`, issues),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("warehouse: migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf(`SELECT count(*) FROM %s`, pgx.Identifier{table}.Sanitize())
	if err := p.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("warehouse: count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) LatestTimestamps(ctx context.Context, issueIDs []string) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(issueIDs))
	if len(issueIDs) == 0 {
		return latest, nil
	}

	q := fmt.Sprintf(`SELECT issue_id, max("timestamp") FROM %s WHERE issue_id = ANY($1) GROUP BY issue_id`,
		pgx.Identifier{p.eventsTable}.Sanitize())
	rows, err := p.pool.Query(ctx, q, issueIDs)
	if err != nil {
		return nil, fmt.Errorf("warehouse: latest timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("warehouse: scan latest timestamp: %w", err)
		}
		// TIMESTAMP columns hold UTC wall time.
		latest[id] = time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)
	}
	return latest, rows.Err()
}

// InsertRows copies rows into table inside one transaction so the call is all-or-nothing.
func (p *Postgres) InsertRows(ctx context.Context, table string, rows []Row) ([]RowError, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if rowErrs := validateRows(rows); len(rowErrs) > 0 {
		return rowErrs, nil
	}

	columns := rows[0].Columns()
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("warehouse: begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	copyCtx, copyCancel := context.WithTimeout(ctx, copyTimeout)
	_, err = tx.CopyFrom(copyCtx, pgx.Identifier{table}, columns, pgx.CopyFromRows(values))
	copyCancel()
	if err != nil {
		if rowErr, ok := rowErrorFrom(err); ok {
			return []RowError{rowErr}, nil
		}
		return nil, fmt.Errorf("warehouse: copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("warehouse: commit insert: %w", err)
	}
	return nil, nil
}

var copyLinePattern = regexp.MustCompile(`line (\d+)`)

// rowErrorFrom turns a data or constraint violation raised during COPY into a row-level error.
func rowErrorFrom(err error) (RowError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return RowError{}, false
	}
	// Class 22 is data exception, class 23 is integrity constraint violation.
	if !strings.HasPrefix(pgErr.Code, "22") && !strings.HasPrefix(pgErr.Code, "23") {
		return RowError{}, false
	}

	index := 0
	if m := copyLinePattern.FindStringSubmatch(pgErr.Where); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil && line > 0 {
			index = line - 1
		}
	}
	return RowError{Index: index, Message: pgErr.Message}, true
}

func (p *Postgres) CountEvents(ctx context.Context, issueIDs []string) (int64, error) {
	if len(issueIDs) == 0 {
		return 0, nil
	}
	var n int64
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE issue_id = ANY($1)`, pgx.Identifier{p.eventsTable}.Sanitize())
	if err := p.pool.QueryRow(ctx, q, issueIDs).Scan(&n); err != nil {
		return 0, fmt.Errorf("warehouse: count events: %w", err)
	}
	return n, nil
}

func (p *Postgres) DeleteEvents(ctx context.Context, issueIDs []string) (int64, error) {
	if len(issueIDs) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE issue_id = ANY($1)`, pgx.Identifier{p.eventsTable}.Sanitize())
	tag, err := p.pool.Exec(ctx, q, issueIDs)
	if err != nil {
		return 0, fmt.Errorf("warehouse: delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Throughput aggregates completions in SQL: the local date of each item's latest ARRIVAL into the
// terminal status, counted per date.
func (p *Postgres) Throughput(ctx context.Context, q ThroughputQuery) (map[stats.Date]int, error) {
	tz := "UTC"
	if q.Location != nil && q.Location.String() != "Local" {
		tz = q.Location.String()
	}
	types := make([]string, 0, len(q.IssueTypes))
	for _, t := range q.IssueTypes {
		types = append(types, strings.ToLower(t))
	}

	query := fmt.Sprintf(`
		SELECT done_on, count(*)
		FROM (
			SELECT issue_id, ((max("timestamp") AT TIME ZONE 'UTC') AT TIME ZONE $3)::date AS done_on
			FROM %s
			WHERE project = $1 AND event_id = $4 AND state_name = $2
				AND (cardinality($5::text[]) = 0 OR lower(issue_type) = ANY($5::text[]))
			GROUP BY issue_id
		) AS completions
		GROUP BY done_on
		ORDER BY done_on`, pgx.Identifier{p.eventsTable}.Sanitize())

	rows, err := p.pool.Query(ctx, query, q.Project, q.TerminalStatus, tz, int(eventlog.KindArrival), types)
	if err != nil {
		return nil, fmt.Errorf("warehouse: throughput: %w", err)
	}
	defer rows.Close()

	counts := make(map[stats.Date]int)
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("warehouse: scan throughput: %w", err)
		}
		d := stats.DateOf(day)
		if q.Sample != nil && !q.Sample.Contains(d) {
			continue
		}
		counts[d] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debug().Str("project", q.Project).Int("days", len(counts)).Msg("Throughput loaded from warehouse")
	return counts, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
