package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// FileName is the telemetry database inside the data directory.
const FileName = "telemetry.db"

// MaxMissedQueries bounds the stored zero-result queries of each tenant.
const MaxMissedQueries = 100

const schema = `
CREATE TABLE IF NOT EXISTS tool_searches (
	tenant       TEXT    NOT NULL,
	day          TEXT    NOT NULL,
	tool         TEXT    NOT NULL,
	engine       TEXT    NOT NULL,
	bucket       TEXT    NOT NULL,
	queries      INTEGER NOT NULL DEFAULT 0,
	zero_results INTEGER NOT NULL DEFAULT 0,
	results      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant, day, tool, bucket)
);

CREATE TABLE IF NOT EXISTS search_terms (
	tenant    TEXT    NOT NULL,
	term      TEXT    NOT NULL,
	hits      INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT    NOT NULL,
	PRIMARY KEY (tenant, term)
);

CREATE TABLE IF NOT EXISTS missed_queries (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant TEXT NOT NULL,
	tool   TEXT NOT NULL,
	query  TEXT NOT NULL,
	at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missed_queries_tenant ON missed_queries(tenant, id);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps telemetry in its own SQLite file, one set of rows per
// tenant.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the telemetry database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append adds the batch in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin telemetry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range b.Rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tool_searches (tenant, day, tool, engine, bucket, queries, zero_results, results)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant, day, tool, bucket) DO UPDATE SET
				engine = excluded.engine,
				queries = queries + excluded.queries,
				zero_results = zero_results + excluded.zero_results,
				results = results + excluded.results
		`, b.Tenant, b.Day, r.Tool, string(r.Engine), string(r.Bucket), r.Queries, r.ZeroResults, r.Results)
		if err != nil {
			return fmt.Errorf("append searches of %s: %w", r.Tool, err)
		}
	}

	for term, hits := range b.Terms {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_terms (tenant, term, hits, last_seen) VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant, term) DO UPDATE SET
				hits = hits + excluded.hits,
				last_seen = excluded.last_seen
		`, b.Tenant, term, hits, b.Day)
		if err != nil {
			return fmt.Errorf("append term %q: %w", term, err)
		}
	}

	if len(b.Missed) > 0 {
		for _, q := range b.Missed {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO missed_queries (tenant, tool, query, at) VALUES (?, ?, ?, ?)`,
				b.Tenant, q.Tool, q.Query, q.At.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("append missed query: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM missed_queries WHERE tenant = ? AND id NOT IN (
				SELECT id FROM missed_queries WHERE tenant = ? ORDER BY id DESC LIMIT ?
			)
		`, b.Tenant, b.Tenant, MaxMissedQueries)
		if err != nil {
			return fmt.Errorf("trim missed queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry: %w", err)
	}
	return nil
}

// Totals sums the stored searches of tenant from day since on. Missed
// queries come newest first.
func (s *SQLiteStore) Totals(ctx context.Context, tenant, since string, limit int) (*Totals, error) {
	out := &Totals{Since: since, Tools: make(map[string]*ToolCounts)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tool, engine, bucket, SUM(queries), SUM(zero_results), SUM(results)
		FROM tool_searches WHERE tenant = ? AND day >= ?
		GROUP BY tool, engine, bucket
	`, tenant, since)
	if err != nil {
		return nil, fmt.Errorf("query tool searches: %w", err)
	}
	for rows.Next() {
		var r SearchRow
		var engine, bucket string
		if err := rows.Scan(&r.Tool, &engine, &bucket, &r.Queries, &r.ZeroResults, &r.Results); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan tool searches: %w", err)
		}
		r.Engine, r.Bucket = Engine(engine), LatencyBucket(bucket)
		tc, ok := out.Tools[r.Tool]
		if !ok {
			tc = &ToolCounts{Engine: r.Engine}
			out.Tools[r.Tool] = tc
		}
		tc.add(r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT term, hits FROM search_terms
		WHERE tenant = ? AND last_seen >= ?
		ORDER BY hits DESC, term ASC LIMIT ?
	`, tenant, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query search terms: %w", err)
	}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan search terms: %w", err)
		}
		out.TopTerms = append(out.TopTerms, tc)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT tool, query, at FROM missed_queries
		WHERE tenant = ? ORDER BY id DESC LIMIT ?
	`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("query missed queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var q MissedQuery
		var at string
		if err := rows.Scan(&q.Tool, &q.Query, &at); err != nil {
			return nil, fmt.Errorf("scan missed queries: %w", err)
		}
		q.At, _ = time.Parse(time.RFC3339Nano, at)
		out.MissedQueries = append(out.MissedQueries, q)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
