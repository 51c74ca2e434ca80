// Package ledger persists the append-only cost ledger in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Ledger records and aggregates cost entries.
type Ledger interface {
	// Record appends a cost entry.
	Record(ctx context.Context, entry models.CostEntry) error
	// EntriesSince returns entries for a caller since a given time,
	// newest first.
	EntriesSince(ctx context.Context, callerID string, since time.Time) ([]models.CostEntry, error)
	// SpendSince returns total successful spend for a caller since a
	// given time.
	SpendSince(ctx context.Context, callerID string, since time.Time) (float64, error)
	// Totals aggregates entries for a caller since a given time. An
	// empty caller id aggregates across all callers.
	Totals(ctx context.Context, callerID string, since time.Time) (models.LedgerTotals, error)
	// TypeTotals returns per-operation-type spend, costliest first.
	TypeTotals(ctx context.Context, callerID string, since time.Time) ([]models.TypeTotalRow, error)
	// ModelBreakdown returns per-tier usage for a caller.
	ModelBreakdown(ctx context.Context, callerID string, since time.Time) ([]models.ModelUsageRow, error)
	// HourHistogram buckets spend into 24 hours of day.
	HourHistogram(ctx context.Context, callerID string, since time.Time) ([24]float64, error)
	// CallerTotals aggregates spend and savings per caller.
	CallerTotals(ctx context.Context, since time.Time) ([]models.CallerTotalRow, error)
	// Close releases resources.
	Close() error
}

// SQLiteLedger implements Ledger with a SQLite database.
type SQLiteLedger struct {
	db *sql.DB

	// maxPerCaller bounds retained rows per caller; older rows are
	// pruned on insert.
	maxPerCaller int
}

const createTable = `
CREATE TABLE IF NOT EXISTS cost_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caller_id TEXT NOT NULL,
	op_type TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	optimized_model TEXT NOT NULL DEFAULT '',
	potential_savings REAL NOT NULL DEFAULT 0,
	quality_score REAL NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	batch_id TEXT NOT NULL DEFAULT '',
	template_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_caller_time ON cost_entries(caller_id, created_at);
`

// New creates a SQLiteLedger and runs auto-migration. maxPerCaller <= 0
// disables pruning.
func New(dbPath string, maxPerCaller int) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &SQLiteLedger{db: db, maxPerCaller: maxPerCaller}, nil
}

// Record appends a cost entry, pruning the caller's oldest rows past the
// retention bound.
func (l *SQLiteLedger) Record(ctx context.Context, e models.CostEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_entries
		 (caller_id, op_type, model, input_tokens, output_tokens, cost,
		  optimized_model, potential_savings, quality_score, response_time_ms,
		  cache_hit, success, batch_id, template_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CallerID, string(e.OpType), e.Model, e.InputTokens, e.OutputTokens, e.Cost,
		e.OptimizedModel, e.PotentialSavings, e.QualityScore, e.ResponseTimeMs,
		boolInt(e.CacheHit), boolInt(e.Success), e.BatchID, e.TemplateID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record cost entry: %w", err)
	}

	if l.maxPerCaller > 0 {
		_, err = l.db.ExecContext(ctx,
			`DELETE FROM cost_entries WHERE caller_id = ? AND id NOT IN (
			   SELECT id FROM cost_entries WHERE caller_id = ?
			   ORDER BY id DESC LIMIT ?)`,
			e.CallerID, e.CallerID, l.maxPerCaller,
		)
		if err != nil {
			return fmt.Errorf("prune ledger: %w", err)
		}
	}
	return nil
}

// EntriesSince returns entries for a caller since a given time, newest first.
func (l *SQLiteLedger) EntriesSince(ctx context.Context, callerID string, since time.Time) ([]models.CostEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, caller_id, op_type, model, input_tokens, output_tokens, cost,
		        optimized_model, potential_savings, quality_score, response_time_ms,
		        cache_hit, success, batch_id, template_id, created_at
		 FROM cost_entries WHERE caller_id = ? AND created_at >= ?
		 ORDER BY created_at DESC, id DESC`,
		callerID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CostEntry
	for rows.Next() {
		var e models.CostEntry
		var opType string
		var cacheHit, success int
		if err := rows.Scan(&e.ID, &e.CallerID, &opType, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.Cost,
			&e.OptimizedModel, &e.PotentialSavings, &e.QualityScore, &e.ResponseTimeMs,
			&cacheHit, &success, &e.BatchID, &e.TemplateID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.OpType = models.OperationType(opType)
		e.CacheHit = cacheHit != 0
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SpendSince returns total successful spend for a caller since a given time.
func (l *SQLiteLedger) SpendSince(ctx context.Context, callerID string, since time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM cost_entries
		 WHERE caller_id = ? AND created_at >= ? AND success = 1`,
		callerID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("spend since: %w", err)
	}
	return total, nil
}

// Totals aggregates entries since a given time. An empty caller id
// aggregates across all callers.
func (l *SQLiteLedger) Totals(ctx context.Context, callerID string, since time.Time) (models.LedgerTotals, error) {
	query := `SELECT COUNT(*),
	                 COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
	                 COALESCE(SUM(cost), 0),
	                 COALESCE(SUM(potential_savings), 0),
	                 COALESCE(SUM(cache_hit), 0),
	                 COALESCE(SUM(CASE WHEN template_id != '' THEN 1 ELSE 0 END), 0),
	                 COALESCE(SUM(CASE WHEN batch_id != '' THEN 1 ELSE 0 END), 0)
	          FROM cost_entries WHERE created_at >= ?`
	args := []any{since}
	if callerID != "" {
		query += ` AND caller_id = ?`
		args = append(args, callerID)
	}

	var t models.LedgerTotals
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&t.Operations, &t.Failures, &t.Cost, &t.Savings, &t.CacheHits, &t.Templated, &t.Batched)
	if err != nil {
		return models.LedgerTotals{}, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

// TypeTotals returns per-operation-type spend, costliest first, with each
// type's share of total cost.
func (l *SQLiteLedger) TypeTotals(ctx context.Context, callerID string, since time.Time) ([]models.TypeTotalRow, error) {
	query := `SELECT op_type, COUNT(*), COALESCE(SUM(cost), 0)
	          FROM cost_entries WHERE created_at >= ?`
	args := []any{since}
	if callerID != "" {
		query += ` AND caller_id = ?`
		args = append(args, callerID)
	}
	query += ` GROUP BY op_type ORDER BY SUM(cost) DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("type totals: %w", err)
	}
	defer rows.Close()

	var out []models.TypeTotalRow
	var total float64
	for rows.Next() {
		var r models.TypeTotalRow
		var opType string
		if err := rows.Scan(&opType, &r.Operations, &r.Cost); err != nil {
			return nil, fmt.Errorf("scan type total: %w", err)
		}
		r.OpType = models.OperationType(opType)
		total += r.Cost
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total > 0 {
		for i := range out {
			out[i].Share = out[i].Cost / total
		}
	}
	return out, nil
}

// ModelBreakdown returns per-tier usage for a caller, costliest first.
func (l *SQLiteLedger) ModelBreakdown(ctx context.Context, callerID string, since time.Time) ([]models.ModelUsageRow, error) {
	query := `SELECT model, COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(potential_savings), 0)
	          FROM cost_entries WHERE created_at >= ? AND model != ''`
	args := []any{since}
	if callerID != "" {
		query += ` AND caller_id = ?`
		args = append(args, callerID)
	}
	query += ` GROUP BY model ORDER BY SUM(cost) DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("model breakdown: %w", err)
	}
	defer rows.Close()

	var out []models.ModelUsageRow
	for rows.Next() {
		var r models.ModelUsageRow
		if err := rows.Scan(&r.Model, &r.Operations, &r.Cost, &r.Savings); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		if r.Operations > 0 {
			r.AvgCost = r.Cost / float64(r.Operations)
		}
		r.Efficiency = 1
		if r.Cost > 0 {
			r.Efficiency = 1 - r.Savings/r.Cost
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HourHistogram buckets spend by hour of day (UTC).
func (l *SQLiteLedger) HourHistogram(ctx context.Context, callerID string, since time.Time) ([24]float64, error) {
	var hist [24]float64
	query := `SELECT CAST(strftime('%H', created_at) AS INTEGER), COALESCE(SUM(cost), 0)
	          FROM cost_entries WHERE created_at >= ?`
	args := []any{since}
	if callerID != "" {
		query += ` AND caller_id = ?`
		args = append(args, callerID)
	}
	query += ` GROUP BY 1`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return hist, fmt.Errorf("hour histogram: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hour int
		var cost float64
		if err := rows.Scan(&hour, &cost); err != nil {
			return hist, fmt.Errorf("scan histogram row: %w", err)
		}
		if hour >= 0 && hour < 24 {
			hist[hour] = cost
		}
	}
	return hist, rows.Err()
}

// CallerTotals aggregates spend and savings per caller, costliest first.
func (l *SQLiteLedger) CallerTotals(ctx context.Context, since time.Time) ([]models.CallerTotalRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT caller_id, COUNT(*), COALESCE(SUM(cost), 0),
		        COALESCE(SUM(potential_savings), 0), COALESCE(SUM(cache_hit), 0)
		 FROM cost_entries WHERE created_at >= ?
		 GROUP BY caller_id ORDER BY SUM(cost) DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("caller totals: %w", err)
	}
	defer rows.Close()

	var out []models.CallerTotalRow
	for rows.Next() {
		var r models.CallerTotalRow
		if err := rows.Scan(&r.CallerID, &r.Operations, &r.Cost, &r.Savings, &r.CacheHits); err != nil {
			return nil, fmt.Errorf("scan caller row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
