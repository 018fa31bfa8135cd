package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file inside the cache directory
const FileName = "vrt.db"

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; tasks record calls concurrently
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the database tables if they don't exist
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_cache (
		key TEXT PRIMARY KEY,
		result_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS llm_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_created_at ON analysis_cache(created_at);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_created_at ON llm_calls(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// LoadAnalyses returns cached analyses created after since
func (db *DB) LoadAnalyses(since time.Time) ([]AnalysisRecord, error) {
	rows, err := db.conn.Query(
		`SELECT key, result_json, created_at FROM analysis_cache WHERE created_at > ?`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load analyses: %w", err)
	}
	defer rows.Close()

	var records []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		if err := rows.Scan(&r.Key, &r.ResultJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveAnalysis inserts or replaces a cached analysis
func (db *DB) SaveAnalysis(record AnalysisRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO analysis_cache (key, result_json, created_at) VALUES (?, ?, ?)`,
		record.Key, record.ResultJSON, record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// PruneAnalyses deletes cached analyses created before cutoff
func (db *DB) PruneAnalyses(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM analysis_cache WHERE created_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune analyses: %w", err)
	}
	return res.RowsAffected()
}

// RecordLLMCall appends a call to the ledger
func (db *DB) RecordLLMCall(call LLMCall) (int64, error) {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	result, err := db.conn.Exec(`
		INSERT INTO llm_calls (
			operation, provider, model, prompt_tokens, completion_tokens, cost, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.Operation,
		call.Provider,
		call.Model,
		call.PromptTokens,
		call.CompletionTokens,
		call.Cost,
		call.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record LLM call: %w", err)
	}
	return result.LastInsertId()
}

// UsageTotals sums the ledger per provider and model since the given time
func (db *DB) UsageTotals(since time.Time) ([]UsageTotal, error) {
	rows, err := db.conn.Query(`
		SELECT provider, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(cost)
		FROM llm_calls
		WHERE created_at >= ?
		GROUP BY provider, model
		ORDER BY SUM(cost) DESC, provider, model`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var totals []UsageTotal
	for rows.Next() {
		var u UsageTotal
		if err := rows.Scan(&u.Provider, &u.Model, &u.Calls, &u.PromptTokens, &u.CompletionTokens, &u.Cost); err != nil {
			return nil, err
		}
		totals = append(totals, u)
	}
	return totals, rows.Err()
}
