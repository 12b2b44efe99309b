// Package storage persists solution-level bookkeeping in SQLite: which
// cache file belongs to which project, when it was last written, and the
// outcome of parse fan-outs. The symbol index itself lives in the binary
// content cache, not here.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// CacheManifest records one project's cache file state.
type CacheManifest struct {
	ProjectID         string    `json:"project_id"`
	ProjectPath       string    `json:"project_path"`
	CacheFile         string    `json:"cache_file"`
	SavedAt           time.Time `json:"saved_at"`
	FileCount         int       `json:"file_count"`
	SerializableCount int       `json:"serializable_count"`
}

// ParseRecord records the outcome of one parse fan-out.
type ParseRecord struct {
	ID           int64     `json:"id"`
	ProjectID    string    `json:"project_id"`
	FinishedAt   time.Time `json:"finished_at"`
	FromCache    int       `json:"from_cache"`
	Parsed       int       `json:"parsed"`
	Serializable int       `json:"serializable"`
}

// ManifestStore is the SQLite-backed manifest and statistics store.
type ManifestStore struct {
	db *sql.DB
}

// NewManifestStore opens (creating if necessary) the store at dbPath.
func NewManifestStore(dbPath string) (*ManifestStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &ManifestStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *ManifestStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cache_manifests (
			project_id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			cache_file TEXT NOT NULL,
			saved_at DATETIME NOT NULL,
			file_count INTEGER NOT NULL,
			serializable_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parse_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			finished_at DATETIME NOT NULL,
			from_cache INTEGER NOT NULL,
			parsed INTEGER NOT NULL,
			serializable INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_parse_records_project ON parse_records(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parse_records_finished ON parse_records(finished_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// RecordSave upserts the manifest row for a project after a cache write.
func (s *ManifestStore) RecordSave(ctx context.Context, m CacheManifest) error {
	query := `INSERT OR REPLACE INTO cache_manifests
		(project_id, project_path, cache_file, saved_at, file_count, serializable_count)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		m.ProjectID, m.ProjectPath, m.CacheFile, m.SavedAt, m.FileCount, m.SerializableCount)
	if err != nil {
		return fmt.Errorf("record cache save: %w", err)
	}
	return nil
}

// GetManifest returns the manifest for a project, or nil when none exists.
func (s *ManifestStore) GetManifest(ctx context.Context, projectID string) (*CacheManifest, error) {
	query := `SELECT project_id, project_path, cache_file, saved_at, file_count, serializable_count
		FROM cache_manifests WHERE project_id = ?`
	var m CacheManifest
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&m.ProjectID, &m.ProjectPath, &m.CacheFile, &m.SavedAt, &m.FileCount, &m.SerializableCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache manifest: %w", err)
	}
	return &m, nil
}

// DeleteManifest removes a project's manifest row, typically when the
// project leaves the solution.
func (s *ManifestStore) DeleteManifest(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_manifests WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete cache manifest: %w", err)
	}
	return nil
}

// RecordParse appends one parse fan-out outcome.
func (s *ManifestStore) RecordParse(ctx context.Context, r ParseRecord) error {
	query := `INSERT INTO parse_records (project_id, finished_at, from_cache, parsed, serializable)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ProjectID, r.FinishedAt, r.FromCache, r.Parsed, r.Serializable)
	if err != nil {
		return fmt.Errorf("record parse outcome: %w", err)
	}
	return nil
}

// RecentParses returns the most recent parse records for a project, newest
// first.
func (s *ManifestStore) RecentParses(ctx context.Context, projectID string, limit int) ([]ParseRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, project_id, finished_at, from_cache, parsed, serializable
		FROM parse_records WHERE project_id = ? ORDER BY finished_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query parse records: %w", err)
	}
	defer rows.Close()

	var records []ParseRecord
	for rows.Next() {
		var r ParseRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FinishedAt, &r.FromCache, &r.Parsed, &r.Serializable); err != nil {
			log.Warn().Err(err).Msg("Failed to scan parse record row")
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupParseRecords deletes records older than the retention window.
func (s *ManifestStore) CleanupParseRecords(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM parse_records WHERE finished_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup parse records: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Debug().Int64("rows_deleted", n).Msg("Cleaned up old parse records")
	}
	return nil
}

// Close closes the underlying database.
func (s *ManifestStore) Close() error {
	return s.db.Close()
}
