// Package store persists parsed mmrepquota reports in SQLite so usage
// series survive beyond the snapshot files they came from.
//
// Usage Example:
//
//	st, err := store.Open("scalemeter.db")
//	if err != nil { ... }
//	defer st.Close()
//
//	snap, err := st.RecordReport(ctx, takenAt, "usage/2018-01-01/00/mmrepquota-j.txt", rep)
//	series, err := st.Series(ctx, store.SeriesQuery{
//		Group:    "projects",
//		GroupBy:  repquota.GroupByFileset,
//		Quantity: history.QuantityBlockUsage,
//	})
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"scalemeter/internal/history"
	"scalemeter/internal/repquota"
)

// Store wraps the SQLite database holding quota snapshots.
type Store struct {
	db   *sql.DB
	path string
}

// Snapshot identifies one recorded report.
type Snapshot struct {
	ID      string
	TakenAt time.Time
	Source  string
	Entries int
}

// SeriesQuery selects a usage series from the recorded snapshots.
type SeriesQuery struct {
	// Group is the fileset or filesystem name.
	Group string
	// GroupBy decides which name Group matches.
	GroupBy repquota.GroupKey
	// Quantity to aggregate. Defaults to block usage.
	Quantity history.Quantity
	// From/To bound the series; zero values mean unbounded.
	From, To time.Time
}

// Open opens (or creates) the store at path and initializes the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		taken_at INTEGER NOT NULL,
		source TEXT NOT NULL,
		entries INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_taken_source
		ON snapshots(taken_at, source);

	CREATE TABLE IF NOT EXISTS quota_entries (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		filesystem_name TEXT NOT NULL,
		quota_type TEXT NOT NULL,
		entry_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		fileset_name TEXT NOT NULL,
		block_usage INTEGER NOT NULL,
		block_quota INTEGER NOT NULL,
		block_limit INTEGER NOT NULL,
		block_in_doubt INTEGER NOT NULL,
		block_grace TEXT NOT NULL,
		files_usage INTEGER NOT NULL,
		files_quota INTEGER NOT NULL,
		files_limit INTEGER NOT NULL,
		files_in_doubt INTEGER NOT NULL,
		files_grace TEXT NOT NULL,
		remarks TEXT NOT NULL,
		quota TEXT NOT NULL,
		def_quota TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_snapshot ON quota_entries(snapshot_id);
	CREATE INDEX IF NOT EXISTS idx_entries_fileset ON quota_entries(fileset_name);
	CREATE INDEX IF NOT EXISTS idx_entries_filesystem ON quota_entries(filesystem_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RecordReport stores one parsed report as a snapshot, one row per quota
// entry, in a single transaction. Recording the same takenAt+source twice
// is an error, so a watch loop cannot double-ingest.
func (s *Store) RecordReport(ctx context.Context, takenAt time.Time, source string, rep *repquota.Report) (Snapshot, error) {
	snap := Snapshot{
		ID:      uuid.NewString(),
		TakenAt: takenAt.UTC().Truncate(time.Second),
		Source:  source,
		Entries: len(rep.Entries),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, source, entries) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.TakenAt.Unix(), snap.Source, snap.Entries,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Snapshot{}, fmt.Errorf("snapshot at %s from %q already recorded", snap.TakenAt, source)
		}
		return Snapshot{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO quota_entries (
		snapshot_id, filesystem_name, quota_type, entry_id, name, fileset_name,
		block_usage, block_quota, block_limit, block_in_doubt, block_grace,
		files_usage, files_quota, files_limit, files_in_doubt, files_grace,
		remarks, quota, def_quota
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range rep.Entries {
		if _, err := stmt.ExecContext(ctx,
			snap.ID, e.FilesystemName, e.QuotaType, e.ID, e.Name, e.FilesetName,
			e.BlockUsage, e.BlockQuota, e.BlockLimit, e.BlockInDoubt, e.BlockGrace,
			e.FilesUsage, e.FilesQuota, e.FilesLimit, e.FilesInDoubt, e.FilesGrace,
			e.Remarks, e.Quota, e.DefQuota,
		); err != nil {
			return Snapshot{}, fmt.Errorf("failed to insert entry %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to commit: %w", err)
	}
	return snap, nil
}

// quantityColumns maps Quantity values to their schema columns. Queries
// interpolate column names from this map only, never from user input.
var quantityColumns = map[history.Quantity]string{
	history.QuantityBlockUsage: "block_usage",
	history.QuantityBlockQuota: "block_quota",
	history.QuantityBlockLimit: "block_limit",
	history.QuantityFilesUsage: "files_usage",
	history.QuantityFilesQuota: "files_quota",
}

// Series aggregates the recorded snapshots into a time-ordered series for
// one group, summing the quantity over the group's entries per snapshot.
func (s *Store) Series(ctx context.Context, q SeriesQuery) (*history.Series, error) {
	if q.Quantity == "" {
		q.Quantity = history.QuantityBlockUsage
	}
	column, ok := quantityColumns[q.Quantity]
	if !ok {
		return nil, fmt.Errorf("unknown quantity %q", q.Quantity)
	}
	groupColumn := "fileset_name"
	if q.GroupBy == repquota.GroupByFilesystem {
		groupColumn = "filesystem_name"
	}

	query := fmt.Sprintf(`
		SELECT s.taken_at, SUM(e.%s)
		FROM quota_entries e JOIN snapshots s ON s.id = e.snapshot_id
		WHERE e.%s = ?`, column, groupColumn)
	args := []interface{}{q.Group}
	if !q.From.IsZero() {
		query += " AND s.taken_at >= ?"
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		query += " AND s.taken_at <= ?"
		args = append(args, q.To.Unix())
	}
	query += " GROUP BY s.taken_at ORDER BY s.taken_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	series := &history.Series{Name: q.Group}
	for rows.Next() {
		var unix int64
		var value float64
		if err := rows.Scan(&unix, &value); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		series.Points = append(series.Points, history.Point{
			At:    time.Unix(unix, 0).UTC(),
			Value: value,
		})
	}
	return series, rows.Err()
}

// Snapshots lists the recorded snapshots, newest first.
func (s *Store) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, taken_at, source, entries FROM snapshots ORDER BY taken_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var unix int64
		if err := rows.Scan(&snap.ID, &unix, &snap.Source, &snap.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.TakenAt = time.Unix(unix, 0).UTC()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Groups lists the distinct group names seen across all snapshots.
func (s *Store) Groups(ctx context.Context, key repquota.GroupKey) ([]string, error) {
	column := "fileset_name"
	if key == repquota.GroupByFilesystem {
		column = "filesystem_name"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM quota_entries WHERE %s != '' ORDER BY %s`,
		column, column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, name)
	}
	return groups, rows.Err()
}
