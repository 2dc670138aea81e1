package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// ManifestFileName is created in the project's .nexus directory.
const ManifestFileName = "manifest.db"

// FileRecord is what was last indexed for one file.
type FileRecord struct {
	Project     string
	Path        string
	ContentHash string
	ChunkCount  int
	IndexedAt   time.Time
}

// Manifest tracks indexed files so unchanged files are skipped and stale
// points can be deleted.
type Manifest struct {
	db *sql.DB
}

// OpenManifest opens or creates the manifest at path. ":memory:" gives a
// private in-memory manifest.
func OpenManifest(path string) (*Manifest, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, manifestError("create manifest directory", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, manifestError("open manifest", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, manifestError("set pragma", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS files (
		project      TEXT NOT NULL,
		path         TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_count  INTEGER NOT NULL,
		indexed_at   TEXT NOT NULL,
		PRIMARY KEY (project, path)
	);
	CREATE TABLE IF NOT EXISTS targets (
		project     TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, manifestError("create manifest schema", err)
	}

	return &Manifest{db: db}, nil
}

func manifestError(op string, err error) error {
	return nxerrors.New(nxerrors.ErrCodeManifest, "failed to "+op, err)
}

// Get returns the record for path, or nil when the file was never indexed.
func (m *Manifest) Get(ctx context.Context, project, path string) (*FileRecord, error) {
	var (
		rec       FileRecord
		indexedAt string
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT project, path, content_hash, chunk_count, indexed_at
		FROM files WHERE project = ? AND path = ?
	`, project, path).Scan(&rec.Project, &rec.Path, &rec.ContentHash, &rec.ChunkCount, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, manifestError("read manifest", err)
	}
	rec.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	return &rec, nil
}

// Put inserts or replaces a record.
func (m *Manifest) Put(ctx context.Context, rec FileRecord) error {
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO files (project, path, content_hash, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_count  = excluded.chunk_count,
			indexed_at   = excluded.indexed_at
	`, rec.Project, rec.Path, rec.ContentHash, rec.ChunkCount, rec.IndexedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return manifestError("write manifest", err)
	}
	return nil
}

// Delete drops the record for path.
func (m *Manifest) Delete(ctx context.Context, project, path string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM files WHERE project = ? AND path = ?`, project, path); err != nil {
		return manifestError("delete manifest row", err)
	}
	return nil
}

// List returns every record of project ordered by path.
func (m *Manifest) List(ctx context.Context, project string) ([]FileRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT project, path, content_hash, chunk_count, indexed_at
		FROM files WHERE project = ? ORDER BY path
	`, project)
	if err != nil {
		return nil, manifestError("list manifest", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			rec       FileRecord
			indexedAt string
		)
		if err := rows.Scan(&rec.Project, &rec.Path, &rec.ContentHash, &rec.ChunkCount, &indexedAt); err != nil {
			return nil, manifestError("scan manifest row", err)
		}
		rec.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, manifestError("list manifest", err)
	}
	return out, nil
}

// Bind records the index target (store, collection and model) the rows of
// project describe. When it differs from the recorded one the rows are
// dropped, so every file is indexed again. It returns the number of rows
// dropped.
func (m *Manifest) Bind(ctx context.Context, project, fingerprint string) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, manifestError("bind manifest", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT fingerprint FROM targets WHERE project = ?`, project).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, manifestError("read manifest target", err)
	}
	if err == nil && current == fingerprint {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE project = ?`, project)
	if err != nil {
		return 0, manifestError("reset manifest", err)
	}
	dropped, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO targets (project, fingerprint) VALUES (?, ?)
		ON CONFLICT(project) DO UPDATE SET fingerprint = excluded.fingerprint
	`, project, fingerprint); err != nil {
		return 0, manifestError("write manifest target", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, manifestError("bind manifest", err)
	}
	return int(dropped), nil
}

// Reset drops the rows of project, or of every project when project is
// empty. It returns the number of rows dropped.
func (m *Manifest) Reset(ctx context.Context, project string) (int, error) {
	query, args := `DELETE FROM files`, []any{}
	if project != "" {
		query, args = `DELETE FROM files WHERE project = ?`, []any{project}
	}
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, manifestError("reset manifest", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns the file and chunk totals of project.
func (m *Manifest) Stats(ctx context.Context, project string) (files, chunks int, err error) {
	err = m.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(chunk_count), 0) FROM files WHERE project = ?
	`, project).Scan(&files, &chunks)
	if err != nil {
		return 0, 0, manifestError("read manifest stats", err)
	}
	return files, chunks, nil
}

// LastIndexed returns the newest indexed_at of project, or the zero time
// when nothing was indexed.
func (m *Manifest) LastIndexed(ctx context.Context, project string) (time.Time, error) {
	var last sql.NullString
	err := m.db.QueryRowContext(ctx, `SELECT MAX(indexed_at) FROM files WHERE project = ?`, project).Scan(&last)
	if err != nil {
		return time.Time{}, manifestError("read manifest stats", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse(time.RFC3339, last.String)
	return t, nil
}

// Close closes the database.
func (m *Manifest) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
