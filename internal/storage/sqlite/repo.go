// Package sqlite implements storage.Repository on modernc.org/sqlite, a
// cgo-free driver registered with database/sql under the name "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

// New opens (and if needed creates) the database file named by the DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// SQLite keeps foreign keys off per connection unless asked. The loader
	// relies on FK enforcement to surface ordering bugs.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close closes the underlying handle.
func (r *Repo) Close() {
	_ = r.db.Close()
}

// Ping verifies the file can be opened and queried.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// createStatements returns the CREATE TABLE DDL in dependency order.
// INTEGER PRIMARY KEY is the rowid alias, which is how SQLite spells an
// auto-generated surrogate key.
func createStatements() []string {
	return []string{
		`CREATE TABLE sp_genre (
			genre_id INTEGER PRIMARY KEY,
			genre_name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_artist (
			artist_id INTEGER PRIMARY KEY,
			artist_name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_subgenre (
			subgenre_id INTEGER PRIMARY KEY,
			subgenre_name TEXT NOT NULL UNIQUE,
			genre_id INTEGER NOT NULL REFERENCES sp_genre (genre_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_album (
			album_id TEXT PRIMARY KEY,
			album_name TEXT NOT NULL,
			release_date TEXT,
			artist_id INTEGER NOT NULL REFERENCES sp_artist (artist_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_track (
			track_id TEXT PRIMARY KEY,
			track_name TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			popularity INTEGER NOT NULL,
			album_id TEXT NOT NULL REFERENCES sp_album (album_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_audio_features (
			track_id TEXT PRIMARY KEY REFERENCES sp_track (track_id) ON DELETE CASCADE,
			energy REAL,
			tempo REAL,
			danceability REAL,
			loudness REAL,
			liveness REAL,
			valence REAL,
			speechiness REAL,
			acousticness REAL,
			instrumentalness REAL,
			key INTEGER,
			mode INTEGER,
			time_signature INTEGER
		)`,
		`CREATE TABLE sp_playlist (
			playlist_id TEXT PRIMARY KEY,
			playlist_name TEXT NOT NULL,
			subgenre_id INTEGER REFERENCES sp_subgenre (subgenre_id) ON DELETE SET NULL
		)`,
		`CREATE TABLE sp_playlist_track (
			playlist_id TEXT NOT NULL REFERENCES sp_playlist (playlist_id) ON DELETE CASCADE,
			track_id TEXT NOT NULL REFERENCES sp_track (track_id) ON DELETE CASCADE,
			PRIMARY KEY (playlist_id, track_id)
		)`,
	}
}

func dropStatements() []string {
	names := storage.TableNames()
	out := make([]string, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		out = append(out, "DROP TABLE "+names[i])
	}
	return out
}

// InitSchema executes drops (optionally) and creates, one statement at a
// time, classifying each outcome.
func (r *Repo) InitSchema(ctx context.Context, dropFirst bool) (storage.SchemaResult, error) {
	var res storage.SchemaResult
	stmts := createStatements()
	if dropFirst {
		stmts = append(dropStatements(), stmts...)
	}

	for _, s := range stmts {
		_, err := r.db.ExecContext(ctx, s)
		switch {
		case err == nil:
			res.Applied++
		case storage.SuppressibleDDLError(err):
			res.Suppressed++
		default:
			res.Errors = append(res.Errors, err)
		}
	}
	return res, nil
}

// InsertRowsReturningIDs inserts dimension rows one by one in a transaction,
// using RETURNING to collect the generated rowid-backed surrogate ids.
func (r *Repo) InsertRowsReturningIDs(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
	keyIndex int,
	idColumn string,
) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := buildInsertReturningSQL(table, columns, idColumn)
	for _, row := range rows {
		var id int64
		if err := tx.QueryRowContext(ctx, q, row...).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", table, err)
		}
		out[storage.NormalizeKey(row[keyIndex])] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkInsert performs a single multi-row INSERT.
func (r *Repo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(table, columns, rows)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountRows returns COUNT(*) for one schema table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// ExportRows runs the denormalized export join. release_date is stored as
// ISO-8601 text, so no conversion expression is needed.
func (r *Repo) ExportRows(ctx context.Context) ([]catalog.ExportRow, error) {
	rows, err := r.db.QueryContext(ctx, storage.ExportQuery("al.release_date"))
	if err != nil {
		return nil, fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	var out []catalog.ExportRow
	for rows.Next() {
		row, err := storage.ScanExportRow(rows)
		if err != nil {
			return nil, fmt.Errorf("export scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	return out, nil
}

// buildInsertReturningSQL constructs the per-row dimension INSERT.
func buildInsertReturningSQL(table string, columns []string, idColumn string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(") RETURNING ")
	b.WriteString(sqlIdent(idColumn))
	return b.String()
}

// buildInsertSQL constructs a single multi-row INSERT statement and its args.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
