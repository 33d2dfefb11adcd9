package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/storage"
)

// Repo implements storage.Repository for Postgres on top of pgxpool.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// Ping verifies connectivity against the pool.
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// createStatements returns the CREATE TABLE DDL in dependency order.
//
// Why these are plain (no IF NOT EXISTS):
//   - InitSchema classifies "already exists" as a suppressed outcome so the
//     caller can report how much of the schema was actually new. IF NOT
//     EXISTS would hide that signal.
func createStatements() []string {
	return []string{
		`CREATE TABLE sp_genre (
			genre_id SERIAL PRIMARY KEY,
			genre_name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_artist (
			artist_id SERIAL PRIMARY KEY,
			artist_name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_subgenre (
			subgenre_id SERIAL PRIMARY KEY,
			subgenre_name TEXT NOT NULL UNIQUE,
			genre_id INTEGER NOT NULL REFERENCES sp_genre (genre_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_album (
			album_id TEXT PRIMARY KEY,
			album_name TEXT NOT NULL,
			release_date DATE,
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
			energy DOUBLE PRECISION,
			tempo DOUBLE PRECISION,
			danceability DOUBLE PRECISION,
			loudness DOUBLE PRECISION,
			liveness DOUBLE PRECISION,
			valence DOUBLE PRECISION,
			speechiness DOUBLE PRECISION,
			acousticness DOUBLE PRECISION,
			instrumentalness DOUBLE PRECISION,
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

// dropStatements returns DROP TABLE DDL in reverse dependency order.
func dropStatements() []string {
	names := storage.TableNames()
	out := make([]string, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		out = append(out, "DROP TABLE "+names[i])
	}
	return out
}

// InitSchema executes drops (optionally) and creates, one statement at a
// time, classifying each outcome. A broken statement never stops the pass.
func (r *Repo) InitSchema(ctx context.Context, dropFirst bool) (storage.SchemaResult, error) {
	var res storage.SchemaResult
	stmts := createStatements()
	if dropFirst {
		stmts = append(dropStatements(), stmts...)
	}

	for _, s := range stmts {
		_, err := r.pool.Exec(ctx, s)
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

// InsertRowsReturningIDs inserts dimension rows one by one inside a single
// transaction, collecting the generated surrogate ids.
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

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := buildInsertReturningSQL(table, columns, idColumn)
	for _, row := range rows {
		var id int64
		if err := tx.QueryRow(ctx, sql, row...).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", table, err)
		}
		out[storage.NormalizeKey(row[keyIndex])] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkInsert performs a single multi-row INSERT.
func (r *Repo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, columns, rows)
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// CountRows returns COUNT(*) for one schema table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// ExportRows runs the denormalized export join.
func (r *Repo) ExportRows(ctx context.Context) ([]catalog.ExportRow, error) {
	q := storage.ExportQuery(`to_char(al.release_date, 'YYYY-MM-DD')`)
	rows, err := r.pool.Query(ctx, q)
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
//
// It is pure and deterministic, so placeholder numbering and quoting are unit
// tested without a database.
func buildInsertReturningSQL(table string, columns []string, idColumn string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") RETURNING ")
	b.WriteString(pgIdent(idColumn))
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
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// pgIdent quotes an identifier for Postgres.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
