// Package mssql implements storage.Repository for Microsoft SQL Server via
// database/sql and the "sqlserver" driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

// New constructs a Repo and validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	_ = r.db.Close()
}

// Ping verifies connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// createStatements returns the CREATE TABLE DDL in dependency order.
// "key" is reserved in T-SQL and must stay bracketed.
func createStatements() []string {
	return []string{
		`CREATE TABLE sp_genre (
			genre_id INT IDENTITY(1,1) PRIMARY KEY,
			genre_name NVARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_artist (
			artist_id INT IDENTITY(1,1) PRIMARY KEY,
			artist_name NVARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE sp_subgenre (
			subgenre_id INT IDENTITY(1,1) PRIMARY KEY,
			subgenre_name NVARCHAR(255) NOT NULL UNIQUE,
			genre_id INT NOT NULL REFERENCES sp_genre (genre_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_album (
			album_id NVARCHAR(64) PRIMARY KEY,
			album_name NVARCHAR(512) NOT NULL,
			release_date DATE,
			artist_id INT NOT NULL REFERENCES sp_artist (artist_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_track (
			track_id NVARCHAR(64) PRIMARY KEY,
			track_name NVARCHAR(512) NOT NULL,
			duration_ms INT NOT NULL,
			popularity INT NOT NULL,
			album_id NVARCHAR(64) NOT NULL REFERENCES sp_album (album_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE sp_audio_features (
			track_id NVARCHAR(64) PRIMARY KEY REFERENCES sp_track (track_id) ON DELETE CASCADE,
			energy FLOAT,
			tempo FLOAT,
			danceability FLOAT,
			loudness FLOAT,
			liveness FLOAT,
			valence FLOAT,
			speechiness FLOAT,
			acousticness FLOAT,
			instrumentalness FLOAT,
			[key] INT,
			[mode] INT,
			time_signature INT
		)`,
		`CREATE TABLE sp_playlist (
			playlist_id NVARCHAR(64) PRIMARY KEY,
			playlist_name NVARCHAR(512) NOT NULL,
			subgenre_id INT REFERENCES sp_subgenre (subgenre_id) ON DELETE SET NULL
		)`,
		`CREATE TABLE sp_playlist_track (
			playlist_id NVARCHAR(64) NOT NULL REFERENCES sp_playlist (playlist_id) ON DELETE CASCADE,
			track_id NVARCHAR(64) NOT NULL REFERENCES sp_track (track_id) ON DELETE CASCADE,
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
// using OUTPUT INSERTED to collect the IDENTITY values.
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

// BulkInsert inserts all rows in chunks sized to respect SQL Server's
// 1000-row VALUES limit and 2100-parameter limit, inside one transaction so
// the table stays all-or-nothing.
func (r *Repo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	chunk := 2000 / len(columns)
	if chunk > 900 {
		chunk = 900
	}
	if chunk < 1 {
		chunk = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// CountRows returns COUNT(*) for one schema table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// ExportRows runs the denormalized export join. Style 23 renders DATE as
// ISO-8601 text.
func (r *Repo) ExportRows(ctx context.Context) ([]catalog.ExportRow, error) {
	q := storage.ExportQuery(`CONVERT(varchar(10), al.release_date, 23)`)
	rows, err := r.db.QueryContext(ctx, q)
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

// buildInsertReturningSQL constructs the per-row dimension INSERT with an
// OUTPUT clause. OUTPUT must sit between the column list and VALUES.
func buildInsertReturningSQL(table string, columns []string, idColumn string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") OUTPUT INSERTED.")
	b.WriteString(mssqlIdent(idColumn))
	b.WriteString(" VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")")
	return b.String()
}

// buildInsertSQL constructs one multi-row INSERT statement and its args.
// Callers are responsible for keeping len(rows)*len(columns) under the
// driver's parameter limit.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// mssqlIdent quotes an identifier with brackets.
func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
