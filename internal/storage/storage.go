// Package storage defines the backend-agnostic repository interface for the
// music-catalog star schema, plus the factory registry that backend packages
// hook into from init().
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"spotifyetl/internal/catalog"
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// SchemaResult summarizes one InitSchema pass. Statements are executed
// independently; a failing statement never stops the pass.
type SchemaResult struct {
	// Applied counts statements that executed cleanly.
	Applied int
	// Suppressed counts statements that failed for a benign reason, such as
	// dropping a table that does not exist yet.
	Suppressed int
	// Errors holds the non-benign statement failures, in execution order.
	Errors []error
}

// Repository is a backend-agnostic interface over the eight-table schema.
//
// IMPORTANT: the interface is intentionally minimal and shaped by the load
// order. Each backend implements these semantics in its own dialect
// (SERIAL vs AUTOINCREMENT vs IDENTITY, $n vs ? vs @p placeholders).
type Repository interface {
	// Ping verifies connectivity. Used by the connection-test run mode.
	Ping(ctx context.Context) error

	// InitSchema creates the eight tables in dependency order. When dropFirst
	// is set it first drops them in reverse order. Every statement runs
	// independently so a partially existing schema converges instead of
	// aborting.
	InitSchema(ctx context.Context, dropFirst bool) (SchemaResult, error)

	// InsertRowsReturningIDs inserts rows one by one inside a transaction and
	// returns a map from the natural key at keyIndex to the generated
	// surrogate id in idColumn. On any failure the transaction rolls back and
	// an error is returned; callers then proceed with an empty map.
	InsertRowsReturningIDs(ctx context.Context, table string, columns []string, rows [][]any, keyIndex int, idColumn string) (map[string]int64, error)

	// BulkInsert inserts all rows in one multi-row statement and reports the
	// number of rows written. All-or-nothing per table.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// CountRows returns the row count of one table.
	CountRows(ctx context.Context, table string) (int64, error)

	// ExportRows runs the denormalized join feeding XML export, ordered by
	// playlist id then track name.
	ExportRows(ctx context.Context) ([]catalog.ExportRow, error)

	// Close releases backend resources. Treat as "call once".
	Close()
}

/* ---------- factory registry ---------- */

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

/* ---------- shared backend helpers ---------- */

// NormalizeKey converts a natural-key value to the canonical string form used
// by the in-memory resolution maps (e.g. "pop" or "6jCxNqo8ybA9HYUYfSlX0V").
//
// Backends must not assume a particular scanned type for keys; this helper
// keeps lookup caches consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// SuppressibleDDLError reports whether a DDL failure is one of the benign
// "schema already converged" shapes: creating a table that exists, or
// dropping one that does not.
//
// Matching on message text is deliberate. The three supported drivers expose
// different error types for the same condition, and InitSchema only needs a
// coarse benign/real split.
func SuppressibleDDLError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"already exists",
		"already an object",
		"does not exist",
		"no such table",
		"unknown table",
		"cannot drop the table",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RowScanner is the scan surface shared by pgx rows and database/sql rows,
// letting all backends share one export-row scanner.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanExportRow scans one row of the export join, in ExportQuery column
// order. Nullable columns scan through pointer fields so NULL survives as
// nil all the way into the XML layer.
func ScanExportRow(rs RowScanner) (catalog.ExportRow, error) {
	var r catalog.ExportRow
	err := rs.Scan(
		&r.PlaylistID, &r.PlaylistName, &r.Genre, &r.Subgenre,
		&r.TrackID, &r.TrackName, &r.DurationMS, &r.Popularity,
		&r.AlbumID, &r.AlbumName, &r.ReleaseDate,
		&r.Artist,
		&r.Energy, &r.Tempo, &r.Danceability, &r.Loudness,
		&r.Valence, &r.Liveness, &r.Speechiness, &r.Acousticness,
		&r.Instrumentalness,
	)
	return r, err
}
