package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/config"
	"spotifyetl/internal/docstore"
	"spotifyetl/internal/storage"
	"spotifyetl/internal/xmlexport"
)

type captureLog struct {
	lines []string
}

func (c *captureLog) Printf(format string, v ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *captureLog) contains(sub string) bool {
	for _, l := range c.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

type fakeRepo struct {
	pingErr    error
	initCalled bool
	dropFirst  bool
	inserts    []string
	exportRows []catalog.ExportRow
	counts     map[string]int64
	closed     bool
}

func (f *fakeRepo) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRepo) InitSchema(ctx context.Context, dropFirst bool) (storage.SchemaResult, error) {
	f.initCalled = true
	f.dropFirst = dropFirst
	return storage.SchemaResult{Applied: 8}, nil
}

func (f *fakeRepo) InsertRowsReturningIDs(ctx context.Context, table string, columns []string, rows [][]any, keyIndex int, idColumn string) (map[string]int64, error) {
	f.inserts = append(f.inserts, table)
	out := make(map[string]int64, len(rows))
	for i, row := range rows {
		out[storage.NormalizeKey(row[keyIndex])] = int64(i + 1)
	}
	return out, nil
}

func (f *fakeRepo) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	f.inserts = append(f.inserts, table)
	return int64(len(rows)), nil
}

func (f *fakeRepo) CountRows(ctx context.Context, table string) (int64, error) {
	return f.counts[table], nil
}

func (f *fakeRepo) ExportRows(ctx context.Context) ([]catalog.ExportRow, error) {
	return f.exportRows, nil
}

func (f *fakeRepo) Close() { f.closed = true }

var _ storage.Repository = (*fakeRepo)(nil)

type fakeStore struct {
	pingErr  error
	inserted []docstore.PlaylistDoc
	calls    []string
	closed   bool
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.calls = append(f.calls, "ping")
	return f.pingErr
}

func (f *fakeStore) Clear(ctx context.Context) (int64, error) {
	f.calls = append(f.calls, "clear")
	cleared := int64(len(f.inserted))
	f.inserted = nil
	return cleared, nil
}

func (f *fakeStore) InsertPlaylists(ctx context.Context, docs []docstore.PlaylistDoc) (int, error) {
	f.calls = append(f.calls, "insert")
	f.inserted = append(f.inserted, docs...)
	return len(docs), nil
}

func (f *fakeStore) EnsureUniqueIndex(ctx context.Context) error {
	f.calls = append(f.calls, "index")
	return nil
}

func (f *fakeStore) Stats(ctx context.Context) (docstore.Stats, error) {
	f.calls = append(f.calls, "stats")
	return docstore.Stats{Documents: int64(len(f.inserted)), Genres: []string{"pop"}}, nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	f.calls = append(f.calls, "collections")
	return []string{"playlists"}, nil
}

func (f *fakeStore) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

var _ Store = (*fakeStore)(nil)

const sampleCSV = `track_id,track_name,track_artist,track_popularity,track_album_id,track_album_name,track_album_release_date,playlist_id,playlist_name,playlist_genre,playlist_subgenre,duration_ms,energy,tempo,danceability,loudness,liveness,valence,speechiness,acousticness,instrumentalness,key,mode,time_signature
t1,Shape of You,"Ed Sheeran",86,a1,Divide,2017-03-03,p1,Pop Hits,pop,dance pop,233712,0.65,96.0,0.82,-3.18,0.09,0.93,0.08,0.58,0.0,1,0,4
t2,Perfect,"Ed Sheeran",84,a1,Divide,2017-03-03,p1,Pop Hits,pop,dance pop,263400,0.45,95.0,0.60,-6.33,0.11,0.17,0.02,0.16,0.0,8,1,3
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	csv := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(csv, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	return config.Config{
		StorageKind: "postgres",
		DBDSN:       "stub",

		MongoURI:        "mongodb://stub",
		MongoDatabase:   "spotify",
		MongoCollection: "playlists",

		CSVPath:  csv,
		XMLPath:  filepath.Join(dir, "out", "spotify_data.xml"),
		DTDPath:  filepath.Join(dir, "out", "spotify_data.dtd"),
		XSDPath:  filepath.Join(dir, "out", "spotify_data.xsd"),
		HTMLPath: filepath.Join(dir, "out", "spotify_report.html"),
		JSONPath: filepath.Join(dir, "out", "spotify_data.json"),
	}
}

func fixedTime() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

func sampleExportRows() []catalog.ExportRow {
	energy := 0.65
	release := "2017-03-03"
	return []catalog.ExportRow{
		{
			PlaylistID: "p1", PlaylistName: "Pop Hits", Genre: "pop", Subgenre: "dance pop",
			TrackID: "t1", TrackName: "Shape of You", DurationMS: 233712, Popularity: 86,
			AlbumID: "a1", AlbumName: "Divide", ReleaseDate: &release,
			Artist: "ed sheeran", Energy: &energy,
		},
		{
			PlaylistID: "p1", PlaylistName: "Pop Hits", Genre: "pop", Subgenre: "dance pop",
			TrackID: "t2", TrackName: "Perfect", DurationMS: 263400, Popularity: 84,
			AlbumID: "a1", AlbumName: "Divide", ReleaseDate: &release,
			Artist: "ed sheeran",
		},
	}
}

func newTestRunner(cfg config.Config, repo *fakeRepo, store *fakeStore, logger *captureLog) *Runner {
	return &Runner{
		Cfg: cfg,
		Log: logger,
		NewRepository: func(ctx context.Context, sc storage.Config) (storage.Repository, error) {
			return repo, nil
		},
		NewStore: func(ctx context.Context, dc docstore.Config) (Store, error) {
			return store, nil
		},
		Now:      fixedTime,
		NewRunID: func() string { return "run-test" },
	}
}

func TestIngestEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{exportRows: sampleExportRows()}
	logger := &captureLog{}
	r := newTestRunner(cfg, repo, nil, logger)

	if err := r.Ingest(context.Background(), IngestOptions{Initialize: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !repo.initCalled || repo.dropFirst {
		t.Errorf("initCalled=%t dropFirst=%t, want init without drop", repo.initCalled, repo.dropFirst)
	}
	if !repo.closed {
		t.Error("repository not closed")
	}

	wantOrder := storage.TableNames()
	if len(repo.inserts) != len(wantOrder) {
		t.Fatalf("insert calls %v", repo.inserts)
	}
	for i, table := range wantOrder {
		if repo.inserts[i] != table {
			t.Errorf("insert %d = %s, want %s", i, repo.inserts[i], table)
		}
	}

	for _, p := range []string{cfg.XMLPath, cfg.DTDPath, cfg.HTMLPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s: %v", p, err)
		}
	}
	// The XSD and the JSON file belong to the document pipeline.
	for _, p := range []string{cfg.XSDPath, cfg.JSONPath} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("%s should not be written by ingest", p)
		}
	}

	xmlData, err := os.ReadFile(cfg.XMLPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`<playlist id="p1">`, "Shape of You", `<!DOCTYPE spotify_data SYSTEM "spotify_data.dtd">`} {
		if !strings.Contains(string(xmlData), want) {
			t.Errorf("XML missing %q", want)
		}
	}

	if !logger.contains("schema=dtd issues=0") {
		t.Errorf("export did not validate cleanly:\n%s", strings.Join(logger.lines, "\n"))
	}
	if !logger.contains("stage=render status=ok") {
		t.Error("render stage did not complete")
	}
}

func TestIngestDropFirst(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{}
	r := newTestRunner(cfg, repo, nil, &captureLog{})

	if err := r.Ingest(context.Background(), IngestOptions{DropFirst: true}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !repo.initCalled || !repo.dropFirst {
		t.Errorf("initCalled=%t dropFirst=%t", repo.initCalled, repo.dropFirst)
	}
}

func TestIngestMissingCSVAborts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CSVPath = filepath.Join(t.TempDir(), "absent.csv")
	repo := &fakeRepo{}
	r := newTestRunner(cfg, repo, nil, &captureLog{})

	if err := r.Ingest(context.Background(), IngestOptions{}); err == nil {
		t.Fatal("expected error for missing input")
	}
	if len(repo.inserts) != 0 {
		t.Errorf("nothing should be loaded, got %v", repo.inserts)
	}
}

func TestIngestRepositoryFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	r := newTestRunner(cfg, nil, nil, &captureLog{})
	r.NewRepository = func(ctx context.Context, sc storage.Config) (storage.Repository, error) {
		return nil, errors.New("connection refused")
	}

	err := r.Ingest(context.Background(), IngestOptions{})
	if err == nil || !strings.Contains(err.Error(), "open storage") {
		t.Fatalf("got %v", err)
	}
}

func TestExportOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{exportRows: sampleExportRows()}
	logger := &captureLog{}
	r := newTestRunner(cfg, repo, nil, logger)

	if err := r.ExportOnly(context.Background()); err != nil {
		t.Fatalf("ExportOnly: %v", err)
	}
	if len(repo.inserts) != 0 {
		t.Errorf("export must not load, got %v", repo.inserts)
	}
	if _, err := os.Stat(cfg.XMLPath); err != nil {
		t.Errorf("missing XML: %v", err)
	}
	if !logger.contains("playlists=1 tracks=2") {
		t.Errorf("log missing export summary:\n%s", strings.Join(logger.lines, "\n"))
	}
}

func TestDocumentPipeline(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	doc := xmlexport.Group(sampleExportRows(), fixedTime())
	if err := os.MkdirAll(filepath.Dir(cfg.XMLPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := xmlexport.WriteFile(cfg.XMLPath, doc, filepath.Base(cfg.DTDPath)); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	logger := &captureLog{}
	r := newTestRunner(cfg, nil, store, logger)

	if err := r.DocumentPipeline(context.Background()); err != nil {
		t.Fatalf("DocumentPipeline: %v", err)
	}

	if _, err := os.Stat(cfg.XSDPath); err != nil {
		t.Errorf("missing XSD: %v", err)
	}
	if !logger.contains("schema=xsd issues=0") {
		t.Errorf("export did not validate cleanly:\n%s", strings.Join(logger.lines, "\n"))
	}

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d documents, want 1", len(store.inserted))
	}
	got := store.inserted[0]
	if got.ID != "p1" || got.TracksCount != 2 {
		t.Errorf("document payload: %+v", got)
	}
	if got.Metadata.RunID != "run-test" || got.Metadata.Source != "spotify_data.xml" {
		t.Errorf("metadata: %+v", got.Metadata)
	}
	if got.Metadata.GeneratedAt != "2026-08-29T12:00:00" {
		t.Errorf("generated_at = %q", got.Metadata.GeneratedAt)
	}

	// The collection is replaced: clear, insert, then the unique index.
	clearAt, insertAt, indexAt := -1, -1, -1
	for i, c := range store.calls {
		switch c {
		case "clear":
			clearAt = i
		case "insert":
			insertAt = i
		case "index":
			indexAt = i
		}
	}
	if clearAt == -1 || insertAt == -1 || indexAt == -1 || !(clearAt < insertAt && insertAt < indexAt) {
		t.Errorf("call order %v", store.calls)
	}
	if !store.closed {
		t.Error("store not closed")
	}

	jsonData, err := os.ReadFile(cfg.JSONPath)
	if err != nil {
		t.Fatalf("missing JSON: %v", err)
	}
	if !strings.Contains(string(jsonData), `"tracks_count": 2`) {
		t.Errorf("JSON content:\n%s", jsonData)
	}
}

func TestDocumentPipelineMissingXML(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store := &fakeStore{}
	r := newTestRunner(cfg, nil, store, &captureLog{})

	if err := r.DocumentPipeline(context.Background()); err == nil {
		t.Fatal("expected error when the export is missing")
	}
	if len(store.calls) != 0 {
		t.Errorf("store must not be touched, got %v", store.calls)
	}
}

func TestTestRelational(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{counts: map[string]int64{storage.TableTrack: 1686}}
	logger := &captureLog{}
	r := newTestRunner(cfg, repo, nil, logger)

	if err := r.TestRelational(context.Background()); err != nil {
		t.Fatalf("TestRelational: %v", err)
	}
	if !logger.contains("table=sp_track rows=1686") {
		t.Errorf("log missing counts:\n%s", strings.Join(logger.lines, "\n"))
	}

	repo.pingErr = errors.New("refused")
	if err := r.TestRelational(context.Background()); err == nil {
		t.Fatal("expected ping failure to surface")
	}
}

func TestTestDocumentStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store := &fakeStore{}
	logger := &captureLog{}
	r := newTestRunner(cfg, nil, store, logger)

	if err := r.TestDocumentStore(context.Background()); err != nil {
		t.Fatalf("TestDocumentStore: %v", err)
	}
	if !logger.contains("collections=[playlists]") {
		t.Errorf("log missing collections:\n%s", strings.Join(logger.lines, "\n"))
	}
	if !store.closed {
		t.Error("store not closed")
	}
}
