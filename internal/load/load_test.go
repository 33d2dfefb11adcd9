package load

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/storage"
)

// fakeRepo implements storage.Repository in memory and records call order.
type fakeRepo struct {
	order []string

	nextID int64
	idMaps map[string]map[string]int64
	bulk   map[string][][]any

	failDimension map[string]bool
	failBulk      map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		idMaps:        map[string]map[string]int64{},
		bulk:          map[string][][]any{},
		failDimension: map[string]bool{},
		failBulk:      map[string]bool{},
	}
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close()                     {}

func (f *fakeRepo) InitSchema(context.Context, bool) (storage.SchemaResult, error) {
	return storage.SchemaResult{}, nil
}

func (f *fakeRepo) InsertRowsReturningIDs(_ context.Context, table string, _ []string, rows [][]any, keyIndex int, _ string) (map[string]int64, error) {
	f.order = append(f.order, table)
	if f.failDimension[table] {
		return nil, errors.New("boom")
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		f.nextID++
		out[storage.NormalizeKey(row[keyIndex])] = f.nextID
	}
	f.idMaps[table] = out
	return out, nil
}

func (f *fakeRepo) BulkInsert(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	f.order = append(f.order, table)
	if f.failBulk[table] {
		return 0, errors.New("boom")
	}
	f.bulk[table] = rows
	return int64(len(rows)), nil
}

func (f *fakeRepo) CountRows(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeRepo) ExportRows(context.Context) ([]catalog.ExportRow, error) { return nil, nil }

var _ storage.Repository = (*fakeRepo)(nil)

func testDatasets() catalog.Datasets {
	rel := "2017-03-01"
	return catalog.Datasets{
		Genres:   []catalog.Genre{{Name: "pop"}},
		Artists:  []catalog.Artist{{Name: "ed sheeran"}},
		Subgenres: []catalog.Subgenre{
			{Name: "dance pop", GenreName: "pop"},
			{Name: "orphan", GenreName: "vanished"},
		},
		Albums: []catalog.Album{
			{ID: "a1", Name: "Divide", ReleaseDate: &rel, PrincipalArtist: "ed sheeran"},
			{ID: "a2", Name: "Unknown", PrincipalArtist: "nobody"},
		},
		Tracks: []catalog.Track{
			{ID: "t1", Name: "Shape of You", DurationMS: 233712, Popularity: 86, AlbumID: "a1"},
			{ID: "t2", Name: "Orphan", DurationMS: 1000, AlbumID: "a2"},
			{ID: "t3", Name: "No Album", DurationMS: 1000, AlbumID: ""},
		},
		AudioFeatures: []catalog.AudioFeatures{
			{TrackID: "t1"},
			{TrackID: "t2"},
		},
		Playlists: []catalog.Playlist{
			{ID: "p1", Name: "Pop Hits", SubgenreName: "dance pop"},
			{ID: "p2", Name: "Broken", SubgenreName: "missing"},
		},
		PlaylistTracks: []catalog.PlaylistTrack{
			{PlaylistID: "p1", TrackID: "t1"},
			{PlaylistID: "p1", TrackID: "t2"},
			{PlaylistID: "p2", TrackID: "t1"},
		},
	}
}

func testLogger() *log.Logger { return log.New(os.Stderr, "", 0) }

func TestLoadOrderAndDrops(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	loader := &Loader{Repo: repo, Log: testLogger()}

	stats, err := loader.Load(context.Background(), testDatasets())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantOrder := []string{
		storage.TableGenre, storage.TableArtist, storage.TableSubgenre,
		storage.TableAlbum, storage.TableTrack, storage.TableAudioFeatures,
		storage.TablePlaylist, storage.TablePlaylistTrack,
	}
	if len(repo.order) != len(wantOrder) {
		t.Fatalf("tables touched = %v, want %v", repo.order, wantOrder)
	}
	for i := range wantOrder {
		if repo.order[i] != wantOrder[i] {
			t.Fatalf("load order[%d] = %s, want %s", i, repo.order[i], wantOrder[i])
		}
	}

	wantInserted := map[string]int64{
		storage.TableGenre:         1,
		storage.TableArtist:        1,
		storage.TableSubgenre:      1, // orphan dropped
		storage.TableAlbum:         1, // a2 has no resolvable artist
		storage.TableTrack:         1, // t2 and t3 lose their album
		storage.TableAudioFeatures: 1,
		storage.TablePlaylist:      1, // p2 subgenre missing
		storage.TablePlaylistTrack: 1, // only (p1, t1) survives
	}
	for table, want := range wantInserted {
		if got := stats.Inserted[table]; got != want {
			t.Errorf("inserted[%s] = %d, want %d", table, got, want)
		}
	}

	wantDropped := map[string]int64{
		storage.TableSubgenre:      1,
		storage.TableAlbum:         1,
		storage.TableTrack:         2,
		storage.TableAudioFeatures: 1,
		storage.TablePlaylist:      1,
		storage.TablePlaylistTrack: 2,
	}
	for table, want := range wantDropped {
		if got := stats.Dropped[table]; got != want {
			t.Errorf("dropped[%s] = %d, want %d", table, got, want)
		}
	}

	// The surviving playlist row carries the surrogate subgenre id.
	plRows := repo.bulk[storage.TablePlaylist]
	if len(plRows) != 1 {
		t.Fatalf("playlist rows = %v", plRows)
	}
	if sub, ok := plRows[0][2].(int64); !ok || sub == 0 {
		t.Errorf("playlist subgenre_id = %v, want resolved surrogate", plRows[0][2])
	}
}

func TestLoadDimensionFailureCascades(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.failDimension[storage.TableGenre] = true
	loader := &Loader{Repo: repo, Log: testLogger()}

	stats, err := loader.Load(context.Background(), testDatasets())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if stats.Inserted[storage.TableGenre] != 0 {
		t.Errorf("genres inserted = %d, want 0", stats.Inserted[storage.TableGenre])
	}
	// Every subgenre loses its parent, and every playlist its subgenre.
	if stats.Inserted[storage.TableSubgenre] != 0 {
		t.Errorf("subgenres inserted = %d, want 0", stats.Inserted[storage.TableSubgenre])
	}
	if stats.Inserted[storage.TablePlaylist] != 0 {
		t.Errorf("playlists inserted = %d, want 0", stats.Inserted[storage.TablePlaylist])
	}
	// Artists are independent of genres and still load.
	if stats.Inserted[storage.TableArtist] != 1 {
		t.Errorf("artists inserted = %d, want 1", stats.Inserted[storage.TableArtist])
	}
}

func TestLoadBulkFailureContinues(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.failBulk[storage.TableAlbum] = true
	loader := &Loader{Repo: repo, Log: testLogger()}

	stats, err := loader.Load(context.Background(), testDatasets())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if stats.Inserted[storage.TableAlbum] != 0 {
		t.Errorf("albums inserted = %d, want 0", stats.Inserted[storage.TableAlbum])
	}
	// No albums means no tracks, features or links; playlists are untouched.
	if stats.Inserted[storage.TableTrack] != 0 {
		t.Errorf("tracks inserted = %d, want 0", stats.Inserted[storage.TableTrack])
	}
	if stats.Inserted[storage.TablePlaylistTrack] != 0 {
		t.Errorf("links inserted = %d, want 0", stats.Inserted[storage.TablePlaylistTrack])
	}
	if stats.Inserted[storage.TablePlaylist] != 1 {
		t.Errorf("playlists inserted = %d, want 1", stats.Inserted[storage.TablePlaylist])
	}
}

func TestLoadCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := &Loader{Repo: newFakeRepo(), Log: testLogger()}
	if _, err := loader.Load(ctx, testDatasets()); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFilterPlaylistTracks(t *testing.T) {
	t.Parallel()

	in := []catalog.PlaylistTrack{
		{PlaylistID: "p1", TrackID: "t1"},
		{PlaylistID: "p1", TrackID: "t9"},
		{PlaylistID: "p9", TrackID: "t1"},
	}
	playlists := map[string]struct{}{"p1": {}}
	tracks := map[string]struct{}{"t1": {}}

	out, dropped := FilterPlaylistTracks(in, playlists, tracks)
	if len(out) != 1 || dropped != 2 {
		t.Fatalf("got %v dropped=%d, want one link and 2 dropped", out, dropped)
	}
}
