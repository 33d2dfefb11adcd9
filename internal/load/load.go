// Package load writes the normalized datasets into the relational schema in
// dependency order, resolving surrogate keys as it goes.
//
// The failure policy is per entity: a table that cannot be loaded reports
// zero inserts and the run continues. Referential integrity is preserved by
// construction, because each downstream entity is filtered against the keys
// that actually landed upstream. A table wiped out by a failure therefore
// cascades into empty dependents rather than FK violations.
package load

import (
	"context"
	"fmt"
	"time"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
type Logger interface {
	Printf(format string, v ...any)
}

// Stats reports per-table outcomes of one load pass.
type Stats struct {
	Inserted map[string]int64
	Dropped  map[string]int64
}

// Total returns the sum of inserted rows across tables.
func (s Stats) Total() int64 {
	var n int64
	for _, v := range s.Inserted {
		n += v
	}
	return n
}

// Loader drives one load pass against a repository.
type Loader struct {
	Repo storage.Repository
	Log  Logger
}

// Load inserts all eight datasets in dependency order and returns per-table
// stats. It only returns an error when the context is done; everything else
// degrades per table.
func (l *Loader) Load(ctx context.Context, ds catalog.Datasets) (Stats, error) {
	stats := Stats{
		Inserted: make(map[string]int64, 8),
		Dropped:  make(map[string]int64, 8),
	}

	// Surrogate-keyed dimensions first.
	genreIDs := l.loadDimension(ctx, storage.TableGenre,
		[]string{"genre_name"}, "genre_id", genreRows(ds.Genres), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	artistIDs := l.loadDimension(ctx, storage.TableArtist,
		[]string{"artist_name"}, "artist_id", artistRows(ds.Artists), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	subgenres, droppedSub := FilterSubgenres(ds.Subgenres, genreIDs)
	stats.Dropped[storage.TableSubgenre] = int64(droppedSub)
	subgenreIDs := l.loadDimension(ctx, storage.TableSubgenre,
		[]string{"subgenre_name", "genre_id"}, "subgenre_id",
		subgenreRows(subgenres, genreIDs), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// Natural-keyed tables, bulk inserted all-or-nothing.
	albums, droppedAlb := FilterAlbums(ds.Albums, artistIDs)
	stats.Dropped[storage.TableAlbum] = int64(droppedAlb)
	albumSet := l.loadBulkKeyed(ctx, storage.TableAlbum,
		[]string{"album_id", "album_name", "release_date", "artist_id"},
		albumRows(albums, artistIDs), albumKeys(albums), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	tracks, droppedTr := FilterTracks(ds.Tracks, albumSet)
	stats.Dropped[storage.TableTrack] = int64(droppedTr)
	trackSet := l.loadBulkKeyed(ctx, storage.TableTrack,
		[]string{"track_id", "track_name", "duration_ms", "popularity", "album_id"},
		trackRows(tracks), trackKeys(tracks), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	features, droppedAF := FilterAudioFeatures(ds.AudioFeatures, trackSet)
	stats.Dropped[storage.TableAudioFeatures] = int64(droppedAF)
	l.loadBulk(ctx, storage.TableAudioFeatures,
		[]string{
			"track_id", "energy", "tempo", "danceability", "loudness",
			"liveness", "valence", "speechiness", "acousticness",
			"instrumentalness", "key", "mode", "time_signature",
		},
		featureRows(features), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	playlists, droppedPl := FilterPlaylists(ds.Playlists, subgenreIDs)
	stats.Dropped[storage.TablePlaylist] = int64(droppedPl)
	playlistSet := l.loadBulkKeyed(ctx, storage.TablePlaylist,
		[]string{"playlist_id", "playlist_name", "subgenre_id"},
		playlistRows(playlists, subgenreIDs), playlistKeys(playlists), &stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	links, droppedLn := FilterPlaylistTracks(ds.PlaylistTracks, playlistSet, trackSet)
	stats.Dropped[storage.TablePlaylistTrack] = int64(droppedLn)
	l.loadBulk(ctx, storage.TablePlaylistTrack,
		[]string{"playlist_id", "track_id"},
		linkRows(links), &stats)

	return stats, ctx.Err()
}

// loadDimension inserts a surrogate-keyed dimension and returns the natural
// key to id map. On failure the map is empty, which empties every dependent
// downstream.
func (l *Loader) loadDimension(
	ctx context.Context,
	table string,
	columns []string,
	idColumn string,
	rows [][]any,
	stats *Stats,
) map[string]int64 {
	start := time.Now()
	ids, err := l.Repo.InsertRowsReturningIDs(ctx, table, columns, rows, 0, idColumn)
	if err != nil {
		l.Log.Printf("stage=load table=%s error=%v", table, err)
		stats.Inserted[table] = 0
		return map[string]int64{}
	}
	stats.Inserted[table] = int64(len(ids))
	l.Log.Printf("stage=load table=%s inserted=%d duration=%s", table, len(ids), time.Since(start))
	return ids
}

// loadBulk inserts a natural-keyed table as one statement.
func (l *Loader) loadBulk(ctx context.Context, table string, columns []string, rows [][]any, stats *Stats) int64 {
	start := time.Now()
	n, err := l.Repo.BulkInsert(ctx, table, columns, rows)
	if err != nil {
		l.Log.Printf("stage=load table=%s error=%v first_row=%s", table, err, firstRow(rows))
		stats.Inserted[table] = 0
		return 0
	}
	stats.Inserted[table] = n
	l.Log.Printf("stage=load table=%s inserted=%d duration=%s", table, n, time.Since(start))
	return n
}

// loadBulkKeyed is loadBulk for tables whose natural keys feed downstream
// filters. The key set is only populated on success.
func (l *Loader) loadBulkKeyed(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
	keys []string,
	stats *Stats,
) map[string]struct{} {
	if l.loadBulk(ctx, table, columns, rows, stats) == 0 {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func firstRow(rows [][]any) string {
	if len(rows) == 0 {
		return "<none>"
	}
	return fmt.Sprint(rows[0])
}

/* ---------- FK filters ---------- */

// FilterSubgenres drops subgenres whose parent genre did not land.
func FilterSubgenres(in []catalog.Subgenre, genreIDs map[string]int64) ([]catalog.Subgenre, int) {
	out := make([]catalog.Subgenre, 0, len(in))
	for _, s := range in {
		if _, ok := genreIDs[s.GenreName]; ok {
			out = append(out, s)
		}
	}
	return out, len(in) - len(out)
}

// FilterAlbums drops albums whose principal artist did not land.
func FilterAlbums(in []catalog.Album, artistIDs map[string]int64) ([]catalog.Album, int) {
	out := make([]catalog.Album, 0, len(in))
	for _, a := range in {
		if _, ok := artistIDs[a.PrincipalArtist]; ok {
			out = append(out, a)
		}
	}
	return out, len(in) - len(out)
}

// FilterTracks drops tracks whose album did not land, including tracks that
// never had an album id.
func FilterTracks(in []catalog.Track, albums map[string]struct{}) ([]catalog.Track, int) {
	out := make([]catalog.Track, 0, len(in))
	for _, t := range in {
		if _, ok := albums[t.AlbumID]; ok {
			out = append(out, t)
		}
	}
	return out, len(in) - len(out)
}

// FilterAudioFeatures drops feature rows whose track did not land.
func FilterAudioFeatures(in []catalog.AudioFeatures, tracks map[string]struct{}) ([]catalog.AudioFeatures, int) {
	out := make([]catalog.AudioFeatures, 0, len(in))
	for _, f := range in {
		if _, ok := tracks[f.TrackID]; ok {
			out = append(out, f)
		}
	}
	return out, len(in) - len(out)
}

// FilterPlaylists drops playlists whose subgenre did not land.
func FilterPlaylists(in []catalog.Playlist, subgenreIDs map[string]int64) ([]catalog.Playlist, int) {
	out := make([]catalog.Playlist, 0, len(in))
	for _, p := range in {
		if _, ok := subgenreIDs[p.SubgenreName]; ok {
			out = append(out, p)
		}
	}
	return out, len(in) - len(out)
}

// FilterPlaylistTracks drops links where either endpoint did not land.
func FilterPlaylistTracks(in []catalog.PlaylistTrack, playlists, tracks map[string]struct{}) ([]catalog.PlaylistTrack, int) {
	out := make([]catalog.PlaylistTrack, 0, len(in))
	for _, pt := range in {
		_, okP := playlists[pt.PlaylistID]
		_, okT := tracks[pt.TrackID]
		if okP && okT {
			out = append(out, pt)
		}
	}
	return out, len(in) - len(out)
}

/* ---------- row builders ---------- */

func genreRows(in []catalog.Genre) [][]any {
	rows := make([][]any, len(in))
	for i, g := range in {
		rows[i] = []any{g.Name}
	}
	return rows
}

func artistRows(in []catalog.Artist) [][]any {
	rows := make([][]any, len(in))
	for i, a := range in {
		rows[i] = []any{a.Name}
	}
	return rows
}

func subgenreRows(in []catalog.Subgenre, genreIDs map[string]int64) [][]any {
	rows := make([][]any, len(in))
	for i, s := range in {
		rows[i] = []any{s.Name, genreIDs[s.GenreName]}
	}
	return rows
}

func albumRows(in []catalog.Album, artistIDs map[string]int64) [][]any {
	rows := make([][]any, len(in))
	for i, a := range in {
		rows[i] = []any{a.ID, a.Name, a.ReleaseDate, artistIDs[a.PrincipalArtist]}
	}
	return rows
}

func albumKeys(in []catalog.Album) []string {
	keys := make([]string, len(in))
	for i, a := range in {
		keys[i] = a.ID
	}
	return keys
}

func trackRows(in []catalog.Track) [][]any {
	rows := make([][]any, len(in))
	for i, t := range in {
		rows[i] = []any{t.ID, t.Name, t.DurationMS, t.Popularity, t.AlbumID}
	}
	return rows
}

func trackKeys(in []catalog.Track) []string {
	keys := make([]string, len(in))
	for i, t := range in {
		keys[i] = t.ID
	}
	return keys
}

func featureRows(in []catalog.AudioFeatures) [][]any {
	rows := make([][]any, len(in))
	for i, f := range in {
		rows[i] = []any{
			f.TrackID, f.Energy, f.Tempo, f.Danceability, f.Loudness,
			f.Liveness, f.Valence, f.Speechiness, f.Acousticness,
			f.Instrumentalness, f.Key, f.Mode, f.TimeSignature,
		}
	}
	return rows
}

func playlistRows(in []catalog.Playlist, subgenreIDs map[string]int64) [][]any {
	rows := make([][]any, len(in))
	for i, p := range in {
		rows[i] = []any{p.ID, p.Name, subgenreIDs[p.SubgenreName]}
	}
	return rows
}

func playlistKeys(in []catalog.Playlist) []string {
	keys := make([]string, len(in))
	for i, p := range in {
		keys[i] = p.ID
	}
	return keys
}

func linkRows(in []catalog.PlaylistTrack) [][]any {
	rows := make([][]any, len(in))
	for i, pt := range in {
		rows[i] = []any{pt.PlaylistID, pt.TrackID}
	}
	return rows
}
