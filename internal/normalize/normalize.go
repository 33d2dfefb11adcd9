// Package normalize turns the flat music-catalog CSV into the eight
// deduplicated datasets of the relational schema.
//
// The normalizer is deliberately forgiving at row level: bad dates become
// nil, bad numbers become zero (or nil for float features), empty keys drop
// the row. Only a missing or unreadable input file is fatal to the run.
package normalize

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"spotifyetl/internal/catalog"
)

// Logger is the minimal logging interface used by the normalizer.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// columnAliases remaps cleaned source column names to canonical field names.
// Source files vary slightly in naming; anything not listed here passes
// through under its cleaned name.
var columnAliases = map[string]string{
	"playlist_genre":           "genre",
	"playlist_subgenre":        "subgenre",
	"track_artist":             "artists",
	"track_album_id":           "album_id",
	"track_album_name":         "album_name",
	"track_album_release_date": "release_date",
	"track_id":                 "track_id",
	"track_name":               "track_name",
	"playlist_id":              "playlist_id",
	"playlist_name":            "playlist_name",
	"key":                      "key",
	"mode":                     "mode",
	"time_signature":           "time_signature",
}

// requiredColumns are the canonical fields the pipeline expects to find.
// Missing ones degrade the run (affected entities come out empty) rather
// than aborting it.
var requiredColumns = []string{
	"genre", "subgenre", "artists", "album_id",
	"album_name", "release_date", "track_id", "track_name",
}

// lower performs Unicode-correct case folding for natural keys. Plain
// strings.ToLower mishandles a handful of scripts that show up in artist
// names.
var lower = cases.Lower(language.Und)

// Lower returns the case-normalized form used for every natural key.
func Lower(s string) string { return lower.String(s) }

// CleanColumn normalizes a raw header cell to its canonical column name.
func CleanColumn(name string) string {
	c := Lower(strings.TrimSpace(name))
	if canonical, ok := columnAliases[c]; ok {
		return canonical
	}
	return c
}

// SplitArtists splits a raw collaboration string on commas, strips quote
// characters and surrounding whitespace from each token, lowercases it, and
// discards empties. The first surviving token is the principal artist.
func SplitArtists(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.NewReplacer(`"`, "", `'`, "").Replace(p)
		p = Lower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseDate normalizes the three accepted release-date shapes to canonical
// YYYY-MM-DD. Anything else yields nil, never an error.
func ParseDate(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch {
	case isDigits(s, 4, 2, 2): // YYYY-MM-DD
		return &s
	case isDigits(s, 4, 2): // YYYY-MM
		d := s + "-01"
		return &d
	case isDigits(s, 4): // YYYY
		d := s + "-01-01"
		return &d
	}
	return nil
}

// isDigits reports whether s consists of dash-separated groups of exactly
// the given digit widths.
func isDigits(s string, widths ...int) bool {
	groups := strings.Split(s, "-")
	if len(groups) != len(widths) {
		return false
	}
	for i, g := range groups {
		if len(g) != widths[i] {
			return false
		}
		for _, r := range g {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// toInt coerces a numeric field, defaulting to zero per the row-level error
// policy.
func toInt(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	// Integer columns sometimes arrive as "3.0".
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// toFloat coerces an audio-feature value, returning nil when uncoercible so
// the absence survives all the way into the XML export.
func toFloat(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// rawTable is the parsed CSV with canonical column names.
type rawTable struct {
	index map[string]int
	rows  [][]string
}

// get returns the named field of a row, or "" when the column is absent.
// Absent columns are how degraded mode flows through extraction: every
// value is empty, so the usual empty-key filters drop the rows.
func (t *rawTable) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Preprocess reads the delimited input file and produces the eight datasets.
//
// Errors:
//   - Returns an error when the file cannot be opened or its header cannot
//     be parsed. Callers treat that as fatal.
//   - Zero usable rows for an entity is not an error; the dataset is empty.
func Preprocess(path string, log Logger) (catalog.Datasets, error) {
	f, err := os.Open(path)
	if err != nil {
		return catalog.Datasets{}, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	table, err := readTable(f)
	if err != nil {
		return catalog.Datasets{}, fmt.Errorf("parse %s: %w", path, err)
	}
	log.Printf("stage=normalize file=%s rows=%d", path, len(table.rows))

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := table.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		log.Printf("stage=normalize warn=missing_columns columns=%v", missing)
	}

	ds := catalog.Datasets{
		Genres:         extractGenres(table),
		Subgenres:      extractSubgenres(table),
		Artists:        extractArtists(table),
		Albums:         extractAlbums(table),
		Tracks:         extractTracks(table),
		AudioFeatures:  extractAudioFeatures(table),
		Playlists:      extractPlaylists(table),
		PlaylistTracks: extractPlaylistTracks(table),
	}

	log.Printf(
		"stage=normalize ok genres=%d subgenres=%d artists=%d albums=%d tracks=%d audio_features=%d playlists=%d playlist_tracks=%d",
		len(ds.Genres), len(ds.Subgenres), len(ds.Artists), len(ds.Albums),
		len(ds.Tracks), len(ds.AudioFeatures), len(ds.Playlists), len(ds.PlaylistTracks),
	)
	return ds, nil
}

// readTable parses the CSV and canonicalizes its header.
func readTable(r io.Reader) (*rawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		c := CleanColumn(h)
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows are a row-level problem, not a file-level one.
			continue
		}
		rows = append(rows, append([]string(nil), rec...))
	}
	return &rawTable{index: index, rows: rows}, nil
}

func extractGenres(t *rawTable) []catalog.Genre {
	seen := make(map[string]struct{})
	var out []catalog.Genre
	for _, row := range t.rows {
		name := Lower(strings.TrimSpace(t.get(row, "genre")))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, catalog.Genre{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func extractSubgenres(t *rawTable) []catalog.Subgenre {
	seen := make(map[string]struct{})
	var out []catalog.Subgenre
	for _, row := range t.rows {
		name := Lower(strings.TrimSpace(t.get(row, "subgenre")))
		genre := Lower(strings.TrimSpace(t.get(row, "genre")))
		if name == "" || genre == "" {
			continue
		}
		// First occurrence wins for the parent genre.
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, catalog.Subgenre{Name: name, GenreName: genre})
	}
	return out
}

func extractArtists(t *rawTable) []catalog.Artist {
	seen := make(map[string]struct{})
	for _, row := range t.rows {
		for _, a := range SplitArtists(t.get(row, "artists")) {
			seen[a] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for a := range seen {
		names = append(names, a)
	}
	sort.Strings(names)
	out := make([]catalog.Artist, len(names))
	for i, n := range names {
		out[i] = catalog.Artist{Name: n}
	}
	return out
}

func extractAlbums(t *rawTable) []catalog.Album {
	seen := make(map[string]struct{})
	var out []catalog.Album
	for _, row := range t.rows {
		id := strings.TrimSpace(t.get(row, "album_id"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		principal := ""
		if artists := SplitArtists(t.get(row, "artists")); len(artists) > 0 {
			principal = artists[0]
		}
		out = append(out, catalog.Album{
			ID:              id,
			Name:            strings.TrimSpace(t.get(row, "album_name")),
			ReleaseDate:     ParseDate(t.get(row, "release_date")),
			PrincipalArtist: principal,
		})
	}
	return out
}

func extractTracks(t *rawTable) []catalog.Track {
	seen := make(map[string]struct{})
	var out []catalog.Track
	for _, row := range t.rows {
		id := strings.TrimSpace(t.get(row, "track_id"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog.Track{
			ID:         id,
			Name:       strings.TrimSpace(t.get(row, "track_name")),
			DurationMS: toInt(t.get(row, "duration_ms")),
			Popularity: toInt(t.get(row, "track_popularity")),
			AlbumID:    strings.TrimSpace(t.get(row, "album_id")),
		})
	}
	return out
}

func extractAudioFeatures(t *rawTable) []catalog.AudioFeatures {
	seen := make(map[string]struct{})
	var out []catalog.AudioFeatures
	for _, row := range t.rows {
		id := strings.TrimSpace(t.get(row, "track_id"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog.AudioFeatures{
			TrackID:          id,
			Energy:           toFloat(t.get(row, "energy")),
			Tempo:            toFloat(t.get(row, "tempo")),
			Danceability:     toFloat(t.get(row, "danceability")),
			Loudness:         toFloat(t.get(row, "loudness")),
			Liveness:         toFloat(t.get(row, "liveness")),
			Valence:          toFloat(t.get(row, "valence")),
			Speechiness:      toFloat(t.get(row, "speechiness")),
			Acousticness:     toFloat(t.get(row, "acousticness")),
			Instrumentalness: toFloat(t.get(row, "instrumentalness")),
			Key:              toInt(t.get(row, "key")),
			Mode:             toInt(t.get(row, "mode")),
			TimeSignature:    toInt(t.get(row, "time_signature")),
		})
	}
	return out
}

func extractPlaylists(t *rawTable) []catalog.Playlist {
	seen := make(map[string]struct{})
	var out []catalog.Playlist
	for _, row := range t.rows {
		id := strings.TrimSpace(t.get(row, "playlist_id"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog.Playlist{
			ID:           id,
			Name:         strings.TrimSpace(t.get(row, "playlist_name")),
			SubgenreName: Lower(strings.TrimSpace(t.get(row, "subgenre"))),
		})
	}
	return out
}

func extractPlaylistTracks(t *rawTable) []catalog.PlaylistTrack {
	type link struct{ p, t string }
	seen := make(map[link]struct{})
	var out []catalog.PlaylistTrack
	for _, row := range t.rows {
		p := strings.TrimSpace(t.get(row, "playlist_id"))
		tr := strings.TrimSpace(t.get(row, "track_id"))
		if p == "" || tr == "" {
			continue
		}
		k := link{p, tr}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, catalog.PlaylistTrack{PlaylistID: p, TrackID: tr})
	}
	return out
}
