// Package catalog defines the entity rows produced by CSV normalization and
// the denormalized row shape read back from the relational store for export.
//
// These are plain data structs on purpose: normalization, loading and export
// all pass them around, and keeping them free of behavior keeps every stage
// testable without I/O.
package catalog

// Genre is a deduplicated genre name. The surrogate id is generated by the
// relational store at insert time and never lives on this struct.
type Genre struct {
	Name string
}

// Subgenre carries its parent genre by natural key (lowercased name).
// The parent is resolved to a surrogate id at load time; a subgenre whose
// genre cannot be resolved is dropped, not inserted with a null parent.
type Subgenre struct {
	Name      string
	GenreName string
}

// Artist is a deduplicated, lowercased artist name.
type Artist struct {
	Name string
}

// Album keeps its source-supplied natural id. PrincipalArtist is the first
// surviving token of the raw collaboration string for any row referencing
// this album.
type Album struct {
	ID              string
	Name            string
	ReleaseDate     *string // canonical YYYY-MM-DD, nil when unparsable
	PrincipalArtist string
}

// Track keeps its source-supplied natural id and references its album by
// natural id.
type Track struct {
	ID         string
	Name       string
	DurationMS int
	Popularity int
	AlbumID    string
}

// AudioFeatures is 1:1 with Track by natural key. Float fields are nil when
// the source value could not be coerced; integer fields default to zero.
type AudioFeatures struct {
	TrackID string

	Energy           *float64
	Tempo            *float64
	Danceability     *float64
	Loudness         *float64
	Liveness         *float64
	Valence          *float64
	Speechiness      *float64
	Acousticness     *float64
	Instrumentalness *float64

	Key           int
	Mode          int
	TimeSignature int
}

// Playlist references its subgenre by natural key (lowercased name).
type Playlist struct {
	ID           string
	Name         string
	SubgenreName string
}

// PlaylistTrack is the N:M link between playlists and tracks.
type PlaylistTrack struct {
	PlaylistID string
	TrackID    string
}

// Datasets is the full output of a normalization run: eight in-memory
// tabular datasets, each already deduplicated on its natural key.
type Datasets struct {
	Genres         []Genre
	Subgenres      []Subgenre
	Artists        []Artist
	Albums         []Album
	Tracks         []Track
	AudioFeatures  []AudioFeatures
	Playlists      []Playlist
	PlaylistTracks []PlaylistTrack
}

// ExportRow is one row of the denormalized 8-table join used exclusively to
// feed XML export. Audio-feature columns come from a LEFT JOIN and are nil
// when the track has no features row.
type ExportRow struct {
	PlaylistID   string
	PlaylistName string
	Subgenre     string
	Genre        string

	TrackID    string
	TrackName  string
	DurationMS int
	Popularity int

	AlbumID     string
	AlbumName   string
	ReleaseDate *string

	Artist string

	Energy           *float64
	Tempo            *float64
	Danceability     *float64
	Loudness         *float64
	Valence          *float64
	Liveness         *float64
	Speechiness      *float64
	Acousticness     *float64
	Instrumentalness *float64
}
