package storage

import "fmt"

// Table names of the star schema, in dependency order. Creation and loading
// walk this list forward; drops walk it backward.
const (
	TableGenre         = "sp_genre"
	TableArtist        = "sp_artist"
	TableSubgenre      = "sp_subgenre"
	TableAlbum         = "sp_album"
	TableTrack         = "sp_track"
	TableAudioFeatures = "sp_audio_features"
	TablePlaylist      = "sp_playlist"
	TablePlaylistTrack = "sp_playlist_track"
)

// TableNames returns the schema tables in dependency order.
func TableNames() []string {
	return []string{
		TableGenre,
		TableArtist,
		TableSubgenre,
		TableAlbum,
		TableTrack,
		TableAudioFeatures,
		TablePlaylist,
		TablePlaylistTrack,
	}
}

// exportQueryTemplate is the denormalized join behind ExportRows. The single
// %s slot takes a dialect-specific expression rendering release_date as an
// ISO-8601 text value (or NULL).
const exportQueryTemplate = `SELECT
	p.playlist_id, p.playlist_name, g.genre_name, sg.subgenre_name,
	t.track_id, t.track_name, t.duration_ms, t.popularity,
	al.album_id, al.album_name, %s,
	ar.artist_name,
	af.energy, af.tempo, af.danceability, af.loudness,
	af.valence, af.liveness, af.speechiness, af.acousticness,
	af.instrumentalness
FROM sp_playlist p
JOIN sp_subgenre sg ON sg.subgenre_id = p.subgenre_id
JOIN sp_genre g ON g.genre_id = sg.genre_id
JOIN sp_playlist_track pt ON pt.playlist_id = p.playlist_id
JOIN sp_track t ON t.track_id = pt.track_id
JOIN sp_album al ON al.album_id = t.album_id
JOIN sp_artist ar ON ar.artist_id = al.artist_id
LEFT JOIN sp_audio_features af ON af.track_id = t.track_id
ORDER BY p.playlist_id, t.track_name`

// ExportQuery renders the export join for one dialect. Column order matches
// ScanExportRow.
func ExportQuery(releaseDateExpr string) string {
	return fmt.Sprintf(exportQueryTemplate, releaseDateExpr)
}
