package catalog

// JSONDocument is the top-level shape of the JSON projection of the XML
// export. The same struct serves as the file format (encoding/json) and as
// the source of the document-store load, so the two stay structurally
// identical even though their contents are independent projections.
type JSONDocument struct {
	GeneratedAt    string         `json:"generated_at"`
	TotalPlaylists int            `json:"total_playlists"`
	TotalTracks    int            `json:"total_tracks"`
	Playlists      []JSONPlaylist `json:"playlists"`
}

type JSONPlaylist struct {
	ID          string      `json:"id" bson:"id"`
	Name        string      `json:"name" bson:"name"`
	Genre       string      `json:"genre" bson:"genre"`
	Subgenre    string      `json:"subgenre" bson:"subgenre"`
	TracksCount int         `json:"tracks_count" bson:"tracks_count"`
	Tracks      []JSONTrack `json:"tracks" bson:"tracks"`
}

type JSONTrack struct {
	ID         string `json:"id" bson:"id"`
	Name       string `json:"name" bson:"name"`
	DurationMS int    `json:"duration_ms" bson:"duration_ms"`
	Duration   string `json:"duration" bson:"duration"`
	Popularity int    `json:"popularity" bson:"popularity"`
	Album      string `json:"album" bson:"album"`
	Artist     string `json:"artist" bson:"artist"`
}
