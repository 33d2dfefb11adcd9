// Package xmlexport turns the denormalized export rows back into the nested
// playlist document and serializes it.
//
// The document shape is stable and consumed by three parties: the schema
// validators, the HTML report, and the JSON conversion feeding the document
// store. Field order in the structs is load-bearing; it defines element
// order in the output.
package xmlexport

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"time"

	"spotifyetl/internal/catalog"
)

// Document is the root <spotify_data> element.
type Document struct {
	XMLName        xml.Name     `xml:"spotify_data"`
	GeneratedAt    string       `xml:"generated_at,attr"`
	TotalPlaylists int          `xml:"total_playlists,attr"`
	TotalTracks    int          `xml:"total_tracks,attr"`
	Playlists      PlaylistList `xml:"playlists"`
}

// PlaylistList is the <playlists> wrapper.
type PlaylistList struct {
	Items []Playlist `xml:"playlist"`
}

// Playlist is one <playlist> element.
type Playlist struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"name"`
	Genre    string    `xml:"genre"`
	Subgenre string    `xml:"subgenre"`
	Tracks   TrackList `xml:"tracks"`
}

// TrackList is the <tracks> wrapper carrying its own count attribute.
type TrackList struct {
	Count int     `xml:"count,attr"`
	Items []Track `xml:"track"`
}

// Track is one <track> element.
type Track struct {
	ID            string         `xml:"id,attr"`
	Name          string         `xml:"name"`
	Duration      Duration       `xml:"duration"`
	Popularity    int            `xml:"popularity"`
	Album         Album          `xml:"album"`
	Artist        Artist         `xml:"artist"`
	AudioFeatures *AudioFeatures `xml:"audio_features,omitempty"`
}

// Duration carries the raw millisecond value as an attribute and the human
// MM:SS rendering as element text.
type Duration struct {
	MS   int    `xml:"ms,attr"`
	Text string `xml:",chardata"`
}

// Album is the <album> element. release_date is omitted entirely when the
// source value was NULL.
type Album struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name"`
	ReleaseDate string `xml:"release_date,omitempty"`
}

// Artist is the <artist> element.
type Artist struct {
	Name string `xml:"name"`
}

// AudioFeatures is the optional <audio_features> block. Individual features
// that were NULL are omitted.
type AudioFeatures struct {
	Energy           *float64 `xml:"energy,omitempty"`
	Tempo            *float64 `xml:"tempo,omitempty"`
	Danceability     *float64 `xml:"danceability,omitempty"`
	Loudness         *float64 `xml:"loudness,omitempty"`
	Valence          *float64 `xml:"valence,omitempty"`
	Liveness         *float64 `xml:"liveness,omitempty"`
	Speechiness      *float64 `xml:"speechiness,omitempty"`
	Acousticness     *float64 `xml:"acousticness,omitempty"`
	Instrumentalness *float64 `xml:"instrumentalness,omitempty"`
}

// FormatDuration renders milliseconds as MM:SS. Minutes are not capped at
// 59; a 70-minute audiobook chapter renders as 70:00.
func FormatDuration(ms int) string {
	return fmt.Sprintf("%02d:%02d", ms/60000, (ms%60000)/1000)
}

// Group folds the flat join rows into the nested document. Rows arrive
// ordered by playlist then track; grouping still goes through a map so an
// unordered source cannot split a playlist in two. Playlists are sorted by
// id, tracks keep row order within their playlist.
func Group(rows []catalog.ExportRow, generatedAt time.Time) Document {
	byID := make(map[string]*Playlist)
	var order []string

	for _, r := range rows {
		p, ok := byID[r.PlaylistID]
		if !ok {
			p = &Playlist{
				ID:       r.PlaylistID,
				Name:     r.PlaylistName,
				Genre:    r.Genre,
				Subgenre: r.Subgenre,
			}
			byID[r.PlaylistID] = p
			order = append(order, r.PlaylistID)
		}
		p.Tracks.Items = append(p.Tracks.Items, trackFromRow(r))
	}

	sort.Strings(order)

	doc := Document{
		GeneratedAt:    generatedAt.Format("2006-01-02T15:04:05"),
		TotalPlaylists: len(order),
	}
	for _, id := range order {
		p := byID[id]
		p.Tracks.Count = len(p.Tracks.Items)
		doc.TotalTracks += p.Tracks.Count
		doc.Playlists.Items = append(doc.Playlists.Items, *p)
	}
	return doc
}

func trackFromRow(r catalog.ExportRow) Track {
	t := Track{
		ID:   r.TrackID,
		Name: r.TrackName,
		Duration: Duration{
			MS:   r.DurationMS,
			Text: FormatDuration(r.DurationMS),
		},
		Popularity: r.Popularity,
		Album: Album{
			ID:   r.AlbumID,
			Name: r.AlbumName,
		},
		Artist: Artist{Name: r.Artist},
	}
	if r.ReleaseDate != nil {
		t.Album.ReleaseDate = *r.ReleaseDate
	}
	if af := featuresFromRow(r); af != nil {
		t.AudioFeatures = af
	}
	return t
}

// featuresFromRow returns nil when every feature is absent, which is how a
// missed LEFT JOIN row presents. The whole block is then omitted.
func featuresFromRow(r catalog.ExportRow) *AudioFeatures {
	af := AudioFeatures{
		Energy:           r.Energy,
		Tempo:            r.Tempo,
		Danceability:     r.Danceability,
		Loudness:         r.Loudness,
		Valence:          r.Valence,
		Liveness:         r.Liveness,
		Speechiness:      r.Speechiness,
		Acousticness:     r.Acousticness,
		Instrumentalness: r.Instrumentalness,
	}
	if af == (AudioFeatures{}) {
		return nil
	}
	return &af
}

// Marshal renders the document with the XML declaration and, when dtdName is
// non-empty, a DOCTYPE line referencing the external DTD.
func Marshal(doc Document, dtdName string) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	out := []byte(xml.Header)
	if dtdName != "" {
		out = append(out, []byte(fmt.Sprintf("<!DOCTYPE spotify_data SYSTEM %q>\n", dtdName))...)
	}
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// WriteFile serializes the document to path.
func WriteFile(path string, doc Document, dtdName string) error {
	data, err := Marshal(doc, dtdName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile parses a previously exported document. The DOCTYPE line, when
// present, is skipped by the decoder.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}
