// Package render derives the two human- and machine-readable views of an
// exported document: a static HTML report and the JSON form that feeds the
// document store.
package render

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/xmlexport"
)

// reportTemplate renders the whole report from one Document. Escaping of
// names and ids is handled by html/template.
var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Music Catalog Report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { border-bottom: 2px solid #1db954; padding-bottom: 0.3em; }
p.meta { color: #666; }
section.playlist { margin-bottom: 2.5em; }
h2 { margin-bottom: 0.2em; }
p.genre { color: #666; margin-top: 0; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; }
th { background: #f4f4f4; }
td.num { text-align: right; }
</style>
</head>
<body>
<h1>Music Catalog Report</h1>
<p class="meta">Generated {{.GeneratedAt}} &middot; {{.TotalPlaylists}} playlists &middot; {{.TotalTracks}} tracks</p>
{{range .Playlists.Items}}<section class="playlist">
<h2>{{.Name}}</h2>
<p class="genre">{{.Genre}} / {{.Subgenre}} &middot; {{.Tracks.Count}} tracks &middot; id {{.ID}}</p>
<table>
<tr><th>Track</th><th>Artist</th><th>Album</th><th>Released</th><th>Duration</th><th>Popularity</th></tr>
{{range .Tracks.Items}}<tr>
<td>{{.Name}}</td>
<td>{{.Artist.Name}}</td>
<td>{{.Album.Name}}</td>
<td>{{.Album.ReleaseDate}}</td>
<td class="num">{{.Duration.Text}}</td>
<td class="num">{{.Popularity}}</td>
</tr>
{{end}}</table>
</section>
{{end}}</body>
</html>
`))

// WriteHTML renders the report for doc into path.
func WriteHTML(path string, doc xmlexport.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, doc); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}

// FromDocument projects the XML document onto the JSON shape. Empty release
// dates and absent audio features simply do not appear; JSON consumers get
// the flat per-track record.
func FromDocument(doc xmlexport.Document) catalog.JSONDocument {
	out := catalog.JSONDocument{
		GeneratedAt:    doc.GeneratedAt,
		TotalPlaylists: doc.TotalPlaylists,
		TotalTracks:    doc.TotalTracks,
		Playlists:      make([]catalog.JSONPlaylist, 0, len(doc.Playlists.Items)),
	}
	for _, p := range doc.Playlists.Items {
		jp := catalog.JSONPlaylist{
			ID:          p.ID,
			Name:        p.Name,
			Genre:       p.Genre,
			Subgenre:    p.Subgenre,
			TracksCount: p.Tracks.Count,
			Tracks:      make([]catalog.JSONTrack, 0, len(p.Tracks.Items)),
		}
		for _, t := range p.Tracks.Items {
			jp.Tracks = append(jp.Tracks, catalog.JSONTrack{
				ID:         t.ID,
				Name:       t.Name,
				DurationMS: t.Duration.MS,
				Duration:   t.Duration.Text,
				Popularity: t.Popularity,
				Album:      t.Album.Name,
				Artist:     t.Artist.Name,
			})
		}
		out.Playlists = append(out.Playlists, jp)
	}
	return out
}

// WriteJSON writes the projected document as indented JSON.
func WriteJSON(path string, doc catalog.JSONDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
