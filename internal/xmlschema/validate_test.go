package xmlschema

import (
	"strings"
	"testing"
	"time"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/xmlexport"
)

func validDocument(t *testing.T) []byte {
	t.Helper()
	rel := "2017-03-01"
	energy := 0.65
	rows := []catalog.ExportRow{
		{
			PlaylistID: "p1", PlaylistName: "Pop Hits", Genre: "pop", Subgenre: "dance pop",
			TrackID: "t1", TrackName: "Shape of You", DurationMS: 233712, Popularity: 86,
			AlbumID: "a1", AlbumName: "Divide", ReleaseDate: &rel, Artist: "ed sheeran",
			Energy: &energy,
		},
		{
			PlaylistID: "p1", PlaylistName: "Pop Hits", Genre: "pop", Subgenre: "dance pop",
			TrackID: "t2", TrackName: "Perfect", DurationMS: 263400, Popularity: 84,
			AlbumID: "a1", AlbumName: "Divide", Artist: "ed sheeran",
		},
	}
	doc := xmlexport.Group(rows, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	data, err := xmlexport.Marshal(doc, "spotify_data.dtd")
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestValidDocumentPassesBoth(t *testing.T) {
	t.Parallel()

	data := validDocument(t)
	if issues := ValidateDTD(data); len(issues) != 0 {
		t.Errorf("dtd issues on valid document: %v", issues)
	}
	if issues := ValidateXSD(data); len(issues) != 0 {
		t.Errorf("xsd issues on valid document: %v", issues)
	}
}

func TestEmptyPlaylistsIsValid(t *testing.T) {
	t.Parallel()

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<spotify_data generated_at="2026-01-01T00:00:00" total_playlists="0" total_tracks="0">
  <playlists></playlists>
</spotify_data>
`
	if issues := ValidateXSD([]byte(doc)); len(issues) != 0 {
		t.Errorf("issues on empty document: %v", issues)
	}
}

func TestMalformedXML(t *testing.T) {
	t.Parallel()

	issues := ValidateDTD([]byte("<spotify_data><playlists></spotify_data>"))
	if len(issues) != 1 || !strings.Contains(issues[0].Message, "malformed") {
		t.Fatalf("issues = %v", issues)
	}
}

func TestWrongRoot(t *testing.T) {
	t.Parallel()

	issues := ValidateDTD([]byte("<music/>"))
	if len(issues) != 1 || !strings.Contains(issues[0].Message, "spotify_data") {
		t.Fatalf("issues = %v", issues)
	}
}

const brokenDoc = `<?xml version="1.0" encoding="UTF-8"?>
<spotify_data generated_at="x" total_playlists="1" total_tracks="1">
  <playlists>
    <playlist>
      <genre>pop</genre>
      <name>Out Of Order</name>
      <subgenre>dance pop</subgenre>
      <tracks count="1">
        <track id="t1">
          <name>Song</name>
          <duration ms="90000">01:30</duration>
          <popularity>10</popularity>
          <album id="a1"><name>A</name></album>
          <artist><name>x</name></artist>
          <bitrate>320</bitrate>
        </track>
      </tracks>
    </playlist>
  </playlists>
</spotify_data>
`

func TestStructuralIssuesWithLines(t *testing.T) {
	t.Parallel()

	issues := ValidateDTD([]byte(brokenDoc))

	wantSubstrings := []string{
		`missing required attribute "id"`, // playlist has no id
		"out of order",                    // name after genre
		"not allowed",                     // bitrate
	}
	for _, want := range wantSubstrings {
		found := false
		for _, iss := range issues {
			if strings.Contains(iss.Message, want) {
				found = true
				if iss.Line <= 1 {
					t.Errorf("issue %q has no useful line: %d", iss.Message, iss.Line)
				}
			}
		}
		if !found {
			t.Errorf("no issue containing %q in %v", want, issues)
		}
	}
}

func TestMissingRequiredChild(t *testing.T) {
	t.Parallel()

	doc := `<spotify_data generated_at="x" total_playlists="1" total_tracks="0">
  <playlists>
    <playlist id="p1">
      <name>No Tracks Element</name>
      <genre>pop</genre>
      <subgenre>dance pop</subgenre>
    </playlist>
  </playlists>
</spotify_data>`

	issues := ValidateDTD([]byte(doc))
	found := false
	for _, iss := range issues {
		if strings.Contains(iss.Message, "<playlist> requires <tracks>") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no missing-child issue in %v", issues)
	}
}

const badTypesDoc = `<spotify_data generated_at="x" total_playlists="one" total_tracks="1">
  <playlists>
    <playlist id="p1">
      <name>n</name>
      <genre>g</genre>
      <subgenre>s</subgenre>
      <tracks count="1">
        <track id="t1">
          <name>n</name>
          <duration ms="abc">1:3</duration>
          <popularity>-5</popularity>
          <album id="a1">
            <name>a</name>
            <release_date>March 2017</release_date>
          </album>
          <artist><name>x</name></artist>
          <audio_features><energy>loud</energy></audio_features>
        </track>
      </tracks>
    </playlist>
  </playlists>
</spotify_data>`

func TestTypeIssues(t *testing.T) {
	t.Parallel()

	// Structurally fine, so the DTD pass is clean.
	if issues := ValidateDTD([]byte(badTypesDoc)); len(issues) != 0 {
		t.Fatalf("unexpected structural issues: %v", issues)
	}

	issues := ValidateXSD([]byte(badTypesDoc))
	wantSubstrings := []string{
		`"one" is not a non-negative integer`,
		`"abc" is not a non-negative integer`,
		"does not match MM:SS",
		`<popularity> "-5"`,
		"not an ISO-8601 date",
		`<energy> "loud" is not a number`,
	}
	for _, want := range wantSubstrings {
		found := false
		for _, iss := range issues {
			if strings.Contains(iss.String(), want) {
				found = true
			}
		}
		if !found {
			t.Errorf("no issue containing %q in %v", want, issues)
		}
	}
}
