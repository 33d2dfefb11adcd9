package xmlschema

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Issue is one validation finding, pinned to a line of the input.
type Issue struct {
	Line    int
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

// ValidateDTD checks a document against the structural rules of the DTD:
// element nesting, sequence order, occurrence counts and required
// attributes. An empty result means the document conforms.
func ValidateDTD(data []byte) []Issue {
	root, issues := parseTree(data)
	if root == nil {
		return issues
	}
	if root.name != "spotify_data" {
		issues = append(issues, Issue{root.line, fmt.Sprintf("root element is <%s>, want <spotify_data>", root.name)})
		return issues
	}
	checkElement(root, &issues)
	return issues
}

// ValidateXSD checks the structural rules and, on top of them, the datatypes
// the XML Schema declares: integer attributes, float features, the date
// pattern and the MM:SS duration pattern.
func ValidateXSD(data []byte) []Issue {
	issues := ValidateDTD(data)
	root, _ := parseTree(data)
	if root == nil || root.name != "spotify_data" {
		return issues
	}
	checkTypes(root, &issues)
	return issues
}

/* ---------- document tree ---------- */

type node struct {
	name     string
	line     int
	attrs    map[string]string
	children []*node
	text     string
}

// parseTree materializes the document with per-element line numbers.
// Well-formedness errors end the parse; a single malformed-XML issue is
// returned in that case.
func parseTree(data []byte) (*node, []Issue) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root *node
	var stack []*node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		line := lineAt(data, dec.InputOffset())
		if err != nil {
			return nil, []Issue{{line, "malformed xml: " + err.Error()}}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{
				name:  t.Name.Local,
				line:  line,
				attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, []Issue{{line, "multiple root elements"}}
				}
				root = n
			} else {
				top := stack[len(stack)-1]
				top.children = append(top.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}

	if root == nil {
		return nil, []Issue{{1, "empty document"}}
	}
	return root, nil
}

// lineAt converts a byte offset into a 1-based line number.
func lineAt(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}

/* ---------- structural rules ---------- */

type childSpec struct {
	name string
	min  int
	max  int // -1 means unbounded
}

type elemSpec struct {
	attrs    []string
	children []childSpec
}

// specs encodes the content models. Child order is the required sequence
// order.
var specs = map[string]elemSpec{
	"spotify_data": {
		attrs:    []string{"generated_at", "total_playlists", "total_tracks"},
		children: []childSpec{{"playlists", 1, 1}},
	},
	"playlists": {
		children: []childSpec{{"playlist", 0, -1}},
	},
	"playlist": {
		attrs: []string{"id"},
		children: []childSpec{
			{"name", 1, 1}, {"genre", 1, 1}, {"subgenre", 1, 1}, {"tracks", 1, 1},
		},
	},
	"tracks": {
		attrs:    []string{"count"},
		children: []childSpec{{"track", 0, -1}},
	},
	"track": {
		attrs: []string{"id"},
		children: []childSpec{
			{"name", 1, 1}, {"duration", 1, 1}, {"popularity", 1, 1},
			{"album", 1, 1}, {"artist", 1, 1}, {"audio_features", 0, 1},
		},
	},
	"duration": {attrs: []string{"ms"}},
	"album": {
		attrs: []string{"id"},
		children: []childSpec{
			{"name", 1, 1}, {"release_date", 0, 1},
		},
	},
	"artist": {
		children: []childSpec{{"name", 1, 1}},
	},
	"audio_features": {
		children: []childSpec{
			{"energy", 0, 1}, {"tempo", 0, 1}, {"danceability", 0, 1},
			{"loudness", 0, 1}, {"valence", 0, 1}, {"liveness", 0, 1},
			{"speechiness", 0, 1}, {"acousticness", 0, 1}, {"instrumentalness", 0, 1},
		},
	},
	"name":             {},
	"genre":            {},
	"subgenre":         {},
	"popularity":       {},
	"release_date":     {},
	"energy":           {},
	"tempo":            {},
	"danceability":     {},
	"loudness":         {},
	"valence":          {},
	"liveness":         {},
	"speechiness":      {},
	"acousticness":     {},
	"instrumentalness": {},
}

func checkElement(n *node, issues *[]Issue) {
	spec, known := specs[n.name]
	if !known {
		*issues = append(*issues, Issue{n.line, fmt.Sprintf("unexpected element <%s>", n.name)})
		return
	}

	for _, a := range spec.attrs {
		if _, ok := n.attrs[a]; !ok {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<%s> missing required attribute %q", n.name, a)})
		}
	}

	checkChildren(n, spec, issues)

	if len(spec.children) == 0 && len(n.children) > 0 {
		c := n.children[0]
		*issues = append(*issues, Issue{c.line, fmt.Sprintf("<%s> must not contain elements, found <%s>", n.name, c.name)})
	}

	for _, c := range n.children {
		checkElement(c, issues)
	}
}

// checkChildren validates a child sequence against the content model:
// every child must be declared, appear in declared order, and respect its
// occurrence bounds.
func checkChildren(n *node, spec elemSpec, issues *[]Issue) {
	if len(spec.children) == 0 {
		return
	}

	pos := make(map[string]int, len(spec.children))
	counts := make([]int, len(spec.children))
	for i, cs := range spec.children {
		pos[cs.name] = i
	}

	last := -1
	for _, c := range n.children {
		i, ok := pos[c.name]
		if !ok {
			*issues = append(*issues, Issue{c.line, fmt.Sprintf("<%s> not allowed inside <%s>", c.name, n.name)})
			continue
		}
		if i < last {
			*issues = append(*issues, Issue{c.line, fmt.Sprintf("<%s> out of order inside <%s>", c.name, n.name)})
		}
		last = i
		counts[i]++
	}

	for i, cs := range spec.children {
		if counts[i] < cs.min {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<%s> requires <%s>", n.name, cs.name)})
		}
		if cs.max >= 0 && counts[i] > cs.max {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<%s> allows at most %d <%s>", n.name, cs.max, cs.name)})
		}
	}
}

/* ---------- datatype rules ---------- */

var (
	durationPattern = regexp.MustCompile(`^[0-9]{2,}:[0-9]{2}$`)
	datePattern     = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

// intAttrs maps element name to attributes that must be non-negative
// integers.
var intAttrs = map[string][]string{
	"spotify_data": {"total_playlists", "total_tracks"},
	"tracks":       {"count"},
	"duration":     {"ms"},
}

// floatElems are the leaf elements typed xs:double.
var floatElems = map[string]bool{
	"energy": true, "tempo": true, "danceability": true,
	"loudness": true, "valence": true, "liveness": true,
	"speechiness": true, "acousticness": true, "instrumentalness": true,
}

func checkTypes(n *node, issues *[]Issue) {
	for _, a := range intAttrs[n.name] {
		v, ok := n.attrs[a]
		if !ok {
			continue // already reported structurally
		}
		if u, err := strconv.Atoi(v); err != nil || u < 0 {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<%s> attribute %q: %q is not a non-negative integer", n.name, a, v)})
		}
	}

	text := strings.TrimSpace(n.text)
	switch {
	case n.name == "duration":
		if !durationPattern.MatchString(text) {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<duration> text %q does not match MM:SS", text)})
		}
	case n.name == "popularity":
		if u, err := strconv.Atoi(text); err != nil || u < 0 {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<popularity> %q is not a non-negative integer", text)})
		}
	case n.name == "release_date":
		if !datePattern.MatchString(text) {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<release_date> %q is not an ISO-8601 date", text)})
		}
	case floatElems[n.name]:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			*issues = append(*issues, Issue{n.line, fmt.Sprintf("<%s> %q is not a number", n.name, text)})
		}
	}

	for _, c := range n.children {
		checkTypes(c, issues)
	}
}
