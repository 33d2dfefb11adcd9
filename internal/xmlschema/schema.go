// Package xmlschema owns the two formal descriptions of the export document,
// a DTD and an XML Schema, and validates exported files against them.
//
// Validation is native: the documents the pipeline emits are small enough to
// check in-process, and the diagnostics carry line numbers so a broken export
// can be traced to the element that caused it.
package xmlschema

import (
	"fmt"
	"os"
)

// DTD is the document type definition for the export document.
const DTD = `<!ELEMENT spotify_data (playlists)>
<!ATTLIST spotify_data
  generated_at CDATA #REQUIRED
  total_playlists CDATA #REQUIRED
  total_tracks CDATA #REQUIRED>

<!ELEMENT playlists (playlist*)>

<!ELEMENT playlist (name, genre, subgenre, tracks)>
<!ATTLIST playlist id CDATA #REQUIRED>

<!ELEMENT tracks (track*)>
<!ATTLIST tracks count CDATA #REQUIRED>

<!ELEMENT track (name, duration, popularity, album, artist, audio_features?)>
<!ATTLIST track id CDATA #REQUIRED>

<!ELEMENT duration (#PCDATA)>
<!ATTLIST duration ms CDATA #REQUIRED>

<!ELEMENT album (name, release_date?)>
<!ATTLIST album id CDATA #REQUIRED>

<!ELEMENT artist (name)>

<!ELEMENT audio_features (energy?, tempo?, danceability?, loudness?, valence?, liveness?, speechiness?, acousticness?, instrumentalness?)>

<!ELEMENT name (#PCDATA)>
<!ELEMENT genre (#PCDATA)>
<!ELEMENT subgenre (#PCDATA)>
<!ELEMENT popularity (#PCDATA)>
<!ELEMENT release_date (#PCDATA)>
<!ELEMENT energy (#PCDATA)>
<!ELEMENT tempo (#PCDATA)>
<!ELEMENT danceability (#PCDATA)>
<!ELEMENT loudness (#PCDATA)>
<!ELEMENT valence (#PCDATA)>
<!ELEMENT liveness (#PCDATA)>
<!ELEMENT speechiness (#PCDATA)>
<!ELEMENT acousticness (#PCDATA)>
<!ELEMENT instrumentalness (#PCDATA)>
`

// XSD is the XML Schema for the export document. It adds datatypes on top of
// the DTD's structure.
const XSD = `<?xml version="1.0" encoding="UTF-8"?>
<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">

  <xs:element name="spotify_data">
    <xs:complexType>
      <xs:sequence>
        <xs:element ref="playlists"/>
      </xs:sequence>
      <xs:attribute name="generated_at" type="xs:string" use="required"/>
      <xs:attribute name="total_playlists" type="xs:nonNegativeInteger" use="required"/>
      <xs:attribute name="total_tracks" type="xs:nonNegativeInteger" use="required"/>
    </xs:complexType>
  </xs:element>

  <xs:element name="playlists">
    <xs:complexType>
      <xs:sequence>
        <xs:element ref="playlist" minOccurs="0" maxOccurs="unbounded"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>

  <xs:element name="playlist">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="name" type="xs:string"/>
        <xs:element name="genre" type="xs:string"/>
        <xs:element name="subgenre" type="xs:string"/>
        <xs:element ref="tracks"/>
      </xs:sequence>
      <xs:attribute name="id" type="xs:string" use="required"/>
    </xs:complexType>
  </xs:element>

  <xs:element name="tracks">
    <xs:complexType>
      <xs:sequence>
        <xs:element ref="track" minOccurs="0" maxOccurs="unbounded"/>
      </xs:sequence>
      <xs:attribute name="count" type="xs:nonNegativeInteger" use="required"/>
    </xs:complexType>
  </xs:element>

  <xs:element name="track">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="name" type="xs:string"/>
        <xs:element ref="duration"/>
        <xs:element name="popularity" type="xs:nonNegativeInteger"/>
        <xs:element ref="album"/>
        <xs:element ref="artist"/>
        <xs:element ref="audio_features" minOccurs="0"/>
      </xs:sequence>
      <xs:attribute name="id" type="xs:string" use="required"/>
    </xs:complexType>
  </xs:element>

  <xs:element name="duration">
    <xs:complexType>
      <xs:simpleContent>
        <xs:extension base="durationText">
          <xs:attribute name="ms" type="xs:nonNegativeInteger" use="required"/>
        </xs:extension>
      </xs:simpleContent>
    </xs:complexType>
  </xs:element>

  <xs:element name="album">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="name" type="xs:string"/>
        <xs:element name="release_date" type="xs:date" minOccurs="0"/>
      </xs:sequence>
      <xs:attribute name="id" type="xs:string" use="required"/>
    </xs:complexType>
  </xs:element>

  <xs:element name="artist">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="name" type="xs:string"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>

  <xs:element name="audio_features">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="energy" type="xs:double" minOccurs="0"/>
        <xs:element name="tempo" type="xs:double" minOccurs="0"/>
        <xs:element name="danceability" type="xs:double" minOccurs="0"/>
        <xs:element name="loudness" type="xs:double" minOccurs="0"/>
        <xs:element name="valence" type="xs:double" minOccurs="0"/>
        <xs:element name="liveness" type="xs:double" minOccurs="0"/>
        <xs:element name="speechiness" type="xs:double" minOccurs="0"/>
        <xs:element name="acousticness" type="xs:double" minOccurs="0"/>
        <xs:element name="instrumentalness" type="xs:double" minOccurs="0"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>

  <xs:simpleType name="durationText">
    <xs:restriction base="xs:string">
      <xs:pattern value="[0-9]{2,}:[0-9]{2}"/>
    </xs:restriction>
  </xs:simpleType>

</xs:schema>
`

// WriteDTD writes the DTD to path.
func WriteDTD(path string) error {
	if err := os.WriteFile(path, []byte(DTD), 0o644); err != nil {
		return fmt.Errorf("write dtd %s: %w", path, err)
	}
	return nil
}

// WriteXSD writes the XML Schema to path.
func WriteXSD(path string) error {
	if err := os.WriteFile(path, []byte(XSD), 0o644); err != nil {
		return fmt.Errorf("write xsd %s: %w", path, err)
	}
	return nil
}
