// Package metadata ingests upstream repodata in its two encodings (SQLite
// primary_db and primary.xml) and imports it into the unified store.
package metadata

import (
	"encoding/xml"
	"fmt"
)

// Upstream repomd data entry types this client understands.
const (
	DataPrimaryDB = "primary_db"
	DataPrimary   = "primary"
)

// Repomd models repodata/repomd.xml: the top-level descriptor listing the
// locations and checksums of the repository's metadata files.
//
//	<repomd>
//	    <revision>1485854918</revision>
//	    <data type="primary">...</data>
//	    <data type="primary_db">...</data>
//	</repomd>
type Repomd struct {
	Revision string       `xml:"revision"`
	Data     []RepomdData `xml:"data"`
}

// RepomdData models one <data> entry:
//
//	<data type="primary_db">
//	    <checksum type="sha256">dabe2c...</checksum>
//	    <open-checksum type="sha256">e1e2ff...</open-checksum>
//	    <location href="repodata/dabe2c...-primary.sqlite.bz2"/>
//	    <size>134</size>
//	    <open-size>167</open-size>
//	</data>
type RepomdData struct {
	Type         string         `xml:"type,attr"`
	Checksum     RepomdChecksum `xml:"checksum"`
	OpenChecksum RepomdChecksum `xml:"open-checksum"`
	Location     RepomdLocation `xml:"location"`
	Timestamp    string         `xml:"timestamp"`
	Size         int64          `xml:"size"`
	OpenSize     int64          `xml:"open-size"`
}

// RepomdChecksum models <checksum type="sha256">hex</checksum>.
type RepomdChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// RepomdLocation models <location href="..."/>.
type RepomdLocation struct {
	Href string `xml:"href,attr"`
}

// ParseRepomd decodes a repomd.xml document.
func ParseRepomd(data []byte) (*Repomd, error) {
	var md Repomd
	if err := xml.Unmarshal(data, &md); err != nil {
		return nil, &ImportError{Reason: "repomd.xml parse failed", Err: err}
	}
	return &md, nil
}

// PrimaryEntry returns the preferred primary metadata entry: the SQLite
// primary_db when present, the XML primary otherwise.
func (md *Repomd) PrimaryEntry() (RepomdData, error) {
	for _, want := range []string{DataPrimaryDB, DataPrimary} {
		for _, d := range md.Data {
			if d.Type == want && d.Location.Href != "" {
				return d, nil
			}
		}
	}
	return RepomdData{}, &ImportError{Reason: "repomd.xml has no primary metadata entry"}
}

// ImportError signals malformed or incomplete upstream metadata. It aborts
// the whole import transaction; prior store state is preserved.
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata: %s: %v", e.Reason, e.Err)
	}
	return "metadata: " + e.Reason
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
