package metadata

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/mjarn/repoq/internal/store"
)

// XMLSource streams a primary.xml document. Package elements are decoded one
// at a time in document order; the whole document is never held in memory.
//
// Known limitation carried from upstream tooling: primary.xml carries no
// weak-dependency elements, so suggests/recommends/enhances/supplements stay
// empty for XML-imported repositories.
type XMLSource struct {
	r io.Reader
	c io.Closer
}

// NewXMLSource wraps an uncompressed primary.xml stream. The optional closer
// is closed by Close.
func NewXMLSource(r io.Reader, c io.Closer) *XMLSource {
	return &XMLSource{r: r, c: c}
}

// Close closes the underlying stream, if any.
func (s *XMLSource) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

type xmlVersion struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type xmlChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlSize struct {
	Package   int64 `xml:"package,attr"`
	Installed int64 `xml:"installed,attr"`
	Archive   int64 `xml:"archive,attr"`
}

type xmlLocation struct {
	Href string `xml:"href,attr"`
	Base string `xml:"base,attr"`
}

type xmlEntry struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr"`
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
	Pre   string `xml:"pre,attr"`
}

type xmlEntryList struct {
	Entries []xmlEntry `xml:"entry"`
}

type xmlFile struct {
	Type string `xml:"type,attr"`
	Path string `xml:",chardata"`
}

type xmlFormat struct {
	SourceRPM string       `xml:"sourcerpm"`
	Provides  xmlEntryList `xml:"provides"`
	Requires  xmlEntryList `xml:"requires"`
	Conflicts xmlEntryList `xml:"conflicts"`
	Obsoletes xmlEntryList `xml:"obsoletes"`
	Files     []xmlFile    `xml:"file"`
}

type xmlPackage struct {
	Type        string      `xml:"type,attr"`
	Name        string      `xml:"name"`
	Arch        string      `xml:"arch"`
	Version     xmlVersion  `xml:"version"`
	Checksum    xmlChecksum `xml:"checksum"`
	Summary     string      `xml:"summary"`
	Description string      `xml:"description"`
	URL         string      `xml:"url"`
	Size        xmlSize     `xml:"size"`
	Location    xmlLocation `xml:"location"`
	Format      xmlFormat   `xml:"format"`
}

// ForEach streams package elements in document order. The declared package
// count on the <metadata> element is checked against the number of elements
// actually seen; a mismatch is an *ImportError.
func (s *XMLSource) ForEach(fn func(e *PackageEntry) error) error {
	dec := xml.NewDecoder(s.r)

	declared := -1
	seen := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ImportError{Reason: "primary.xml parse failed", Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "metadata":
			for _, a := range start.Attr {
				if a.Name.Local == "packages" {
					if n, err := strconv.Atoi(a.Value); err == nil {
						declared = n
					}
				}
			}
		case "package":
			var xp xmlPackage
			if err := dec.DecodeElement(&xp, &start); err != nil {
				return &ImportError{Reason: "primary.xml package parse failed", Err: err}
			}
			seen++
			if err := fn(entryFromXML(&xp)); err != nil {
				return err
			}
		default:
			if err := dec.Skip(); err != nil {
				return &ImportError{Reason: "primary.xml parse failed", Err: err}
			}
		}
	}

	if declared < 0 {
		return &ImportError{Reason: "primary.xml has no metadata element"}
	}
	if declared != seen {
		return &ImportError{Reason: "primary.xml declared " + strconv.Itoa(declared) + " packages, found " + strconv.Itoa(seen)}
	}
	return nil
}

func entryFromXML(xp *xmlPackage) *PackageEntry {
	epoch := xp.Version.Epoch
	if epoch == "" {
		epoch = "0"
	}
	e := &PackageEntry{
		Package: store.Package{
			PkgID:         xp.Checksum.Value,
			Name:          xp.Name,
			Epoch:         epoch,
			Version:       xp.Version.Ver,
			Release:       xp.Version.Rel,
			Arch:          xp.Arch,
			Summary:       xp.Summary,
			Description:   xp.Description,
			URL:           xp.URL,
			ChecksumType:  xp.Checksum.Type,
			SizePackage:   xp.Size.Package,
			SizeInstalled: xp.Size.Installed,
			SizeArchive:   xp.Size.Archive,
			LocationHref:  xp.Location.Href,
			LocationBase:  xp.Location.Base,
			SourceRPM:     xp.Format.SourceRPM,
		},
	}
	e.Deps = appendEntries(e.Deps, store.DepProvides, xp.Format.Provides.Entries)
	e.Deps = appendEntries(e.Deps, store.DepRequires, xp.Format.Requires.Entries)
	e.Deps = appendEntries(e.Deps, store.DepConflicts, xp.Format.Conflicts.Entries)
	e.Deps = appendEntries(e.Deps, store.DepObsoletes, xp.Format.Obsoletes.Entries)
	for _, f := range xp.Format.Files {
		typ := f.Type
		if typ == "" {
			typ = "file"
		}
		e.Files = append(e.Files, store.File{Path: f.Path, Type: typ})
	}
	return e
}

func appendEntries(deps []store.Dep, kind string, entries []xmlEntry) []store.Dep {
	for _, en := range entries {
		deps = append(deps, store.Dep{
			Kind:    kind,
			Name:    en.Name,
			Flags:   en.Flags,
			Epoch:   en.Epoch,
			Version: en.Ver,
			Release: en.Rel,
			Pre:     en.Pre == "1" || en.Pre == "TRUE" || en.Pre == "true",
		})
	}
	return deps
}
