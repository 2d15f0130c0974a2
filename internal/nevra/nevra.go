// Package nevra models RPM package identity (Name-Epoch-Version-Release-Arch)
// and implements rpm-style version comparison and requirement matching.
package nevra

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports a string that could not be parsed as a NEVRA.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nevra: invalid NEVRA string: %q", e.Input)
}

var (
	// Full form: name-[epoch:]version-release.arch
	fullRe = regexp.MustCompile(`^(?P<name>[A-Za-z0-9._+\-]+?)-(?:(?P<epoch>[0-9]+):)?(?P<version>[A-Za-z0-9._+~]+)-(?P<release>[A-Za-z0-9._+~]+)\.(?P<arch>[A-Za-z0-9_]+)$`)
	// Loose form: a bare package or capability name.
	nameRe = regexp.MustCompile(`^[A-Za-z0-9._+\-()/\[\]]+$`)
)

// NEVRA is the canonical package identity tuple. Epoch, Version, Release and
// Arch are empty for a loose name.
type NEVRA struct {
	Name    string
	Epoch   string
	Version string
	Release string
	Arch    string
}

// Parse accepts both loose names ("bash") and full NEVRA strings
// ("bash-0:5.1.8-1.fc34.x86_64"). Epoch defaults to "0" on the full form.
func Parse(s string) (NEVRA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NEVRA{}, &ParseError{Input: s}
	}
	if m := fullRe.FindStringSubmatch(s); m != nil {
		n := NEVRA{
			Name:    m[fullRe.SubexpIndex("name")],
			Epoch:   m[fullRe.SubexpIndex("epoch")],
			Version: m[fullRe.SubexpIndex("version")],
			Release: m[fullRe.SubexpIndex("release")],
			Arch:    m[fullRe.SubexpIndex("arch")],
		}
		if n.Epoch == "" {
			n.Epoch = "0"
		}
		return n, nil
	}
	if nameRe.MatchString(s) {
		return NEVRA{Name: s}, nil
	}
	return NEVRA{}, &ParseError{Input: s}
}

// IsFull reports whether the NEVRA carries version information, i.e. was
// parsed from the full form rather than a loose name.
func (n NEVRA) IsFull() bool {
	return n.Version != "" && n.Release != "" && n.Arch != ""
}

// IsSource reports whether the arch marks a source package.
func (n NEVRA) IsSource() bool {
	return n.Arch == "src" || n.Arch == "nosrc"
}

func (n NEVRA) String() string {
	if !n.IsFull() {
		return n.Name
	}
	e := ""
	if n.Epoch != "" && n.Epoch != "0" {
		e = n.Epoch + ":"
	}
	return fmt.Sprintf("%s-%s%s-%s.%s", n.Name, e, n.Version, n.Release, n.Arch)
}

// EVR is an epoch-version-release triple for comparison purposes.
type EVR struct {
	Epoch   string
	Version string
	Release string
}

// EVR returns the version triple of the NEVRA, with epoch defaulted to "0".
func (n NEVRA) EVR() EVR {
	e := n.Epoch
	if e == "" {
		e = "0"
	}
	return EVR{Epoch: e, Version: n.Version, Release: n.Release}
}

// Compare orders two EVR triples. Epoch is compared numerically first and a
// higher epoch wins unconditionally; version and release are then each
// compared with the rpm segment algorithm.
func Compare(a, b EVR) int {
	if c := compareInts(epochNum(a.Epoch), epochNum(b.Epoch)); c != 0 {
		return c
	}
	if c := compareSegments(a.Version, b.Version); c != 0 {
		return c
	}
	return compareSegments(a.Release, b.Release)
}

func epochNum(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var segmentRe = regexp.MustCompile(`[0-9]+|[^0-9]+`)

// compareSegments implements rpm-style comparison of a version or release
// string: alternating runs of digits and non-digits are compared pairwise,
// digit runs numerically (leading zeros ignored) and other runs by byte
// value. When one side runs out, the longer side wins unless its next run is
// purely alphabetic, in which case the shorter side wins (trailing letters
// rank as pre-release; tilde handling is out of scope).
func compareSegments(a, b string) int {
	pa := segmentRe.FindAllString(a, -1)
	pb := segmentRe.FindAllString(b, -1)

	for i := 0; i < len(pa) && i < len(pb); i++ {
		xa, xb := pa[i], pb[i]
		da, db := isDigits(xa), isDigits(xb)
		switch {
		case da && db:
			na := strings.TrimLeft(xa, "0")
			nb := strings.TrimLeft(xb, "0")
			if c := compareInts(len(na), len(nb)); c != 0 {
				return c
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
		case da != db:
			// A digit run outranks a non-digit run.
			if da {
				return 1
			}
			return -1
		default:
			if c := strings.Compare(xa, xb); c != 0 {
				return c
			}
		}
	}

	switch {
	case len(pa) > len(pb):
		if isAlpha(pa[len(pb)]) {
			return -1
		}
		return 1
	case len(pb) > len(pa):
		if isAlpha(pb[len(pa)]) {
			return 1
		}
		return -1
	}
	return 0
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return s != ""
}

// Comparison flags used by dependency requirements.
const (
	FlagNone = ""
	FlagEQ   = "EQ"
	FlagLT   = "LT"
	FlagLE   = "LE"
	FlagGT   = "GT"
	FlagGE   = "GE"
)

// Requirement is a versioned (or unversioned) capability constraint.
type Requirement struct {
	Name    string
	Flag    string
	Epoch   string
	Version string
	Release string
}

// Satisfies reports whether the candidate EVR meets the requirement's version
// constraint. The name match is the caller's concern. Requirements without a
// flag or version match unconditionally, as do unversioned candidates
// (capability entries like "libc.so.6()(64bit)" carry no structured version).
func (r Requirement) Satisfies(candidate EVR) bool {
	if r.Flag == FlagNone || r.Version == "" {
		return true
	}
	if candidate.Version == "" {
		return true
	}
	want := EVR{Epoch: r.Epoch, Version: r.Version, Release: r.Release}
	if want.Epoch == "" {
		want.Epoch = "0"
	}
	// An unversioned release on either side restricts comparison to
	// epoch+version.
	if r.Release == "" || candidate.Release == "" {
		want.Release = ""
		candidate.Release = ""
	}
	c := Compare(candidate, want)
	switch r.Flag {
	case FlagEQ:
		return c == 0
	case FlagLT:
		return c < 0
	case FlagLE:
		return c <= 0
	case FlagGT:
		return c > 0
	case FlagGE:
		return c >= 0
	}
	return false
}
