// Package taxonomy parses and validates the classification codes attached
// to every HERA record.
//
// A code is a dot-delimited uppercase token:
//
//	HERA.<DOMAIN>.<MODULE>[.<KIND>...].V<digits>
//
// with 5 to 10 segments in total. DOMAIN is 2-15 characters; every other
// segment is uppercase letters, digits or underscore. Codes are
// case-normalized on ingest and never used to derive runtime schema.
//
// Everything in this package is pure: no I/O, no globals mutated.
package taxonomy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Prefix is the mandatory first segment.
	Prefix = "HERA"

	MinSegments = 5
	MaxSegments = 10

	minDomainLen = 2
	maxDomainLen = 15
)

var (
	domainPattern  = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	segmentPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)
	versionPattern = regexp.MustCompile(`^V[0-9]+$`)
)

// Code is a parsed, normalized taxonomy code.
type Code struct {
	// Raw is the normalized code string.
	Raw string `json:"raw"`

	Domain string `json:"domain"`
	Module string `json:"module"`

	// Kind is the dot-joined path between module and version, e.g.
	// "LINE.DR" for HERA.FIN.GL.LINE.DR.V1.
	Kind string `json:"kind"`

	Version int `json:"version"`

	Segments []string `json:"segments"`
}

// String returns the normalized code.
func (c Code) String() string {
	return c.Raw
}

// InvalidCodeError reports why a code was rejected.
type InvalidCodeError struct {
	Code   string
	Reason string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid taxonomy code %q: %s", e.Code, e.Reason)
}

// Normalize trims whitespace and upper-cases a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate normalizes and parses a code.
// Returns *InvalidCodeError when the code does not satisfy the pattern.
func Validate(code string) (Code, error) {
	norm := Normalize(code)
	invalid := func(format string, args ...any) (Code, error) {
		return Code{}, &InvalidCodeError{Code: code, Reason: fmt.Sprintf(format, args...)}
	}

	if norm == "" {
		return invalid("code is empty")
	}

	segs := strings.Split(norm, ".")
	if len(segs) < MinSegments || len(segs) > MaxSegments {
		return invalid("has %d segments, want %d-%d", len(segs), MinSegments, MaxSegments)
	}
	if segs[0] != Prefix {
		return invalid("must start with %s", Prefix)
	}

	domain := segs[1]
	if len(domain) < minDomainLen || len(domain) > maxDomainLen {
		return invalid("domain %q must be %d-%d characters", domain, minDomainLen, maxDomainLen)
	}
	if !domainPattern.MatchString(domain) {
		return invalid("domain %q must be uppercase letters, digits or underscore", domain)
	}

	last := len(segs) - 1
	for i := 2; i < last; i++ {
		if !segmentPattern.MatchString(segs[i]) {
			return invalid("segment %d %q must be uppercase letters, digits or underscore", i+1, segs[i])
		}
	}

	if !versionPattern.MatchString(segs[last]) {
		return invalid("must end with a version marker like V1, got %q", segs[last])
	}
	version, err := strconv.Atoi(segs[last][1:])
	if err != nil {
		return invalid("version %q out of range", segs[last])
	}

	return Code{
		Raw:      norm,
		Domain:   domain,
		Module:   segs[2],
		Kind:     strings.Join(segs[3:last], "."),
		Version:  version,
		Segments: segs,
	}, nil
}

// IsValid reports whether code validates.
func IsValid(code string) bool {
	_, err := Validate(code)
	return err == nil
}

// MustParse is like Validate but panics on error.
// Use only in tests or for compile-time constants.
func MustParse(code string) Code {
	c, err := Validate(code)
	if err != nil {
		panic(err)
	}
	return c
}
