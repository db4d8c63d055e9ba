package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainLines     = "hera/lines/v1"
	DomainBundleSet = "hera/bundle-set/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// LineObject is the canonical form of a transaction line used for digests
// and golden output. TransactionID is excluded so identical inputs posted
// as different transactions digest identically.
func LineObject(l TransactionLine) Object {
	data := l.Data
	if data == nil {
		data = Object{}
	}
	return Object{
		"line_number":   Int(l.LineNumber),
		"line_type":     String(l.LineType),
		"entity_id":     String(l.EntityID),
		"quantity":      String(l.Quantity.String()),
		"unit_amount":   String(l.UnitAmount.String()),
		"line_amount":   String(l.LineAmount.String()),
		"taxonomy_code": String(l.TaxonomyCode),
		"side":          String(l.Side),
		"line_data":     data,
	}
}

// MarshalLines returns the canonical JSON array of lines.
func MarshalLines(lines []TransactionLine) ([]byte, error) {
	arr := make(Array, len(lines))
	for i, l := range lines {
		arr[i] = LineObject(l)
	}
	b, err := MarshalCanonical(arr)
	if err != nil {
		return nil, fmt.Errorf("marshal lines: %w", err)
	}
	return b, nil
}

// LinesDigest computes the content digest of a line set.
func LinesDigest(lines []TransactionLine) (string, error) {
	b, err := MarshalLines(lines)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainLines, b), nil
}

// BundleSetDigest identifies an ordered set of resolved bundles by
// (bundle_id, version).
func BundleSetDigest(bundles []PolicyBundle) (string, error) {
	arr := make(Array, len(bundles))
	for i, b := range bundles {
		arr[i] = Object{"bundle_id": String(b.ID), "version": Int(b.Version)}
	}
	data, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("BundleSetDigest: %w", err)
	}
	return hashWithDomain(DomainBundleSet, data), nil
}
