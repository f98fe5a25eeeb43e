// Package geocode provides address locating against an ArcGIS-compatible
// locator service, with result quality filtering and an optional
// Postgres-backed cache.
package geocode

import "context"

// Match statuses reported by locator services.
const (
	StatusMatched   = "M" // unambiguous match
	StatusTied      = "T" // matched with ties, best candidate returned
	StatusUnmatched = "U" // no acceptable candidate
)

// DefaultAcceptedTypes is the address-type allow list applied when a caller
// does not configure one. Types outside the list locate too coarsely to
// place an incident point.
var DefaultAcceptedTypes = []string{
	"AddrPoint", "StreetAddr", "BldgName", "Place", "POI",
	"Intersection", "PointAddress", "StreetAddress", "SiteAddress", "Address",
}

// Client locates addresses.
type Client interface {
	// Geocode locates a single address.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// BatchGeocode locates multiple addresses. The returned slice is
	// index-aligned with the input; individual misses come back unmatched,
	// not as errors.
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// AddressInput is an address to locate, either as a single line or as
// components. SingleLine wins when both are set.
type AddressInput struct {
	ID         string // optional identifier for batch correlation
	SingleLine string
	Street     string
	City       string
	State      string
	ZipCode    string
}

// Result holds the locator output for one address.
type Result struct {
	X, Y           float64
	Status         string // M, T, or U
	AddrType       string // candidate quality class, e.g. PointAddress
	Score          float64
	Matched        bool
	MatchedAddress string
}

// Accepted reports whether the result matched with an acceptable status and
// an address type on the allow list. An empty list means DefaultAcceptedTypes.
func (r Result) Accepted(allowedTypes []string) bool {
	if !r.Matched {
		return false
	}
	if r.Status != StatusMatched && r.Status != StatusTied {
		return false
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAcceptedTypes
	}
	for _, t := range allowedTypes {
		if r.AddrType == t {
			return true
		}
	}
	return false
}

// FilterResults splits batch results into accepted and rejected index sets,
// preserving input order within each set.
func FilterResults(results []Result, allowedTypes []string) (accepted, rejected []int) {
	for i, r := range results {
		if r.Accepted(allowedTypes) {
			accepted = append(accepted, i)
		} else {
			rejected = append(rejected, i)
		}
	}
	return accepted, rejected
}
