package voxgrid

import "fmt"

// Region partitions work between agents and jobs. Agents only claim jobs
// in their own region. The set is closed: any other value is rejected at
// every boundary (schedule creation, job creation, token issuance).
type Region string

const (
	RegionNA   Region = "na"
	RegionAPAC Region = "apac"
	RegionEU   Region = "eu"
)

// Regions returns all valid regions.
func Regions() []Region {
	return []Region{RegionNA, RegionAPAC, RegionEU}
}

// Valid reports whether r is a member of the closed region set.
func (r Region) Valid() bool {
	switch r {
	case RegionNA, RegionAPAC, RegionEU:
		return true
	default:
		return false
	}
}

// String returns the wire form of the region.
func (r Region) String() string { return string(r) }

// ParseRegion validates a raw region string at an ingress boundary.
// Inside the core an invalid region cannot occur; this is the single
// place the check happens.
func ParseRegion(s string) (Region, error) {
	r := Region(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q (want one of na, apac, eu)", ErrInvalidRegion, s)
	}
	return r, nil
}
