package collector

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// Location is a single geographic fix in degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// LocationProvider returns the last known location, or nil when none is
// available.
type LocationProvider interface {
	LastLocation(ctx context.Context) (*Location, error)
}

// StaticLocation serves a fixed, configured position.
type StaticLocation struct {
	loc *Location
}

// NewStaticLocation validates the coordinates. Longitudes outside
// [-180, 180] are wrapped.
func NewStaticLocation(lat, lng float64) (*StaticLocation, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lng, 0) || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid coordinates %v,%v", lat, lng)
	}
	ll := s2.LatLngFromDegrees(lat, lng)
	if ll.IsValid() {
		return &StaticLocation{loc: &Location{Latitude: lat, Longitude: lng}}, nil
	}
	ll = ll.Normalized()
	return &StaticLocation{loc: &Location{Latitude: lat, Longitude: ll.Lng.Degrees()}}, nil
}

func (s *StaticLocation) LastLocation(ctx context.Context) (*Location, error) {
	if s == nil || s.loc == nil {
		return nil, nil
	}
	l := *s.loc
	return &l, nil
}
