package attendance

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b database.Location) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * constants.EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// checkLocation applies the geofence. It is a no-op unless tracking is
// enabled and an office location is configured.
func checkLocation(s config.LocationSettings, office config.OfficeConfig, loc *database.Location) error {
	if !s.Enabled || !office.Set {
		return nil
	}
	if loc == nil {
		if s.Required {
			return &Error{Kind: KindLocation, Code: CodeLocationRequired}
		}
		return nil
	}
	if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) || math.Abs(loc.Lat) > 90 || math.Abs(loc.Lng) > 180 {
		return &Error{Kind: KindLocation, Code: CodeOutsideGeofence, Message: "invalid coordinates"}
	}
	d := HaversineMeters(database.Location{Lat: office.Lat, Lng: office.Lng}, *loc)
	if d > s.RadiusMeters {
		return &Error{
			Kind:    KindLocation,
			Code:    CodeOutsideGeofence,
			Message: fmt.Sprintf("%.0fm from office, allowed radius %.0fm", d, s.RadiusMeters),
		}
	}
	return nil
}
