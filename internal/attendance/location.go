package attendance

import (
	"fmt"

	"industrialvisit/internal/geo"
)

// LocationCheck is the outcome of comparing a reported position with a visit's location.
type LocationCheck struct {
	DistanceMeters      float64 `json:"distance_meters"`
	AllowedRadiusMeters float64 `json:"allowed_radius_meters"`
	IsWithinRadius      bool    `json:"is_within_radius"`
	Message             string  `json:"message"`
	// Measured is false when the visit has no location to measure against.
	Measured bool `json:"measured"`
}

// ValidateLocation measures how far pos is from v's location. A visit
// without a location fails closed. The device-reported accuracy is never
// added to the radius; a fix just outside the radius is rejected even if its
// accuracy circle overlaps the allowed area.
func ValidateLocation(v Visit, pos GPS) (LocationCheck, error) {
	if err := pos.Point().Validate(); err != nil {
		return LocationCheck{}, err
	}
	if v.Location == nil {
		return LocationCheck{Message: ErrLocationUnavailable.Error()}, nil
	}
	radius := v.Location.AllowedRadiusMeters
	d, err := geo.Distance(v.Location.Point(), pos.Point())
	if err != nil {
		return LocationCheck{}, fmt.Errorf("visit location: %w", err)
	}
	check := LocationCheck{
		DistanceMeters:      d,
		AllowedRadiusMeters: radius,
		IsWithinRadius:      d <= radius,
		Measured:            true,
	}
	if check.IsWithinRadius {
		check.Message = fmt.Sprintf("within %.0fm of the visit location (%.1fm away)", radius, d)
	} else {
		check.Message = fmt.Sprintf("%.0fm from the visit location, allowed radius is %.0fm", d, radius)
	}
	return check, nil
}
