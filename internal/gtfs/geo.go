package gtfs

import "math"

// Flat-earth scale factors, in meters per degree.
const (
	MetersPerLat = 111300.0
	MetersPerLon = 85300.0
)

const (
	milesPerMeter = 0.000621371
	mphToMps      = 0.44704
	earthRadius   = 6371000.0
)

// RawDistanceMeters returns the squared flat-earth distance in square
// meters. Compare it against a squared threshold.
func RawDistanceMeters(aLat, aLon, bLat, bLon float64) float64 {
	dLat := (aLat - bLat) * MetersPerLat
	dLon := (aLon - bLon) * MetersPerLon
	return dLat*dLat + dLon*dLon
}

// DistanceMeters is the flat-earth distance in meters.
func DistanceMeters(aLat, aLon, bLat, bLon float64) float64 {
	return math.Sqrt(RawDistanceMeters(aLat, aLon, bLat, bLon))
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

// Bearing returns the great-circle initial bearing from a to b in degrees, 0..360.
func Bearing(aLat, aLon, bLat, bLon float64) float64 {
	y := math.Sin(toRad(bLon-aLon)) * math.Cos(toRad(bLat))
	x := math.Cos(toRad(aLat))*math.Sin(toRad(bLat)) - math.Sin(toRad(aLat))*math.Cos(toRad(bLat))*math.Cos(toRad(bLon-aLon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

func MpsToMph(mps float64) float64 { return mps * milesPerMeter * 3600 }

func MphToMps(mph float64) float64 { return mph * mphToMps }

func toRad(d float64) float64 { return d * math.Pi / 180 }
