package geo

import (
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const feetPerMeter = 3.28084

// MagneticVariation returns the magnetic declination in degrees (+East, -West)
// at the given position and date
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt / feetPerMeter

	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model validity window; treat as no variation
		return 0.0
	}

	return mag.D()
}

// MagneticHeading converts a true heading into a magnetic one. Altitude is in meters.
func MagneticHeading(trueHeading, lat, lon, altM float64, date time.Time) float64 {
	return NormalizeHeading(trueHeading - MagneticVariation(lat, lon, altM*feetPerMeter, date))
}
