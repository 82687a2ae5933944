package dosing

import (
	"math"
	"time"
)

// Fallback values substituted when a single channel is unusable.
// Neutral pH and a mid-range EC: conservative stand-ins, not clamps of
// the raw value.
const (
	FallbackPH        = 7.0
	FallbackEC        = 1.4
	FallbackWaterTemp = 20.0
)

// Physical plausibility limits. A pH of exactly 0 or 14 is treated as
// invalid: real probes cannot reliably report the saturation ends, so
// those values indicate a stuck ADC rather than a true reading.
const (
	phMin = 0.0  // exclusive
	phMax = 14.0 // exclusive
	ecMin = 0.0  // inclusive
	ecMax = 5.0  // inclusive

	tempMin = 0.0
	tempMax = 50.0
)

func validPH(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > phMin && v < phMax
}

func validEC(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= ecMin && v <= ecMax
}

func validTemp(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= tempMin && v <= tempMax
}

// ValidateReading turns a raw sample into a fully populated Reading.
//
// A missing or out-of-range channel is substituted with its fallback and
// flagged; losing both pH and EC at once is a critical sensor fault and
// returns a *SensorFault instead of fabricating an entire sample.
//
// The same validation applies to live hardware and to the simulation
// generator, so simulated output is range-checked before the controller
// ever trusts it.
func ValidateReading(raw RawReading, now time.Time) (Reading, error) {
	phOK := raw.PH != nil && validPH(*raw.PH)
	ecOK := raw.EC != nil && validEC(*raw.EC)

	if !phOK && !ecOK {
		return Reading{}, &SensorFault{Reason: "both channels missing"}
	}

	at := raw.At
	if at.IsZero() {
		at = now
	}

	r := Reading{At: at}

	if phOK {
		r.PH = *raw.PH
	} else {
		r.PH = FallbackPH
		r.PHSubstituted = true
	}
	if ecOK {
		r.EC = *raw.EC
	} else {
		r.EC = FallbackEC
		r.ECSubstituted = true
	}

	if raw.WaterTemp != nil && validTemp(*raw.WaterTemp) {
		r.WaterTemp = *raw.WaterTemp
	} else {
		r.WaterTemp = FallbackWaterTemp
	}

	return r, nil
}
