package meterutils

import "math"

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Meter registers are reported with three decimals.
func Round3(v float64) float64 {
	return Round(v, 3)
}

// KwToW keeps the sign, export is negative.
func KwToW(kw float64) float64 {
	return Round3(kw * 1000)
}

// Convert kWh to Wh for storage - No negative values
func KWhToWh(kwh float64) int64 {
	if kwh < 0 {
		return 0
	}
	return int64(math.Round(kwh * 1000))
}

func WhToKWh(wh int64) float64 {
	return float64(wh) / 1000
}

// Convert m3 to dm3 for storage - No negative values
func M3ToDM3(m3 float64) int64 {
	if m3 < 0 {
		return 0
	}
	return int64(math.Round(m3 * 1000)) // 1 m³ = 1000 dm³
}

// Convert dm3 to m3 from storage
func DM3ToM3(dm3 int64) float64 {
	return float64(dm3) / 1000
}
