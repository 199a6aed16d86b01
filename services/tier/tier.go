// Package tier classifies a valid point balance into the venue's
// traffic-light tiers.
package tier

import "venue-loyalty/services/settings"

type Tier string

const (
	Red    Tier = "red"
	Yellow Tier = "yellow"
	Green  Tier = "green"
)

// Fallback thresholds used when no settings snapshot is available.
const (
	FallbackYellowMin = 200
	FallbackGreenMin  = 500
)

// Classify is pure: same balance and snapshot always yield the same tier,
// and the result is monotonically non-decreasing in balance. The cached
// tier on a customer row is only ever the output of this function applied
// to the recomputed valid balance.
func Classify(balance int64, snap *settings.Snapshot) Tier {
	yellowMin := int64(FallbackYellowMin)
	greenMin := int64(FallbackGreenMin)
	if snap != nil {
		yellowMin = snap.YellowMin
		greenMin = snap.GreenMin
	}

	switch {
	case balance >= greenMin:
		return Green
	case balance >= yellowMin:
		return Yellow
	default:
		return Red
	}
}
