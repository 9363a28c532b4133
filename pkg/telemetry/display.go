package telemetry

import "time"

// DisplayPosition converts a display offset (see [ClockSync.DisplayOffset])
// into a horizontal position on an axis width units wide that shows window
// worth of time, newest data on the right. delay shifts everything right so
// that data still arriving stays off screen; use [DisplayDelay] unless there is
// a reason not to. Positions outside [0, width) are off screen.
func DisplayPosition(offset float64, window time.Duration, width int, delay time.Duration) float64 {
	if width <= 0 || window <= 0 {
		return 0
	}
	secondsPerUnit := window.Seconds() / float64(width)
	return float64(width-1) - (offset-delay.Seconds())/secondsPerUnit
}

// VisibleRange returns the half-open index range [lo, hi) of the packets of
// seg that fall on an axis as described for [DisplayPosition], keeping one
// packet beyond each edge so that lines drawn between packets reach the
// border. It returns an empty range when the mapping is not anchored.
func VisibleRange(seg Segment, sync ClockSync, window time.Duration, width int, delay time.Duration) (lo, hi int) {
	if !sync.Valid() || len(seg) == 0 {
		return 0, 0
	}
	left, right := 0, 0
	for _, p := range seg {
		x := DisplayPosition(sync.DisplayOffset(p), window, width, delay)
		if x < 0 {
			left++
		}
		if x < float64(width) {
			right++
		}
	}
	lo = max(left-1, 0)
	hi = min(right+1, len(seg))
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// DBRange returns the dB range to show on an axis height units tall. The range
// is minRangeDB up to minHeight and grows proportionally beyond it, so that a
// taller view shows more range rather than stretched curves.
func DBRange(height, minHeight int, minRangeDB float64) float64 {
	if minHeight <= 0 {
		return minRangeDB
	}
	factor := max(1, float64(height)/float64(minHeight))
	return factor * minRangeDB
}
