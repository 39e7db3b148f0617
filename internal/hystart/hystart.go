// Package hystart implements the long-RTT slow-start fallback the
// congestion controller delegates to while in StartupLongRTT: a
// HyStart++ (RFC 9406)-shaped round-trip filter that watches for an
// RTT-increase signal or an excessive loss volume and exits early,
// falling back to conservative linear growth (CSS) once it suspects the
// bottleneck buffer is filling.
package hystart

import "time"

const (
	// nRTTSample is the minimum number of RTT samples a round must carry
	// before the RTT-increase test is trusted.
	nRTTSample = 8
	// minRTTThresh/maxRTTThresh bound the per-round RTT-increase threshold.
	minRTTThresh = 4 * time.Millisecond
	maxRTTThresh = 16 * time.Millisecond
	// minRTTDivisor scales the last round's min RTT into a threshold.
	minRTTDivisor = 8
	// cssRounds is how many conservative rounds run before giving up and
	// exiting slow start outright.
	cssRounds = 5
	// cssGrowthDivisor shrinks the per-ACK growth step during CSS.
	cssGrowthDivisor = 4
	// lossVolumeThreshold is the newly-lost/newly-acked ratio that forces
	// an early exit regardless of the RTT test.
	lossVolumeThreshold = 0.05
)

const clockInfinity = time.Duration(1<<63 - 1)

// Filter is a HyStart++-shaped long-RTT slow-start collaborator. It
// implements congestion.HyStartFilter via structural typing (RTTTest,
// LossVolumeTest, Increase) without importing the congestion package,
// keeping the dependency direction the one the controller's adapter
// expects: congestion depends on the interface, not on this type.
type Filter struct {
	lastRoundMinRTT    time.Duration
	currentRoundMinRTT time.Duration
	rttSampleCount     int
	windowEnd          time.Time

	conservative bool
	cssBaseline  time.Duration
	cssRoundsRun int
}

// New returns a Filter ready to observe its first round.
func New() *Filter {
	return &Filter{
		lastRoundMinRTT:    clockInfinity,
		currentRoundMinRTT: clockInfinity,
		cssBaseline:        clockInfinity,
	}
}

// RTTTest folds a new RTT sample into the current round and reports
// whether the round-over-round RTT increase crossed the HyStart++
// threshold, entering (or remaining in) conservative slow start.
func (f *Filter) RTTTest(rttSample, pacingPacketTime time.Duration, now time.Time) bool {
	if rttSample <= 0 {
		return f.conservative && f.cssRoundsRun >= cssRounds
	}
	if f.windowEnd.IsZero() || now.After(f.windowEnd) {
		f.lastRoundMinRTT = f.currentRoundMinRTT
		f.currentRoundMinRTT = clockInfinity
		f.rttSampleCount = 0
		// A round lasts roughly one pacing interval's worth of sends;
		// fall back to the RTT sample itself when pacing hasn't started.
		interval := pacingPacketTime
		if interval <= 0 {
			interval = rttSample
		}
		f.windowEnd = now.Add(interval)
		if f.conservative {
			f.cssRoundsRun++
		}
	}
	if rttSample < f.currentRoundMinRTT {
		f.currentRoundMinRTT = rttSample
	}
	f.rttSampleCount++

	if !f.conservative {
		if f.rttSampleCount >= nRTTSample &&
			f.currentRoundMinRTT != clockInfinity &&
			f.lastRoundMinRTT != clockInfinity {
			thresh := f.lastRoundMinRTT / minRTTDivisor
			if thresh < minRTTThresh {
				thresh = minRTTThresh
			}
			if thresh > maxRTTThresh {
				thresh = maxRTTThresh
			}
			if f.currentRoundMinRTT >= f.lastRoundMinRTT+thresh {
				f.cssBaseline = f.currentRoundMinRTT
				f.conservative = true
				f.cssRoundsRun = 0
			}
		}
		return false
	}

	if f.rttSampleCount >= nRTTSample && f.currentRoundMinRTT < f.cssBaseline {
		// RTT receded: the increase was transient, go back to full speed.
		f.cssBaseline = clockInfinity
		f.conservative = false
		f.cssRoundsRun = 0
		return false
	}
	return f.cssRoundsRun >= cssRounds
}

// LossVolumeTest exits slow start early when a burst of loss arrives
// before the RTT-increase test has had a chance to fire.
func (f *Filter) LossVolumeTest(newlyAcked, newlyLost uint64) bool {
	if newlyAcked == 0 {
		return false
	}
	return float64(newlyLost)/float64(newlyAcked) >= lossVolumeThreshold
}

// Increase returns the linear CWND growth step for a batch of newlyAcked
// bytes: standard-ish growth outside CSS, a quartered step once
// conservative slow start has kicked in.
func (f *Filter) Increase(newlyAcked uint64) uint64 {
	if f.conservative {
		return newlyAcked / cssGrowthDivisor
	}
	return newlyAcked
}
