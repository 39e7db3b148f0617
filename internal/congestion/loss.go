package congestion

// lossState holds the round-scoped loss tracking plus the smoothed
// loss-rate EWMA (alpha = lossAlpha).
type lossState struct {
	lossInRound       bool
	lossRoundStart    bool
	lossRoundDelivered uint64

	deliveredSmoothed float64
	lostSmoothed      float64
	lossRateSmoothed  float64
}

// updateLatestDeliverySignals marks a round boundary whenever delivered
// progress since the last sample exceeds the recorded threshold.
func (l *lossState) updateLatestDeliverySignals(pathDelivered, sampleDelivered uint64) {
	if pathDelivered-sampleDelivered >= l.lossRoundDelivered {
		l.lossRoundStart = true
		l.lossRoundDelivered = pathDelivered
	} else {
		l.lossRoundStart = false
	}
}

// updateSmoothedLossRate folds a newly-acked/newly-lost sample into the
// smoothed loss rate EWMA.
func (l *lossState) updateSmoothedLossRate(newlyAcked, newlyLost uint64) {
	total := float64(newlyAcked + newlyLost)
	l.deliveredSmoothed = (1-lossAlpha)*l.deliveredSmoothed + lossAlpha*total
	l.lostSmoothed = (1-lossAlpha)*l.lostSmoothed + lossAlpha*float64(newlyLost)
	if l.deliveredSmoothed > 0 {
		l.lossRateSmoothed = l.lostSmoothed / l.deliveredSmoothed
	} else {
		l.lossRateSmoothed = 0
	}
	if l.lossRateSmoothed < 0 {
		l.lossRateSmoothed = 0
	}
	if l.lossRateSmoothed > 1 {
		l.lossRateSmoothed = 1
	}
}

// isInflightTooHigh implements the fraction-lost-over-inflight predicate
// shared by Startup's escape check and ProbeBW's loss reaction.
func isInflightTooHigh(s Sample) bool {
	if s.TxInFlight == 0 {
		return false
	}
	return float64(s.Lost) > lossThresh*float64(s.TxInFlight)
}

// inflightHiFromLostPacket computes the prefix inflight at which losses
// crossed the loss threshold, used when a Repeat/Timeout notification
// arrives out of band from an ACK-driven sample.
func inflightHiFromLostPacket(inflightPrior, lostPrior uint64) uint64 {
	if lostPrior >= inflightPrior {
		return inflightPrior
	}
	num := lossThresh * float64(inflightPrior-lostPrior)
	den := 1 - lossThresh
	return inflightPrior + uint64(num/den)
}
