package congestion

import "time"

// model holds the bandwidth and inflight tracking state. Controller holds
// it as an unexported field rather than exporting it, since nothing outside
// the package needs to touch it directly.
type model struct {
	maxBwFilter      *maxFilter
	extraAckedFilter *maxFilter
	minRTTFilter     *minFilter

	maxBw      uint64 // bytes/s
	bwHi       uint64 // 0 means "unset"
	bwLo       uint64 // 0 means "unset"
	bw         uint64 // bound bandwidth estimate
	bwLatest   uint64
	fullBw     uint64
	fullBwCnt  int

	minRTT      time.Duration
	minRTTStamp time.Time

	extraAcked            uint64
	extraAckedIntervalStart time.Time
	extraAckedDelivered     uint64

	maxInflight   uint64
	inflightHi    uint64 // 0 means "unset"
	inflightLo    uint64 // 0 means "unset"
	inflightLatest uint64
}

// updateLatestDeliverySignals folds this ACK's delivery rate and inflight
// volume into the round's running peaks.
func (m *model) updateLatestDeliverySignals(s Sample) {
	if s.DeliveryRate > m.bwLatest {
		m.bwLatest = s.DeliveryRate
	}
	if s.TxInFlight > m.inflightLatest {
		m.inflightLatest = s.TxInFlight
	}
}

// advanceLatestDeliverySignals reseeds bw_latest/inflight_latest to this
// ACK's values once a round has ended, so the next round's peaks start
// fresh instead of carrying the prior round's maximum forward.
func (m *model) advanceLatestDeliverySignals(s Sample, roundStart bool) {
	if !roundStart {
		return
	}
	m.bwLatest = s.DeliveryRate
	m.inflightLatest = s.TxInFlight
}

func newModel() *model {
	return &model{
		maxBwFilter:      newMaxFilter(maxBwFilterLen),
		extraAckedFilter: newMaxFilter(extraAckedFilterLen),
		minRTTFilter:     newMinFilter(),
		minRTT:           RTTUnknown,
	}
}

// updateMaxBw feeds a delivery-rate sample into the windowed max-bw filter
// unless the sample is both below the current max and app-limited.
func (m *model) updateMaxBw(cycle uint64, s Sample) {
	if s.DeliveryRate >= m.maxBw || !s.IsAppLimited {
		m.maxBw = m.maxBwFilter.update(s.DeliveryRate, cycle)
	}
}

// boundBWForModel recomputes bw as the min of max_bw and any set bounds.
func (m *model) boundBWForModel() {
	bw := m.maxBw
	if m.bwLo != 0 && m.bwLo < bw {
		bw = m.bwLo
	}
	if m.bwHi != 0 && m.bwHi < bw {
		bw = m.bwHi
	}
	m.bw = bw
}

// bdpMultipleAt returns gain * bw * min_rtt for an explicit bandwidth,
// falling back to an initial window in bytes when min_rtt hasn't been
// sampled yet.
func (m *model) bdpMultipleAt(bw uint64, gain float64, mss int) uint64 {
	if m.minRTT == RTTUnknown {
		return uint64(initialCwndInMSS * mssOrDefault(mss))
	}
	return uint64(gain * float64(bw) * m.minRTT.Seconds())
}

func (m *model) bdpMultiple(gain float64, mss int) uint64 {
	return m.bdpMultipleAt(m.bw, gain, mss)
}

func (m *model) bdp(mss int) uint64 {
	return m.bdpMultiple(1.0, mss)
}

// quantizationBudget raises x to the configured floors, adding headroom
// during ProbeBW_Up.
func (m *model) quantizationBudget(x uint64, sendQuantum uint64, mss int, phase Phase) uint64 {
	floor := uint64(3 * sendQuantum)
	if x < floor {
		x = floor
	}
	minFloor := uint64(4 * mssOrDefault(mss))
	if x < minFloor {
		x = minFloor
	}
	if phase == PhaseProbeBWUp {
		x += uint64(2 * mssOrDefault(mss))
	}
	return x
}

func (m *model) inflight(gain float64, sendQuantum uint64, mss int, phase Phase) uint64 {
	return m.inflightAt(m.bw, gain, sendQuantum, mss, phase)
}

// inflightAt computes the inflight target against an explicit bandwidth;
// the ProbeBW exit checks use max_bw here rather than the bound bw.
func (m *model) inflightAt(bw uint64, gain float64, sendQuantum uint64, mss int, phase Phase) uint64 {
	return m.quantizationBudget(m.bdpMultipleAt(bw, gain, mss), sendQuantum, mss, phase)
}

// updateMaxInflight recomputes max_inflight from the cwnd-gain BDP plus the
// extra-acked allowance.
func (m *model) updateMaxInflight(cwndGain float64, sendQuantum uint64, mss int, phase Phase) {
	raw := m.bdpMultiple(cwndGain, mss) + m.extraAcked
	m.maxInflight = m.quantizationBudget(raw, sendQuantum, mss, phase)
}

// updateACKAggregation tracks bursts of delivered bytes beyond what steady
// bandwidth predicts, feeding the excess into the extra-acked filter.
func (m *model) updateACKAggregation(now time.Time, delivered, cwin uint64, round uint64) {
	if m.extraAckedIntervalStart.IsZero() {
		m.extraAckedIntervalStart = now
		m.extraAckedDelivered = delivered
		return
	}
	interval := now.Sub(m.extraAckedIntervalStart).Seconds()
	expected := uint64(float64(m.bw) * interval)
	actual := delivered - m.extraAckedDelivered
	if actual <= expected {
		m.extraAckedIntervalStart = now
		m.extraAckedDelivered = delivered
		return
	}
	excess := actual - expected
	if excess > cwin {
		excess = cwin
	}
	m.extraAcked = m.extraAckedFilter.update(excess, round)
}

