package congestion

import "time"

// advanceRound implements C2: a round ends when delivered progress reaches
// the threshold recorded at the last round boundary.
func (c *Controller) advanceRound(s Sample) {
	if c.path.Delivered() >= c.nextRoundDelivered {
		c.roundStart = true
		c.roundCount++
		c.roundsSinceProbe++
		c.roundsSinceBWProbe++
		c.nextRoundDelivered = c.path.Delivered() + c.path.BytesInTransit()
		c.model.extraAckedFilter.startPeriod(c.roundCount)
	} else {
		c.roundStart = false
	}
}

// startRound forces a round boundary, used by phase-entry routines.
func (c *Controller) startRound() {
	c.roundStart = true
	c.roundCount++
	c.nextRoundDelivered = c.path.Delivered() + c.path.BytesInTransit()
}

// updateLowerBounds implements the second half of C5: when a round with
// recorded loss ends outside ProbeBW, tighten bw_lo/inflight_lo.
func (c *Controller) updateLowerBounds() {
	if !c.loss.lossRoundStart {
		return
	}
	if c.phase.isProbeBW() || !c.loss.lossInRound {
		c.loss.lossInRound = false
		return
	}
	if c.model.bwLo == 0 {
		c.model.bwLo = c.model.maxBw
	}
	if c.model.inflightLo == 0 {
		c.model.inflightLo = c.cwin
	}
	bwLo := float64(c.model.bwLo) * betaFactor
	if float64(c.model.bwLatest) > bwLo {
		bwLo = float64(c.model.bwLatest)
	}
	c.model.bwLo = uint64(bwLo)

	infLo := float64(c.model.inflightLo) * betaFactor
	if float64(c.model.inflightLatest) > infLo {
		infLo = float64(c.model.inflightLatest)
	}
	c.model.inflightLo = uint64(infLo)

	c.loss.lossInRound = false
	c.emit("lower_bounds", map[string]any{"bw_lo": c.model.bwLo, "inflight_lo": c.model.inflightLo})
}

// targetInflight returns min(bdp, cwin), the reference point the loss
// reaction and the headroom cap both use.
func (c *Controller) targetInflight() uint64 {
	bdp := c.model.bdp(c.mss)
	if bdp < c.cwin {
		return bdp
	}
	return c.cwin
}

// handleLostPacket implements C5's out-of-ACK-band loss handling used by
// Repeat/Timeout: it only acts while a bandwidth probe is in flight. The
// lost packet's prior inflight is projected to the prefix inflight at
// which the loss fraction crossed the threshold.
func (c *Controller) handleLostPacket(now time.Time, info LossInfo) {
	if c.model == nil || c.bwProbeSamples == 0 {
		return
	}
	inflightPrev := info.InflightPrior
	if ps := uint64(info.PacketSize); ps < inflightPrev {
		inflightPrev -= ps
	}
	var lostPrev uint64
	if info.LostSinceSent > info.NewlyLost {
		lostPrev = info.LostSinceSent - info.NewlyLost
	}
	sample := Sample{
		Lost:       info.NewlyLost,
		TxInFlight: inflightHiFromLostPacket(inflightPrev, lostPrev),
	}
	if !isInflightTooHigh(sample) {
		return
	}
	c.handleInflightTooHigh(now, sample)
}

// handleInflightTooHigh reacts to a loss fraction over the threshold in a
// bandwidth-probing sample: stop probing, pin inflight_hi, and descend.
func (c *Controller) handleInflightTooHigh(now time.Time, s Sample) {
	c.bwProbeSamples = 0
	if !s.IsAppLimited {
		target := c.targetInflight()
		hi := float64(s.TxInFlight)
		if betaTarget := betaFactor * float64(target); betaTarget > hi {
			hi = betaTarget
		}
		c.model.inflightHi = uint64(hi)
	}
	if c.phase == PhaseProbeBWUp {
		c.enterProbeBWDown(now)
	}
	c.emit("inflight_too_high", map[string]any{"inflight_hi": c.model.inflightHi})
}

// stepStateMachine runs the per-ACK phase logic and dispatches transitions.
func (c *Controller) stepStateMachine(now time.Time, s Sample) {
	switch c.phase {
	case PhaseStartup:
		c.stepStartup(now, s)
	case PhaseStartupLongRTT:
		c.stepStartupLongRTT(now, s)
	case PhaseDrain:
		c.stepDrain(now, s)
	case PhaseProbeBWDown:
		c.stepProbeBWDown(now, s)
	case PhaseProbeBWCruise:
		c.stepProbeBWCruise(now, s)
	case PhaseProbeBWRefill:
		c.stepProbeBWRefill(now, s)
	case PhaseProbeBWUp:
		c.stepProbeBWUp(now, s)
	case PhaseProbeRTT:
		c.stepProbeRTT(now, s)
	}

	// ProbeRTT can preempt any phase once the interval has elapsed.
	if c.phase != PhaseProbeRTT {
		c.checkEnterProbeRTT(now)
	}
}

// transition performs the common reset any phase entry needs (set the
// phase's gains, stamp entry time). It does not start a round; the entry
// routines that need one call startRound themselves.
func (c *Controller) transition(now time.Time, phase Phase) {
	if !now.IsZero() {
		if last, ok := c.phaseEnteredAt[c.phase]; ok {
			c.phaseDuration[c.phase] += now.Sub(last)
		}
		c.phaseEnteredAt[phase] = now
	}
	c.phase = phase
	if gains, ok := probeBWGains[phase]; ok {
		c.pacingGain = gains.pacing
		c.cwndGain = gains.cwnd
	} else if phase == PhaseProbeRTT {
		c.pacingGain = 1.0
		c.cwndGain = probeRTTCwndGain
	} else if phase == PhaseDrain {
		c.pacingGain = drainPacingGain
		c.cwndGain = startupCwndGain
	} else if phase == PhaseStartup {
		c.pacingGain = startupPacingGain
		c.cwndGain = startupCwndGain
	}
	c.emit("phase_enter", map[string]any{"phase": phase.String()})
}

func (c *Controller) stepStartup(now time.Time, s Sample) {
	if !s.IsAppLimited && c.roundStart {
		if 4*c.model.maxBw >= 5*c.model.fullBw {
			c.model.fullBw = c.model.maxBw
			c.model.fullBwCnt = 0
		} else {
			c.model.fullBwCnt++
			if c.model.fullBwCnt >= 3 {
				c.filledPipe = true
			}
		}
	}
	if isInflightTooHigh(s) {
		c.filledPipe = true
	}
	if s.IsCwndLimited && c.model.minRTT != RTTUnknown {
		highRTT := c.model.minRTT + c.model.minRTT/4 + 2*c.path.RTTVariant()
		if s.RTTSample > highRTT {
			c.filledPipe = true
		}
	}
	if c.filledPipe {
		if c.model.inflightHi == 0 {
			c.model.inflightHi = c.model.bdp(c.mss)
		}
		c.transition(now, PhaseDrain)
	}
}

func (c *Controller) enterStartupLongRTT(now time.Time, rttMin time.Duration, baseCwnd uint64) {
	c.phase = PhaseStartupLongRTT
	c.pacingGain = startupPacingGain
	c.cwndGain = startupCwndGain
	ratio := rttMin.Seconds() / targetRenoRTT.Seconds()
	if ratio < 1 {
		ratio = 1
	}
	maxRatio := targetSatelliteRTT.Seconds() / targetRenoRTT.Seconds()
	if ratio > maxRatio {
		ratio = maxRatio
	}
	cwnd := uint64(float64(baseCwnd) * ratio)
	if c.bdpSeed > cwnd {
		cwnd = c.bdpSeed
	}
	c.cwin = cwnd
}

func (c *Controller) stepStartupLongRTT(now time.Time, s Sample) {
	if c.hystart == nil {
		return
	}
	exit := c.hystart.RTTTest(s.RTTSample, c.path.PacingPacketTime(), now) ||
		c.hystart.LossVolumeTest(s.NewlyAcked, s.NewlyLost)
	if exit {
		c.startRound()
		c.filledPipe = true
		if c.model.inflightHi == 0 {
			c.model.inflightHi = c.model.bdp(c.mss)
		}
		c.transition(now, PhaseDrain)
		c.stepDrain(now, s)
		return
	}
	if c.path.LastSenderLimitedAt().Before(c.path.LastAckedDataFrameSentAt()) {
		c.cwin += c.hystart.Increase(s.NewlyAcked)
	}
	floor := c.bdpSeed
	if peak := c.path.PeakBandwidthEstimate(); peak > 0 && c.model.minRTT != RTTUnknown {
		if half := uint64(float64(peak) * c.model.minRTT.Seconds() / 2); half > floor {
			floor = half
		}
	}
	if c.cwin < floor {
		c.cwin = floor
	}
}

func (c *Controller) stepDrain(now time.Time, s Sample) {
	target := c.model.inflight(1.0, c.sendQuantum, c.mss, c.phase)
	if c.path.BytesInTransit() <= target {
		c.enterProbeBWDown(now)
	}
}

func (c *Controller) pickProbeWait() {
	c.roundsSinceBWProbe = uint64(c.rng.uniformInt64(0, 1))
	c.bwProbeWait = time.Duration(2_000_000+c.rng.uniformInt64(0, 1_000_000)) * time.Microsecond
}

func (c *Controller) enterProbeBWDown(now time.Time) {
	c.loss.lossInRound = false
	c.model.bwLo = 0
	c.model.inflightLo = 0
	c.pickProbeWait()
	c.cycleStamp = now
	c.ackPhase = AckPhaseProbeStopping
	c.transition(now, PhaseProbeBWDown)
	c.startRound()
}

func (c *Controller) stepProbeBWDown(now time.Time, s Sample) {
	c.maybeAdvanceCycle(s)
	if c.probeWaitElapsed(now) || c.roundsSinceBWProbe >= minUint64(mssUnitsOfTarget(c.targetInflight(), c.mss), 63) {
		c.enterProbeBWRefill(now)
		return
	}
	headroom := uint64(0)
	if c.model.inflightHi != 0 {
		headroom = uint64(float64(c.model.inflightHi) * (1 - headroomPct))
	}
	inflightAtUnity := c.model.inflightAt(c.model.maxBw, 1.0, c.sendQuantum, c.mss, c.phase)
	if c.path.BytesInTransit() <= headroom && c.path.BytesInTransit() <= inflightAtUnity {
		c.transition(now, PhaseProbeBWCruise)
	}
}

func (c *Controller) stepProbeBWCruise(now time.Time, s Sample) {
	c.maybeAdvanceCycle(s)
	if c.probeWaitElapsed(now) || c.roundsSinceBWProbe >= minUint64(mssUnitsOfTarget(c.targetInflight(), c.mss), 63) {
		c.enterProbeBWRefill(now)
	}
}

func (c *Controller) enterProbeBWRefill(now time.Time) {
	c.model.bwLo = 0
	c.model.inflightLo = 0
	c.bwProbeSamples = 0
	c.bwProbeUpRounds = 0
	c.bwProbeUpAcks = 0
	c.ackPhase = AckPhaseRefilling
	c.transition(now, PhaseProbeBWRefill)
	c.startRound()
}

func (c *Controller) stepProbeBWRefill(now time.Time, s Sample) {
	c.maybeAdvanceCycle(s)
	if c.roundStart {
		c.bwProbeSamples = 1
		c.enterProbeBWUp(now)
	}
}

func (c *Controller) enterProbeBWUp(now time.Time) {
	c.ackPhase = AckPhaseProbeStarting
	c.cycleStamp = now
	c.transition(now, PhaseProbeBWUp)
	c.startRound()
	c.raiseInflightHiSlope()
}

func (c *Controller) stepProbeBWUp(now time.Time, s Sample) {
	c.maybeAdvanceCycle(s)
	c.adaptUpperBounds(now, s)
	if c.phase != PhaseProbeBWUp {
		return
	}
	if c.model.minRTT != RTTUnknown && now.Sub(c.cycleStamp) >= c.model.minRTT {
		target := c.model.inflightAt(c.model.maxBw, 1.25, c.sendQuantum, c.mss, c.phase)
		if c.path.BytesInTransit() > target {
			c.enterProbeBWDown(now)
		}
	}
}

// raiseInflightHiSlope resets the per-round growth schedule for probing
// inflight_hi upward: the growth step doubles each round the probe holds.
func (c *Controller) raiseInflightHiSlope() {
	growth := uint64(mssOrDefault(c.mss)) << c.bwProbeUpRounds
	if c.bwProbeUpRounds < 30 {
		c.bwProbeUpRounds++
	}
	c.bwProbeUpCnt = c.cwin / growth
	if c.bwProbeUpCnt == 0 {
		c.bwProbeUpCnt = 1
	}
}

// probeInflightHiUpward adds an MSS to inflight_hi for every
// bw_probe_up_cnt bytes acked while the window is the limiting factor.
func (c *Controller) probeInflightHiUpward(s Sample) {
	if !s.IsCwndLimited || c.cwin < c.model.inflightHi {
		return
	}
	c.bwProbeUpAcks += s.NewlyAcked
	if c.bwProbeUpAcks >= c.bwProbeUpCnt {
		delta := c.bwProbeUpAcks / c.bwProbeUpCnt
		c.bwProbeUpAcks -= delta * c.bwProbeUpCnt
		c.model.inflightHi += delta * uint64(mssOrDefault(c.mss))
	}
	if c.roundStart {
		c.raiseInflightHiSlope()
	}
}

// adaptUpperBounds reacts to a too-high loss fraction while probing, and
// otherwise grows inflight_hi/bw_hi while it remains safe to do so.
func (c *Controller) adaptUpperBounds(now time.Time, s Sample) {
	if c.bwProbeSamples > 0 && isInflightTooHigh(s) {
		c.handleInflightTooHigh(now, s)
		return
	}
	if c.model.inflightHi == 0 {
		return
	}
	if s.TxInFlight > c.model.inflightHi {
		c.model.inflightHi = s.TxInFlight
	}
	if c.model.bwHi == 0 || c.model.maxBw > c.model.bwHi {
		c.model.bwHi = c.model.maxBw
	}
	if c.phase == PhaseProbeBWUp {
		c.probeInflightHiUpward(s)
	}
}

func (c *Controller) maybeAdvanceCycle(s Sample) {
	switch c.ackPhase {
	case AckPhaseProbeStarting:
		if c.roundStart {
			c.ackPhase = AckPhaseProbeFeedback
		}
	case AckPhaseProbeStopping:
		if c.roundStart {
			c.bwProbeSamples = 0
			c.ackPhase = AckPhaseProbeFeedback
			if c.phase.isProbeBW() && !s.IsAppLimited {
				c.cycleCount++
				c.model.maxBwFilter.startPeriod(c.cycleCount)
			}
		}
	}
}

func (c *Controller) probeWaitElapsed(now time.Time) bool {
	return !c.cycleStamp.IsZero() && now.Sub(c.cycleStamp) >= c.bwProbeWait
}

func (c *Controller) checkEnterProbeRTT(now time.Time) {
	if c.probeRTTExpired && !c.idleRestart {
		c.enterProbeRTT(now)
	}
}

func (c *Controller) enterProbeRTT(now time.Time) {
	c.priorCwnd = c.cwin
	c.probeRTTDoneStamp = time.Time{}
	c.ackPhase = AckPhaseProbeStopping
	c.transition(now, PhaseProbeRTT)
	c.startRound()
}

func (c *Controller) stepProbeRTT(now time.Time, s Sample) {
	probeCwnd := c.model.bdpMultiple(probeRTTCwndGain, c.mss)
	floor := uint64(minPipeCwndInMSS * mssOrDefault(c.mss))
	if probeCwnd < floor {
		probeCwnd = floor
	}
	if c.probeRTTDoneStamp.IsZero() {
		if c.path.BytesInTransit() <= probeCwnd {
			c.probeRTTDoneStamp = now.Add(probeRTTDuration)
			c.probeRTTRoundDone = false
			c.startRound()
		}
		return
	}
	if c.roundStart {
		c.probeRTTRoundDone = true
	}
	if c.probeRTTRoundDone && now.After(c.probeRTTDoneStamp) {
		c.probeRTTMinStamp = now
		c.probeRTTExpired = false
		c.model.minRTTStamp = now
		if c.cwin < c.priorCwnd {
			c.cwin = c.priorCwnd
		}
		if c.filledPipe {
			c.enterProbeBWDown(now)
			c.transition(now, PhaseProbeBWCruise)
		} else {
			c.transition(now, PhaseStartup)
		}
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func mssUnitsOfTarget(target uint64, mss int) uint64 {
	m := uint64(mssOrDefault(mss))
	return target / m
}
