package congestion

// setPacingRate derives the pacing rate from the current gain and bound
// bandwidth, applying the one-percent margin and refusing to lower the
// rate before the pipe is filled.
func (c *Controller) setPacingRate() {
	rate := c.pacingGain * float64(c.model.bw) * float64(100-pacingMarginPercent) / 100
	newRate := int64(rate)
	if (c.filledPipe || newRate > c.pacingRate) && newRate != c.pacingRate {
		c.pacingRate = newRate
		c.emit("pacing_rate", map[string]any{"rate": newRate})
	}
}

// setSendQuantum clamps the quantum derived from the pacing rate.
func (c *Controller) setSendQuantum() {
	floor := int64(mssOrDefault(c.mss))
	if c.pacingRate >= sendQuantumLowRateBps {
		floor = 2 * int64(mssOrDefault(c.mss))
	}
	q := c.pacingRate / 1000
	if q < floor {
		q = floor
	}
	if q > sendQuantumMax {
		q = sendQuantumMax
	}
	if uint64(q) != c.sendQuantum {
		c.sendQuantum = uint64(q)
		c.emit("send_quantum", map[string]any{"quantum": c.sendQuantum})
	}
}

// setCwnd is the full C7 cwnd derivation: max-inflight target, recovery
// modulation, growth, then the phase-dependent caps.
func (c *Controller) setCwnd(s Sample) {
	prior := c.cwin
	c.model.updateMaxInflight(c.cwndGain, c.sendQuantum, c.mss, c.phase)
	c.modulateCwndForRecovery(s)

	if !c.packetConservation {
		minMSS := uint64(minPipeCwndInMSS * mssOrDefault(c.mss))
		if c.filledPipe {
			if c.cwin+s.NewlyAcked < c.model.maxInflight {
				c.cwin += s.NewlyAcked
			} else {
				c.cwin = c.model.maxInflight
			}
		} else if c.cwin < c.model.maxInflight || c.path.Delivered() < uint64(initialCwndInMSS*mssOrDefault(c.mss)) {
			c.cwin += s.NewlyAcked
		}
		if c.cwin < minMSS {
			c.cwin = minMSS
		}
	}

	if c.phase == PhaseProbeRTT {
		probeCwnd := c.model.bdpMultiple(probeRTTCwndGain, c.mss)
		floor := uint64(minPipeCwndInMSS * mssOrDefault(c.mss))
		if probeCwnd < floor {
			probeCwnd = floor
		}
		if c.cwin > probeCwnd {
			c.cwin = probeCwnd
		}
	}

	if c.phase.isProbeBW() && c.phase != PhaseProbeBWCruise && c.model.inflightHi != 0 && c.cwin > c.model.inflightHi {
		c.cwin = c.model.inflightHi
	}
	if (c.phase == PhaseProbeBWCruise || c.phase == PhaseProbeRTT) && c.model.inflightHi != 0 {
		headroom := uint64(float64(c.model.inflightHi) * (1 - headroomPct))
		if c.cwin > headroom {
			c.cwin = headroom
		}
	}
	if c.model.inflightLo != 0 && c.cwin > c.model.inflightLo {
		c.cwin = c.model.inflightLo
	}

	floor := uint64(minPipeCwndInMSS * mssOrDefault(c.mss))
	if c.cwin < floor {
		c.cwin = floor
	}
	if c.cwin != prior {
		c.emit("cwnd", map[string]any{"cwin": c.cwin})
	}
}

// modulateCwndForRecovery applies the loss-driven cwnd reduction and the
// packet-conservation override.
func (c *Controller) modulateCwndForRecovery(s Sample) {
	minMSS := uint64(defaultMSS)
	if c.mss > 0 {
		minMSS = uint64(c.mss)
	}
	if s.NewlyLost > 0 {
		if c.cwin > s.NewlyLost+minMSS {
			c.cwin -= s.NewlyLost
		} else {
			c.cwin = minMSS
		}
	}
	if c.packetConservation {
		target := c.path.BytesInTransit() + s.NewlyAcked
		if target > c.cwin {
			c.cwin = target
		}
	}
}
