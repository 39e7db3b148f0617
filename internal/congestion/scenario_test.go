package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathbbr/internal/hystart"
)

// Drain should hand off to ProbeBW_Down once bytes in transit fall to the
// unity-gain inflight target.
func TestScenarioDrainToProbeBWDown(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)

	rate := uint64(1_250_000)
	for i := 0; i < 40 && c.phase != PhaseDrain; i++ {
		clock.advance(20 * time.Millisecond)
		path.delivered += 25_000
		path.bytesInTransit = 50_000
		c.Acknowledgement(Sample{
			Delivered: path.delivered, DeliveryRate: rate, RTTSample: 20 * time.Millisecond,
			NewlyAcked: 25_000, TxInFlight: 50_000,
		})
	}
	require.Equal(t, PhaseDrain, c.phase)

	for i := 0; i < 10 && c.phase != PhaseProbeBWDown; i++ {
		clock.advance(20 * time.Millisecond)
		path.delivered += 5_000
		path.bytesInTransit = 5_000
		c.Acknowledgement(Sample{
			Delivered: path.delivered, DeliveryRate: rate, RTTSample: 20 * time.Millisecond,
			NewlyAcked: 5_000, TxInFlight: 5_000,
		})
	}
	assert.Equal(t, PhaseProbeBWDown, c.phase, "Drain should hand off to ProbeBW_Down once the path drains")
	assert.False(t, c.cycleStamp.IsZero(), "ProbeBW_Down entry should anchor the cycle stamp")
	assert.GreaterOrEqual(t, c.bwProbeWait, 2*time.Second, "probe wait below its 2s base")
	assert.LessOrEqual(t, c.bwProbeWait, 3*time.Second, "probe wait above its 3s ceiling")
}

// Once in the ProbeBW cycle, the controller should visit Down, Refill,
// and Up rather than sticking in a single sub-phase.
func TestScenarioProbeBWCyclesThroughSubphases(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)

	visited := map[Phase]bool{}
	rate := uint64(1_250_000)
	for i := 0; i < 400; i++ {
		clock.advance(20 * time.Millisecond)
		path.delivered += 20_000
		path.bytesInTransit = 20_000
		c.Acknowledgement(Sample{
			Delivered: path.delivered, DeliveryRate: rate, RTTSample: 20 * time.Millisecond,
			NewlyAcked: 20_000, TxInFlight: 20_000,
		})
		visited[c.phase] = true
		assertInvariants(t, c)
		if visited[PhaseProbeBWDown] && visited[PhaseProbeBWRefill] && visited[PhaseProbeBWUp] {
			break
		}
	}

	assert.True(t, visited[PhaseProbeBWDown], "ProbeBW cycle should visit Down")
	assert.True(t, visited[PhaseProbeBWRefill], "ProbeBW cycle should visit Refill")
	assert.True(t, visited[PhaseProbeBWUp], "ProbeBW cycle should visit Up")
}

// assertInvariants spot-checks the always-true properties after a
// notification: cwnd floor, bandwidth bounds, loss-rate range, gain
// table, and the send-quantum clamp.
func assertInvariants(t *testing.T, c *Controller) {
	t.Helper()
	assert.GreaterOrEqual(t, c.cwin, uint64(minPipeCwndInMSS*defaultMSS))
	assert.LessOrEqual(t, c.model.bw, c.model.maxBw)
	if c.model.bwHi != 0 {
		assert.LessOrEqual(t, c.model.bw, c.model.bwHi)
	}
	if c.model.bwLo != 0 {
		assert.LessOrEqual(t, c.model.bw, c.model.bwLo)
	}
	assert.GreaterOrEqual(t, c.loss.lossRateSmoothed, 0.0)
	assert.LessOrEqual(t, c.loss.lossRateSmoothed, 1.0)
	if gains, ok := probeBWGains[c.phase]; ok {
		assert.Equal(t, gains.pacing, c.pacingGain)
		assert.Equal(t, gains.cwnd, c.cwndGain)
	}
	assert.GreaterOrEqual(t, c.sendQuantum, uint64(sendQuantumMin))
	assert.LessOrEqual(t, c.sendQuantum, uint64(sendQuantumMax))
}

// A loss notification that crosses the inflight-too-high threshold while a
// bandwidth probe is in flight during ProbeBW_Up should force a descent
// back to ProbeBW_Down and record inflight_hi.
func TestScenarioProbeBWUpLossTriggersDescentToDown(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)

	c.phase = PhaseProbeBWUp
	c.bwProbeSamples = 1
	c.cwin = 200_000

	c.Repeat(LossInfo{NewlyLost: 50_000, InflightPrior: 100_000})

	assert.Equal(t, PhaseProbeBWDown, c.phase, "a too-high loss fraction during ProbeBW_Up should force a descent")
	assert.Greater(t, c.model.inflightHi, uint64(0), "inflight_hi should be recorded once loss crosses the threshold")
	assert.Zero(t, c.bwProbeSamples, "the in-flight bandwidth probe should be cleared once loss ends it")
}

// An expired probe-RTT interval forces entry into ProbeRTT, which later exits
// back to steady state once its duration and round requirement are
// satisfied.
func TestScenarioProbeRTTCycleEntersAndExits(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)

	clock.advance(20 * time.Millisecond)
	path.delivered += 30_000
	path.bytesInTransit = 30_000
	c.Acknowledgement(Sample{Delivered: path.delivered, DeliveryRate: 1_000_000, RTTSample: 20 * time.Millisecond, NewlyAcked: 30_000, TxInFlight: 30_000})
	require.NotEqual(t, PhaseProbeRTT, c.phase)

	clock.advance(probeRTTInterval + time.Second)
	path.delivered += 1_000
	path.bytesInTransit = 1_000
	c.Acknowledgement(Sample{Delivered: path.delivered, DeliveryRate: 1_000_000, RTTSample: 20 * time.Millisecond, NewlyAcked: 1_000, TxInFlight: 1_000})
	require.Equal(t, PhaseProbeRTT, c.phase, "an expired probe-RTT interval should force entry into ProbeRTT")

	for i := 0; i < 20 && c.phase == PhaseProbeRTT; i++ {
		clock.advance(probeRTTDuration)
		path.delivered += 1_000
		c.Acknowledgement(Sample{Delivered: path.delivered, DeliveryRate: 1_000_000, RTTSample: 20 * time.Millisecond, NewlyAcked: 1_000, TxInFlight: 1_000})
	}
	assert.NotEqual(t, PhaseProbeRTT, c.phase, "ProbeRTT should exit once its duration and round requirement are satisfied")
}

// The same descent must fire from the ACK path: a delivery sample whose
// loss fraction crosses the threshold while probing ends the probe.
func TestScenarioAckLossInProbeBWUpDescendsToDown(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)

	c.phase = PhaseProbeBWUp
	c.bwProbeSamples = 1
	c.cwin = 200_000

	clock.advance(20 * time.Millisecond)
	path.delivered += 10_000
	path.bytesInTransit = 100_000
	c.Acknowledgement(Sample{
		Delivered: path.delivered, DeliveryRate: 1_000_000, RTTSample: 20 * time.Millisecond,
		NewlyAcked: 10_000, NewlyLost: 5_000, Lost: 5_000, TxInFlight: 100_000,
	})

	assert.Equal(t, PhaseProbeBWDown, c.phase)
	assert.Zero(t, c.bwProbeSamples)
	assert.EqualValues(t, 100_000, c.model.inflightHi,
		"inflight_hi should pin to the sample's inflight when it dominates beta times the target")
}

// A HyStart filter that reports an RTT increase ends the long-RTT startup:
// the pipe is considered filled and Drain takes over immediately.
func TestScenarioStartupLongRTTHyStartExitEntersDrain(t *testing.T) {
	path := newFakePath()
	path.rttMin = 200 * time.Millisecond
	path.smoothedRTT = 200 * time.Millisecond
	clock := newFakeClock()
	c := New(path, WithHyStartFilter(exitingHyStart{}), WithClock(clock.now))
	c.Init()
	require.Equal(t, PhaseStartupLongRTT, c.phase)
	require.EqualValues(t, 2*initialCwndInMSS*defaultMSS, c.cwin,
		"a 200ms path should start with the initial window scaled by rtt_min/100ms")

	clock.advance(200 * time.Millisecond)
	path.delivered += 10_000
	path.bytesInTransit = 500_000 // too full for the Drain-exit check to pass yet
	c.Acknowledgement(Sample{
		Delivered: path.delivered, DeliveryRate: 1_000_000, RTTSample: 220 * time.Millisecond,
		NewlyAcked: 10_000, TxInFlight: 500_000,
	})

	assert.True(t, c.filledPipe)
	assert.Equal(t, PhaseDrain, c.phase)
	assert.Equal(t, drainPacingGain, c.pacingGain)
}

// The shipped HyStart++ filter, wired for real: a stable-RTT satellite
// path must keep the long-RTT startup running rather than exit early.
func TestScenarioStartupLongRTTWithRealHyStartFilter(t *testing.T) {
	path := newFakePath()
	path.rttMin = 200 * time.Millisecond
	path.smoothedRTT = 200 * time.Millisecond
	clock := newFakeClock()
	c := New(path, WithHyStartFilter(hystart.New()), WithClock(clock.now))
	c.Init()
	require.Equal(t, PhaseStartupLongRTT, c.phase)

	for i := 0; i < 10; i++ {
		clock.advance(200 * time.Millisecond)
		path.delivered += 20_000
		path.bytesInTransit = 40_000
		c.Acknowledgement(Sample{
			Delivered: path.delivered, DeliveryRate: 500_000, RTTSample: 200 * time.Millisecond,
			NewlyAcked: 20_000, TxInFlight: 40_000,
		})
	}
	assert.Equal(t, PhaseStartupLongRTT, c.phase, "a stable-RTT path should keep the long-RTT startup running")
}

type exitingHyStart struct{}

func (exitingHyStart) RTTTest(time.Duration, time.Duration, time.Time) bool { return true }
func (exitingHyStart) LossVolumeTest(uint64, uint64) bool                   { return false }
func (exitingHyStart) Increase(acked uint64) uint64                        { return acked }

// Reset followed by the same notification sequence must reproduce the
// same output trace, since the seed derivation reuses the same inputs.
func TestResetReplaysIdenticalTrace(t *testing.T) {
	run := func(c *Controller, path *fakePath, clock *fakeClock) []uint64 {
		var trace []uint64
		for i := 0; i < 10; i++ {
			clock.advance(10 * time.Millisecond)
			path.delivered += 10_000
			path.bytesInTransit = 20_000
			c.Acknowledgement(Sample{
				Delivered: path.delivered, DeliveryRate: 800_000, RTTSample: 15 * time.Millisecond,
				NewlyAcked: 10_000, TxInFlight: 20_000,
			})
			trace = append(trace, c.cwin, uint64(c.pacingRate), c.sendQuantum)
		}
		return trace
	}

	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)
	first := run(c, path, clock)

	// Rewind the world to the initial conditions before replaying.
	*path = *newFakePath()
	*clock = *newFakeClock()
	c.Reset()
	second := run(c, path, clock)

	assert.Equal(t, first, second, "Reset followed by the same sequence should reproduce the identical trace")
}

// bw_lo/inflight_lo must re-anchor to this round's actual peak delivery
// rate and inflight volume, not just decay the prior bound by beta every
// lossy round. This directly exercises model.bwLatest/inflightLatest.
func TestLossLowerBoundsReanchorToLatestDeliverySignal(t *testing.T) {
	path := newFakePath()
	clock := newFakeClock()
	c, _ := newTestController(path, clock)
	path.bytesInTransit = 100_000

	// Round 1: no loss, establishes a 5 MB/s / 100KB peak.
	clock.advance(20 * time.Millisecond)
	path.delivered = 50_000
	c.Acknowledgement(Sample{
		Delivered: 0, DeliveryRate: 5_000_000, RTTSample: 20 * time.Millisecond,
		NewlyAcked: 40_000, TxInFlight: 100_000,
	})
	require.Equal(t, PhaseStartup, c.phase)

	// Round 2: a lossy round at a somewhat lower rate/inflight.
	clock.advance(20 * time.Millisecond)
	path.delivered = 130_000
	c.Acknowledgement(Sample{
		Delivered: 50_000, DeliveryRate: 4_000_000, RTTSample: 20 * time.Millisecond,
		NewlyAcked: 60_000, NewlyLost: 20_000, TxInFlight: 90_000,
	})

	assert.EqualValues(t, 5_000_000, c.model.bwLo,
		"bw_lo should re-anchor to the round's peak delivery rate rather than just decay by beta")
	assert.EqualValues(t, 100_000, c.model.inflightLo,
		"inflight_lo should re-anchor to the round's peak inflight rather than just decay by beta")
}
