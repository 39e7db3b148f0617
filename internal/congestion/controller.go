package congestion

import (
	"sync"
	"time"
)

// Controller is the per-path BBRv3 congestion controller: the public
// dispatcher plus all bandwidth, inflight, and phase state it owns. One
// instance belongs to exactly one path; the transport must serialize
// calls to it, except for Observe and the Get*/PhaseOrdinal accessors,
// which read a mutex-guarded snapshot and are safe to call from another
// goroutine.
type Controller struct {
	mu sync.Mutex // guards only the small Observe() snapshot

	path    PathInfo
	pacer   PacingSink
	sink    EventSink
	hystart HyStartFilter

	mss int
	now func() time.Time

	phase    Phase
	ackPhase AckPhase

	model *model
	loss  *lossState
	rng   *rngState

	roundCount         uint64
	roundsSinceProbe   uint64
	roundStart         bool
	nextRoundDelivered uint64

	cwin         uint64
	priorCwnd    uint64
	rtoCwndSaved bool
	pacingRate   int64
	pacingGain   float64
	cwndGain     float64
	sendQuantum  uint64

	filledPipe         bool
	packetConservation bool
	idleRestart        bool
	pathAppLimited     bool

	bwProbeWait        time.Duration
	cycleStamp         time.Time
	bwProbeSamples     int
	cycleCount         uint64
	roundsSinceBWProbe uint64
	bwProbeUpCnt       uint64
	bwProbeUpRounds    uint64
	bwProbeUpAcks      uint64

	probeRTTMinDelay  time.Duration
	probeRTTMinStamp  time.Time
	probeRTTDoneStamp time.Time
	probeRTTExpired   bool
	probeRTTRoundDone bool

	bdpSeed uint64

	phaseEnteredAt map[Phase]time.Time
	phaseDuration  map[Phase]time.Duration

	// snapshot for the concurrency-safe Observe() accessor
	observed struct {
		phase       Phase
		bandwidth   uint64
		cwin        uint64
		pacingRate  int64
		sendQuantum uint64
		lossRate    float64
		minRTT      time.Duration
	}
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithEventSink installs a structured-event observer.
func WithEventSink(sink EventSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithPacingSink installs the pacer the controller pushes rate updates to.
func WithPacingSink(p PacingSink) Option {
	return func(c *Controller) { c.pacer = p }
}

// WithHyStartFilter installs the long-RTT startup collaborator.
func WithHyStartFilter(h HyStartFilter) Option {
	return func(c *Controller) { c.hystart = h }
}

// WithClock overrides the time source; tests use this for determinism.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New constructs a Controller bound to the given path, ready for Init.
func New(path PathInfo, opts ...Option) *Controller {
	c := &Controller{
		path:           path,
		sink:           noopEventSink{},
		now:            time.Now,
		phaseEnteredAt: make(map[Phase]time.Time),
		phaseDuration:  make(map[Phase]time.Duration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init performs first-time initialization. Reset routes here as well, so
// every piece of mutable state is restored explicitly.
func (c *Controller) Init() {
	if c == nil {
		return
	}
	now := c.now()
	c.model = newModel()
	c.loss = &lossState{}
	c.mss = mssOrDefault(c.path.SendMTU())
	c.rng = newRNG(now.UnixNano(), c.path.ClientMode(), c.path.UniquePathID())

	c.ackPhase = AckPhaseProbeStarting
	c.roundCount = 0
	c.roundsSinceProbe = 0
	c.roundStart = false
	c.priorCwnd = 0
	c.rtoCwndSaved = false
	c.pacingRate = 0
	c.filledPipe = false
	c.packetConservation = false
	c.idleRestart = false
	c.pathAppLimited = false
	c.bwProbeWait = 0
	c.cycleStamp = time.Time{}
	c.bwProbeSamples = 0
	c.cycleCount = 0
	c.roundsSinceBWProbe = 0
	c.bwProbeUpCnt = 0
	c.bwProbeUpRounds = 0
	c.bwProbeUpAcks = 0
	c.probeRTTMinDelay = 0
	c.probeRTTMinStamp = time.Time{}
	c.probeRTTDoneStamp = time.Time{}
	c.probeRTTExpired = false
	c.probeRTTRoundDone = false
	c.phaseEnteredAt = make(map[Phase]time.Time)
	c.phaseDuration = make(map[Phase]time.Duration)

	initialCwnd := uint64(initialCwndInMSS * c.mss)
	rttMin := c.path.RTTMin()

	if rttMin > targetRenoRTT {
		c.enterStartupLongRTT(now, rttMin, initialCwnd)
	} else {
		c.phase = PhaseStartup
		c.cwin = initialCwnd
		c.pacingGain = startupPacingGain
		c.cwndGain = startupCwndGain
	}
	c.sendQuantum = uint64(c.mss)
	c.nextRoundDelivered = c.path.Delivered()
	c.phaseEnteredAt[c.phase] = now
	c.path.SetCwin(c.cwin)
	c.emit("init", map[string]any{"phase": c.phase.String(), "cwin": c.cwin})
}

// Reset fully reinitializes the controller at the current time, reusing
// only the same randomized-seed derivation as Init.
func (c *Controller) Reset() {
	if c == nil {
		return
	}
	bdpSeed := c.bdpSeed
	c.Init()
	c.bdpSeed = bdpSeed
	c.emit("reset", nil)
}

// SeedCwnd is the only exposed tunable: it floors the long-RTT startup
// window at a caller-estimated BDP.
func (c *Controller) SeedCwnd(bdpSeed uint64) {
	if c == nil {
		return
	}
	c.bdpSeed = bdpSeed
}

// Acknowledgement is the primary per-ACK notification: it runs the full
// C3->C7 pipeline and publishes the derived pacing output.
func (c *Controller) Acknowledgement(s Sample) {
	if c == nil || c.model == nil {
		return
	}
	now := c.now()

	c.advanceRound(s)
	if c.roundStart {
		c.idleRestart = false
		c.packetConservation = false
	}
	c.pathAppLimited = s.IsAppLimited
	c.loss.updateLatestDeliverySignals(c.path.Delivered(), s.Delivered)
	c.model.updateLatestDeliverySignals(s)
	c.model.updateMaxBw(c.cycleCount, s)
	if s.NewlyLost > 0 {
		c.loss.lossInRound = true
	}
	c.loss.updateSmoothedLossRate(s.NewlyAcked, s.NewlyLost)
	c.updateLowerBounds()
	c.updateRTT(now, s.RTTSample)
	c.model.updateACKAggregation(now, c.path.Delivered(), c.cwin, c.roundCount)

	c.stepStateMachine(now, s)
	if c.phase.isProbeBW() {
		c.model.advanceLatestDeliverySignals(s, c.loss.lossRoundStart)
	}
	c.model.boundBWForModel()

	c.setPacingRate()
	c.setSendQuantum()
	c.setCwnd(s)

	c.path.SetCwin(c.cwin)
	c.path.SetCCDataUpdated(true)
	c.path.SetSSThresholdInitialized(true)

	c.publishObserved()

	if c.pacer != nil {
		if c.phase == PhaseStartupLongRTT {
			// Long-RTT startup publishes the startup pacing gain times
			// the bound bandwidth directly, without the pacing margin
			// and the no-decrease rule that setPacingRate applies.
			c.pacer.SetRate(int64(startupPacingGain*float64(c.model.bw)), c.sendQuantum)
		} else if c.pacingRate > 0 {
			c.pacer.SetRate(c.pacingRate, c.sendQuantum)
		}
	}
}

// updateRTT maintains the two nested RTT windows: the short probe-rtt
// window (probeRTTInterval) that schedules ProbeRTT entries, and the long
// min-rtt window (minRTTFilterWindow) that feeds the BDP. A sample within
// the margin above min_rtt refreshes the long window's stamp so a stable
// path doesn't bump min_rtt on expiry.
func (c *Controller) updateRTT(now time.Time, sample time.Duration) {
	if sample <= 0 {
		return
	}
	c.probeRTTExpired = !c.probeRTTMinStamp.IsZero() && now.Sub(c.probeRTTMinStamp) > probeRTTInterval
	if c.probeRTTMinStamp.IsZero() || c.probeRTTExpired || sample < c.probeRTTMinDelay {
		c.probeRTTMinDelay = sample
		c.probeRTTMinStamp = now
	}

	m := c.model
	minRTTExpired := m.minRTTStamp.IsZero() || now.Sub(m.minRTTStamp) > minRTTFilterWindow
	switch {
	case m.minRTT == RTTUnknown || minRTTExpired || c.probeRTTMinDelay < m.minRTT:
		m.minRTT = c.probeRTTMinDelay
		m.minRTTStamp = c.probeRTTMinStamp
		m.minRTTFilter.reset(uint64(c.probeRTTMinDelay))
	case sample <= m.minRTT+m.minRTT*minRTTMarginPercent/100:
		m.minRTTStamp = now
	}
	m.minRTTFilter.update(uint64(sample))
}

// Repeat notifies the controller of a detected packet loss that is not a
// full retransmission timeout.
func (c *Controller) Repeat(info LossInfo) {
	if c == nil || c.model == nil {
		return
	}
	c.handleLostPacket(c.now(), info)
}

// Timeout notifies the controller of a retransmission timeout (RTO). This
// collapses cwin in addition to running the shared loss handling.
func (c *Controller) Timeout(info LossInfo) {
	if c == nil || c.model == nil {
		return
	}
	now := c.now()
	c.handleLostPacket(now, info)

	mss := uint64(mssOrDefault(c.mss))
	c.priorCwnd = c.cwin
	c.rtoCwndSaved = true
	c.packetConservation = true
	c.startRound()
	target := c.path.BytesInTransit() + mss
	floor := uint64(minPipeCwndInMSS * mssOrDefault(c.mss))
	if target < floor {
		target = floor
	}
	c.cwin = target
	c.path.SetCwin(c.cwin)
	c.emit("rto", map[string]any{"cwin": c.cwin})
}

// SpuriousRepeat restores the window collapsed by a since-proven-spurious
// RTO.
func (c *Controller) SpuriousRepeat() {
	if c == nil {
		return
	}
	if c.rtoCwndSaved && c.priorCwnd > c.cwin {
		c.cwin = c.priorCwnd
		c.path.SetCwin(c.cwin)
	}
	c.rtoCwndSaved = false
	c.emit("spurious_repeat", map[string]any{"cwin": c.cwin})
}

// EcnEchoCongestion is a reserved, currently no-op hook.
func (c *Controller) EcnEchoCongestion() {}

// CwinBlocked is a reserved, currently no-op hook.
func (c *Controller) CwinBlocked() {}

// Observe returns a thread-safe snapshot of the controller's outputs.
func (c *Controller) Observe() (phase Phase, bottleneckBw uint64) {
	if c == nil {
		return PhaseStartup, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.phase, c.observed.bandwidth
}

// Delete releases the controller's state. It is safe to call multiple
// times and on a nil receiver.
func (c *Controller) Delete() {
	if c == nil {
		return
	}
	c.model = nil
	c.loss = nil
}

func (c *Controller) publishObserved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed.phase = c.phase
	c.observed.bandwidth = c.model.bw
	c.observed.cwin = c.cwin
	c.observed.pacingRate = c.pacingRate
	c.observed.sendQuantum = c.sendQuantum
	c.observed.lossRate = c.loss.lossRateSmoothed
	c.observed.minRTT = c.model.minRTT
}

// GetCWND, GetPacingRate, GetBandwidth, GetMinRTT, GetSendQuantum, and
// GetLossRate are read-only accessors the telemetry sidecar polls.
func (c *Controller) GetCWND() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.cwin
}

func (c *Controller) GetPacingRate() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.pacingRate
}

func (c *Controller) GetBandwidth() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.bandwidth
}

func (c *Controller) GetSendQuantum() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.sendQuantum
}

func (c *Controller) GetMinRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observed.minRTT == 0 {
		return RTTUnknown
	}
	return c.observed.minRTT
}

func (c *Controller) GetLossRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.lossRate
}

func (c *Controller) GetPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed.phase
}

// PhaseOrdinal exposes the phase as a plain int so ambient consumers
// (e.g. internal/telemetry) don't need to depend on the Phase type.
func (c *Controller) PhaseOrdinal() int {
	return int(c.GetPhase())
}
