package congestion

import "time"

// fakePath is a minimal, in-memory PathInfo used across the congestion
// package's tests. Time and delivery progress are advanced explicitly by
// the test so scenarios are fully deterministic.
type fakePath struct {
	delivered      uint64
	bytesInTransit uint64
	mtu            int
	smoothedRTT    time.Duration
	rttVariant     time.Duration
	rttMin         time.Duration
	bwEstimate     uint64
	peakBw         uint64
	pacingPktTime  time.Duration
	lastAckedSend  time.Time
	lastSenderLim  time.Time
	pathID         uint64
	clientMode     bool

	cwin         uint64
	ssthreshInit bool
	ccDataUpdate bool
}

func newFakePath() *fakePath {
	return &fakePath{
		mtu:         defaultMSS,
		smoothedRTT: 20 * time.Millisecond,
		rttVariant:  2 * time.Millisecond,
		rttMin:      20 * time.Millisecond,
		pathID:      1,
		clientMode:  true,
	}
}

func (p *fakePath) Delivered() uint64                 { return p.delivered }
func (p *fakePath) BytesInTransit() uint64             { return p.bytesInTransit }
func (p *fakePath) SendMTU() int                       { return p.mtu }
func (p *fakePath) SmoothedRTT() time.Duration         { return p.smoothedRTT }
func (p *fakePath) RTTVariant() time.Duration          { return p.rttVariant }
func (p *fakePath) RTTMin() time.Duration              { return p.rttMin }
func (p *fakePath) BandwidthEstimate() uint64          { return p.bwEstimate }
func (p *fakePath) PeakBandwidthEstimate() uint64      { return p.peakBw }
func (p *fakePath) PacingPacketTime() time.Duration    { return p.pacingPktTime }
func (p *fakePath) LastAckedDataFrameSentAt() time.Time { return p.lastAckedSend }
func (p *fakePath) LastSenderLimitedAt() time.Time      { return p.lastSenderLim }
func (p *fakePath) UniquePathID() uint64               { return p.pathID }
func (p *fakePath) ClientMode() bool                   { return p.clientMode }
func (p *fakePath) SetCwin(v uint64)                   { p.cwin = v }
func (p *fakePath) SetSSThresholdInitialized(v bool)   { p.ssthreshInit = v }
func (p *fakePath) SetCCDataUpdated(v bool)            { p.ccDataUpdate = v }

type fakePacer struct {
	lastRate    int64
	lastQuantum uint64
}

func (f *fakePacer) SetRate(bps int64, sendQuantum uint64) {
	f.lastRate = bps
	f.lastQuantum = sendQuantum
}
