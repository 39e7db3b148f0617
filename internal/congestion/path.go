package congestion

import "time"

// PathInfo is the read/write view the controller has of the transport's
// per-path counters. The controller never imports the transport package;
// the transport adapts its own path struct to this interface instead.
type PathInfo interface {
	Delivered() uint64
	BytesInTransit() uint64
	SendMTU() int
	SmoothedRTT() time.Duration
	RTTVariant() time.Duration
	RTTMin() time.Duration
	BandwidthEstimate() uint64     // bytes/s, 0 if unknown
	PeakBandwidthEstimate() uint64 // bytes/s, 0 if unknown
	PacingPacketTime() time.Duration
	LastAckedDataFrameSentAt() time.Time
	LastSenderLimitedAt() time.Time
	UniquePathID() uint64
	ClientMode() bool

	SetCwin(v uint64)
	SetSSThresholdInitialized(v bool)
	SetCCDataUpdated(v bool)
}

// Sample is the per-ACK delivery sample built by the caller (or by
// BuildSample, the C3 adapter helper below) and fed to Acknowledgement.
type Sample struct {
	Delivered                uint64
	DeliveryRate             uint64 // bytes/s, 0 means "derive it"
	RTTSample                time.Duration
	RTTMeasurement           time.Duration
	NewlyAcked               uint64
	NewlyLost                uint64
	Lost                     uint64
	TxInFlight               uint64
	InflightPrior            uint64
	IsAppLimited             bool
	IsCwndLimited            bool
}

// LossInfo is the payload of a Repeat/Timeout notification.
type LossInfo struct {
	NewlyLost     uint64
	LostSinceSent uint64
	InflightPrior uint64
	PacketSize    int
}

// PacingSink receives the controller's derived pacing output after every
// acknowledgement notification.
type PacingSink interface {
	SetRate(bps int64, sendQuantum uint64)
}

// EventSink observes notable controller transitions. The zero Controller
// uses noopEventSink; WithEventSink installs a real one (e.g. a
// *logging.ZapSink).
type EventSink interface {
	Event(name string, fields map[string]any)
}

type noopEventSink struct{}

func (noopEventSink) Event(string, map[string]any) {}

// BuildSample is the C3 sample adapter: it derives a delivery-rate sample
// from path/ack state when the path doesn't already carry one.
func BuildSample(p PathInfo, deliveredSinceSent uint64, rttMeasurement time.Duration, newlyAcked, newlyLost, lost, txInFlight, inflightPrior uint64, appLimited, cwndLimited bool) Sample {
	rate := p.BandwidthEstimate()
	if rate == 0 {
		if rttMeasurement > 0 {
			rate = uint64(float64(deliveredSinceSent) / rttMeasurement.Seconds())
		} else {
			rate = 40_000
		}
	}
	return Sample{
		Delivered:      p.Delivered(),
		DeliveryRate:   rate,
		RTTSample:      p.SmoothedRTT(),
		RTTMeasurement: rttMeasurement,
		NewlyAcked:     newlyAcked,
		NewlyLost:      newlyLost,
		Lost:           lost,
		TxInFlight:     txInFlight,
		InflightPrior:  inflightPrior,
		IsAppLimited:   appLimited,
		IsCwndLimited:  cwndLimited,
	}
}
