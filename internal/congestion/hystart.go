package congestion

import "time"

// HyStartFilter is the external collaborator StartupLongRTT delegates to.
// The concrete implementation shipped alongside this package lives in
// internal/hystart; congestion only depends on this three-method contract,
// never on the concrete type.
type HyStartFilter interface {
	// RTTTest reports whether the RTT-increase exit condition has fired.
	RTTTest(rttSample, pacingPacketTime time.Duration, now time.Time) bool
	// LossVolumeTest reports whether accumulated loss volume should also
	// end the long-RTT startup phase.
	LossVolumeTest(newlyAcked, newlyLost uint64) bool
	// Increase returns the linear CWND growth step for a burst of
	// newlyAcked bytes once slow-start has not been sender-limited.
	Increase(newlyAcked uint64) uint64
}
