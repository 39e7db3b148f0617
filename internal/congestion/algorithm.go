package congestion

// AlgorithmName and AlgorithmNumber are the identity this package exposes
// to a caller selecting a congestion-control algorithm by name; there is
// only ever one algorithm here.
const (
	AlgorithmName   = "bbr"
	AlgorithmNumber = 1
)
