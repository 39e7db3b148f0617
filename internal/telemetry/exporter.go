// Package telemetry is the ambient Prometheus + HDR-histogram sidecar
// for the congestion controller: it polls the controller's accessors on
// an external cadence and exports them as real prometheus.Gauge objects
// plus HDR histograms for percentile queries.
package telemetry

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Observable is the read-only surface the exporter polls. A
// *congestion.Controller satisfies this without telemetry importing the
// congestion package's internals.
type Observable interface {
	GetCWND() uint64
	GetPacingRate() int64
	GetBandwidth() uint64
	GetMinRTT() time.Duration
	GetLossRate() float64
	PhaseOrdinal() int
}

// Options configures the exporter's histogram ranges and metric
// namespace. This is the only ambient configuration surface; it never
// touches the algorithm's own tunables.
type Options struct {
	Namespace        string
	RTTHistogramMaxUs int64
	BWHistogramMaxBps int64
}

// DefaultOptions returns histogram ranges wide enough for RTT up to 10s
// and bandwidth up to 100 GB/s.
func DefaultOptions() Options {
	return Options{
		Namespace:         "bbr",
		RTTHistogramMaxUs: 10_000_000,  // 10s
		BWHistogramMaxBps: 100_000_000_000, // 100 GB/s
	}
}

// Exporter polls an Observable and updates Prometheus gauges plus HDR
// histograms for percentile queries over RTT and bandwidth samples.
type Exporter struct {
	obs  Observable
	opts Options

	phase      prometheus.Gauge
	bandwidth  prometheus.Gauge
	cwnd       prometheus.Gauge
	pacingRate prometheus.Gauge
	lossRate   prometheus.Gauge

	rttHist *hdrhistogram.Histogram
	bwHist  *hdrhistogram.Histogram

	stopCh chan struct{}
}

// New builds an Exporter registered against reg (use
// prometheus.NewRegistry() in tests to avoid global-registry collisions).
func New(obs Observable, reg prometheus.Registerer, opts Options) *Exporter {
	e := &Exporter{
		obs:  obs,
		opts: opts,
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: "phase", Help: "current controller phase, as an ordinal",
		}),
		bandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: "bandwidth_bytes_per_second", Help: "bound bandwidth estimate",
		}),
		cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: "cwnd_bytes", Help: "congestion window",
		}),
		pacingRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: "pacing_rate_bytes_per_second", Help: "derived pacing rate",
		}),
		lossRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Name: "loss_rate_smoothed", Help: "EWMA-smoothed loss rate",
		}),
		rttHist: hdrhistogram.New(1, opts.RTTHistogramMaxUs, 3),
		bwHist:  hdrhistogram.New(1, opts.BWHistogramMaxBps, 3),
	}
	reg.MustRegister(e.phase, e.bandwidth, e.cwnd, e.pacingRate, e.lossRate)
	return e
}

// Collect reads the controller's current outputs into the gauges and
// histograms. Safe to call concurrently with the controller's own
// notification path since Observable's accessors are thread-safe.
func (e *Exporter) Collect() {
	bw := e.obs.GetBandwidth()
	cwnd := e.obs.GetCWND()
	rate := e.obs.GetPacingRate()
	rtt := e.obs.GetMinRTT()
	loss := e.obs.GetLossRate()

	e.phase.Set(float64(e.obs.PhaseOrdinal()))
	e.bandwidth.Set(float64(bw))
	e.cwnd.Set(float64(cwnd))
	e.pacingRate.Set(float64(rate))
	e.lossRate.Set(loss)

	if bw > 0 {
		_ = e.bwHist.RecordValue(int64(bw))
	}
	if rtt > 0 && rtt < time.Hour {
		_ = e.rttHist.RecordValue(rtt.Microseconds())
	}
}

// Start begins polling Collect on the given interval until Stop is
// called.
func (e *Exporter) Start(interval time.Duration) {
	e.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Collect()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop ends the polling goroutine started by Start. Safe to call even if
// Start was never called.
func (e *Exporter) Stop() {
	if e.stopCh != nil {
		close(e.stopCh)
	}
}

// RTTPercentile returns the RTT value (microseconds) at the given
// percentile (0-100).
func (e *Exporter) RTTPercentile(p float64) int64 {
	return e.rttHist.ValueAtQuantile(p)
}

// BandwidthPercentile returns the bandwidth value (bytes/s) at the given
// percentile.
func (e *Exporter) BandwidthPercentile(p float64) int64 {
	return e.bwHist.ValueAtQuantile(p)
}
