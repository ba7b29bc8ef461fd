// Package metrics exposes the Prometheus counters and gauges the Pipeline
// Core and its collaborators update as they run, grounded on the
// nil-receiver-safe metrics structs in pkg/metrics/prometheus of the
// retrieval pack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the pipeline reports. A nil *Metrics
// is safe to call methods on — every method is a no-op — so callers that
// didn't wire metrics pay no overhead.
type Metrics struct {
	blocksSeen       *prometheus.CounterVec
	bytesPacked      prometheus.Counter
	volumesRotated   prometheus.Counter
	volumesUploaded  prometheus.Counter
	openVolumeBytes  *prometheus.GaugeVec
	uploadErrors     prometheus.Counter
}

// New registers the pipeline's metrics against reg and returns a *Metrics
// bound to it. Pass a fresh *prometheus.Registry per process, or
// prometheus.DefaultRegisterer as `run` does.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		blocksSeen: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockpack_blocks_seen_total",
				Help: "Total blocks processed by the pipeline, by outcome (new, duplicate).",
			},
			[]string{"outcome"},
		),
		bytesPacked: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "blockpack_bytes_packed_total",
			Help: "Total uncompressed bytes written into volumes.",
		}),
		volumesRotated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "blockpack_volumes_rotated_total",
			Help: "Total volumes closed due to capacity rotation.",
		}),
		volumesUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "blockpack_volumes_uploaded_total",
			Help: "Total volumes successfully uploaded and finalized.",
		}),
		openVolumeBytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockpack_open_volume_bytes",
				Help: "Durable byte size of each shard's currently open volume.",
			},
			[]string{"shard"},
		),
		uploadErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "blockpack_upload_errors_total",
			Help: "Total upload attempts that returned an error.",
		}),
	}
}

func (m *Metrics) BlockSeen(outcome string) {
	if m == nil {
		return
	}
	m.blocksSeen.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BytesPacked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesPacked.Add(float64(n))
}

func (m *Metrics) VolumeRotated() {
	if m == nil {
		return
	}
	m.volumesRotated.Inc()
}

func (m *Metrics) VolumeUploaded() {
	if m == nil {
		return
	}
	m.volumesUploaded.Inc()
}

func (m *Metrics) OpenVolumeBytes(shard string, n int64) {
	if m == nil {
		return
	}
	m.openVolumeBytes.WithLabelValues(shard).Set(float64(n))
}

func (m *Metrics) UploadError() {
	if m == nil {
		return
	}
	m.uploadErrors.Inc()
}
