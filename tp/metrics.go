package tp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the encoder counters, labelled by pool.
type Metrics struct {
	Dispatched     *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	Rollbacks      *prometheus.CounterVec
	EncodeFailures *prometheus.CounterVec
	Confirmations  *prometheus.CounterVec
	Cancelled      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_slots_dispatched_total",
			Help: "Transmit slots accepted by the media.",
		}, []string{"pool", "role"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_transmit_rejected_total",
			Help: "Transmit requests rejected by the media.",
		}, []string{"pool"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_round_rollbacks_total",
			Help: "Dispatch rounds rolled back because the last slot was rejected.",
		}, []string{"pool"}),
		EncodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_encode_failures_total",
			Help: "Trigger transmit calls that produced no frame.",
		}, []string{"pool", "reason"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_confirmations_total",
			Help: "Slots confirmed to the connection state.",
		}, []string{"pool", "role"}),
		Cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frartp_cancelled_slots_total",
			Help: "Occupied slots released by connection cancellation.",
		}, []string{"pool"}),
	}
	if reg != nil {
		reg.MustRegister(m.Dispatched, m.Rejected, m.Rollbacks, m.EncodeFailures, m.Confirmations, m.Cancelled)
	}
	return m
}

func poolLabel(p PoolID) string {
	return strconv.Itoa(int(p))
}
