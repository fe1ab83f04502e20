package fund

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every fund built against one registry. Series
// are labelled by fund address.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	totalAssets *prometheus.GaugeVec
	totalSupply *prometheus.GaugeVec
}

// NewMetrics creates the fund collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lpfund",
			Name:      "operations_total",
			Help:      "Fund operations by outcome.",
		}, []string{"fund", "operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lpfund",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in fund operations, including venue calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"fund", "operation"}),
		totalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lpfund",
			Name:      "total_assets",
			Help:      "Last computed total assets in invest token units.",
		}, []string{"fund"}),
		totalSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lpfund",
			Name:      "total_supply",
			Help:      "Outstanding fund shares.",
		}, []string{"fund"}),
	}
	reg.MustRegister(m.operations, m.duration, m.totalAssets, m.totalSupply)
	return m
}

// observe starts timing op and returns a func that records its outcome.
func (f *Fund) observe(op string) func(err error) {
	fund := f.address.Hex()
	timer := prometheus.NewTimer(f.metrics.duration.WithLabelValues(fund, op))
	return func(err error) {
		timer.ObserveDuration()
		result := "ok"
		if err != nil {
			result = "error"
		}
		f.metrics.operations.WithLabelValues(fund, op, result).Inc()
	}
}

func (f *Fund) setTotalAssets(v *big.Int) {
	g, _ := new(big.Float).SetInt(v).Float64()
	f.metrics.totalAssets.WithLabelValues(f.address.Hex()).Set(g)
}

func (f *Fund) setTotalSupply() {
	g, _ := new(big.Float).SetInt(f.totalSupply).Float64()
	f.metrics.totalSupply.WithLabelValues(f.address.Hex()).Set(g)
}
