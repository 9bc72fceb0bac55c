package conversion

import "github.com/prometheus/client_golang/prometheus"

var (
	conversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaconv_conversions_total",
		Help: "Conversion attempts by format and final state.",
	}, []string{"format", "outcome"})

	stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediaconv_conversion_step_seconds",
		Help:    "Duration of each pipeline step.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"step"})
)

func init() {
	prometheus.MustRegister(conversionsTotal, stepDuration)
}
