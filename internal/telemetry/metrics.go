package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	movesAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dissolve_moves_attempted_total",
		Help: "Monte Carlo trials attempted by move",
	}, []string{"move"})

	movesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dissolve_moves_accepted_total",
		Help: "Monte Carlo trials accepted by move",
	}, []string{"move"})

	stepSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dissolve_move_step_size",
		Help: "Current adaptive step size by move and step",
	}, []string{"move", "step"})

	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dissolve_pass_duration_seconds",
		Help:    "Wall time of one move pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"move"})

	energy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dissolve_energy_kj_mol",
		Help: "Configuration energy by contribution",
	}, []string{"contribution"})

	contentVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dissolve_configuration_version",
		Help: "Content version of the configuration",
	})

	temperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dissolve_md_temperature_kelvin",
		Help: "Instantaneous temperature after the last MD run",
	})
)

// ObservePass records the outcome of one move pass.
func ObservePass(move string, attempted, accepted int, elapsed time.Duration, steps map[string]float64) {
	movesAttempted.WithLabelValues(move).Add(float64(attempted))
	movesAccepted.WithLabelValues(move).Add(float64(accepted))
	passDuration.WithLabelValues(move).Observe(elapsed.Seconds())
	for name, v := range steps {
		stepSize.WithLabelValues(move, name).Set(v)
	}
}

func ObserveEnergy(pair, intra float64) {
	energy.WithLabelValues("pair").Set(pair)
	energy.WithLabelValues("intramolecular").Set(intra)
	energy.WithLabelValues("total").Set(pair + intra)
}

func ObserveVersion(v uint64) { contentVersion.Set(float64(v)) }

func ObserveTemperature(t float64) { temperature.Set(t) }
