package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biolock_logins_total",
		Help: "Total number of login attempts by method and result.",
	}, []string{"method", "result"})

	TokenRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biolock_token_rotations_total",
		Help: "Total number of tokens written to the registry.",
	})

	UnlockFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biolock_unlock_failures_total",
		Help: "Total number of biometric unlocks that did not produce a session, by reason.",
	}, []string{"reason"})

	EnrollmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biolock_enrollments_total",
		Help: "Total number of encrypted tokens persisted.",
	})
)

// Register registers the custom collectors with reg. Registration errors are
// logged, not returned, so a second call is harmless.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"LoginsTotal":         LoginsTotal,
		"TokenRotationsTotal": TokenRotationsTotal,
		"UnlockFailuresTotal": UnlockFailuresTotal,
		"EnrollmentsTotal":    EnrollmentsTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
	log.Debug().Msg("Custom Prometheus metrics registered.")
}
