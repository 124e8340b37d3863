// Package metrics holds the Prometheus counters for the authentication
// flows. Counters are usable before Register is called, so tests can run
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_logins_success_total",
		Help: "Total number of successful local logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_logins_failure_total",
		Help: "Total number of rejected local logins.",
	})
	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_tokens_refreshed_total",
		Help: "Total number of successful refresh rotations.",
	})
	RefreshReuseDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_refresh_reuse_detected_total",
		Help: "Total number of refresh attempts with a superseded token.",
	})
	FederatedLoginTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_federated_logins_total",
		Help: "Total number of completed federated logins.",
	})
	PrincipalsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_principals_registered_total",
		Help: "Total number of principals created by federated login.",
	})
)

// Register adds the counters to reg. It should be called once at startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics.")
		return
	}
	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		TokensRefreshedTotal,
		RefreshReuseDetectedTotal,
		FederatedLoginTotal,
		PrincipalsRegisteredTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register Prometheus metric")
		}
	}
	log.Info().Msg("Prometheus metrics registered.")
}
