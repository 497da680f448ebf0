package resilience

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState reports the breaker state per target: 0=closed, 1=open, 2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts state transitions.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts transitions into the open state.
	BreakerOpenedTotal *prometheus.CounterVec
)

// MustRegisterMetrics creates and registers the breaker collectors.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"})
		BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Number of times a breaker transitioned into open state",
		}, []string{"target"})

		for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(fmt.Errorf("register breaker metric: %w", err))
				}
			}
		}
	})
}
