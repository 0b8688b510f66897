package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "cross_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(value float64) {
	p.gauge.Set(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		OpportunitiesFound:   promCounter{counter("opportunities_found_total", "Total number of spreads that cleared the dynamic threshold.")},
		AttemptsSettled:      promCounter{counter("attempts_settled_total", "Total number of attempts with both legs filled.")},
		AttemptsAborted:      promCounter{counter("attempts_aborted_total", "Total number of attempts aborted before any leg went live.")},
		AttemptsFailed:       promCounter{counter("attempts_failed_total", "Total number of attempts that ended in compensation.")},
		CompensationFailures: promCounter{counter("compensation_failures_total", "Total number of compensation attempts that could not flatten a leg.")},
		PairsTracked:         promGauge{gauge("pairs_tracked", "Size of the current cross-venue pair universe.")},
		AllocationUSD:        promGauge{gauge("allocation_usd", "Current per-trade capital allocation.")},
		EquityUSD:            promGauge{gauge("equity_usd", "Last combined equity reading across venues.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
