package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prom reports counters to Prometheus.
type Prom struct {
	mirrorHit      prometheus.Counter
	mirrorMiss     prometheus.Counter
	mirrorExpired  prometheus.Counter
	mirrorError    prometheus.Counter
	fetch          *prometheus.CounterVec
	refreshFailure prometheus.Counter
	preload        *prometheus.CounterVec
}

// NewProm creates the collectors under namespace and registers them on reg. A nil reg
// registers on prometheus.DefaultRegisterer, which panics if called twice.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	makeC := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &Prom{
		mirrorHit:     makeC("mirror_hit_total", "Number of fresh mirror reads"),
		mirrorMiss:    makeC("mirror_miss_total", "Number of mirror reads that found nothing"),
		mirrorExpired: makeC("mirror_expired_total", "Number of mirror entries dropped after TTL"),
		mirrorError:   makeC("mirror_errors_total", "Number of absorbed storage failures"),
		fetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Number of requests sent by the fetcher",
		}, []string{"result"}),
		refreshFailure: makeC("refresh_failures_total", "Number of background refreshes that failed"),
		preload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preload_total",
			Help:      "Number of completed preloads by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		p.mirrorHit, p.mirrorMiss, p.mirrorExpired, p.mirrorError,
		p.fetch, p.refreshFailure, p.preload,
	)
	return p
}

func (p *Prom) IncMirrorHit()             { p.mirrorHit.Inc() }
func (p *Prom) IncMirrorMiss()            { p.mirrorMiss.Inc() }
func (p *Prom) IncMirrorExpired()         { p.mirrorExpired.Inc() }
func (p *Prom) IncMirrorError()           { p.mirrorError.Inc() }
func (p *Prom) IncFetch(result string)    { p.fetch.WithLabelValues(result).Inc() }
func (p *Prom) IncRefreshFailure()        { p.refreshFailure.Inc() }
func (p *Prom) IncPreload(outcome string) { p.preload.WithLabelValues(outcome).Inc() }
