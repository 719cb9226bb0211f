package app

import (
	"grass_farm/internal/session"
	"grass_farm/internal/shared/metrics"
	"grass_farm/proxypool/registry"
)

// multiObserver 把阶段变化依次分发给多个 observer。
type multiObserver []session.Observer

func (m multiObserver) OnTransition(t session.Transition) {
	for _, o := range m {
		o.OnTransition(t)
	}
}

// gaugeObserver 把阶段变化反映到 Prometheus 指标上。
type gaugeObserver struct {
	registry *registry.Registry
}

func (g *gaugeObserver) OnTransition(t session.Transition) {
	metrics.SessionTransitionsTotal.WithLabelValues(t.To.String()).Inc()
	if t.From != session.PhaseInit {
		metrics.SessionsCurrent.WithLabelValues(t.From.String()).Dec()
	}
	metrics.SessionsCurrent.WithLabelValues(t.To.String()).Inc()

	if t.To == session.PhaseRotatingProxy {
		metrics.ProxyRotationsTotal.Inc()
	}
	if t.To.Terminal() {
		metrics.SessionFailures.Observe(float64(t.Failures))
	}
	metrics.ProxiesInUse.Set(float64(g.registry.InUse()))
}
