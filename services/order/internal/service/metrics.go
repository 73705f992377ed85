package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ordersCreated   prometheus.Counter
	createFailures  *prometheus.CounterVec
	stockConflicts  prometheus.Counter
	publishFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders committed.",
		}),
		createFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_create_failures_total",
			Help: "Rejected order requests by reason.",
		}, []string{"reason"}),
		stockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_stock_conflicts_total",
			Help: "Order commits rolled back because stock changed concurrently.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_event_publish_failures_total",
			Help: "Committed orders whose event could not be published in-line.",
		}),
	}

	reg.MustRegister(m.ordersCreated, m.createFailures, m.stockConflicts, m.publishFailures)

	return m
}

func (m *Metrics) orderCreated() {
	if m != nil {
		m.ordersCreated.Inc()
	}
}

func (m *Metrics) createFailed(reason string) {
	if m != nil {
		m.createFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) stockConflict() {
	if m != nil {
		m.stockConflicts.Inc()
	}
}

func (m *Metrics) publishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}
