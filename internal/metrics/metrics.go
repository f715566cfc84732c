// Package metrics exposes the Prometheus instruments of the rule broker
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rule_broker"

// Metrics holds every Prometheus collector used by the service.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	readingsTotal          *prometheus.CounterVec
	ruleEvaluations        prometheus.Counter
	ruleTriggers           prometheus.Counter
	actionsTotal           *prometheus.CounterVec
	webhookDuration        *prometheus.HistogramVec
	rulesActive            prometheus.Gauge
	brokerConnectionStatus prometheus.Gauge
	brokerReconnects       prometheus.Counter
	brokerMessagesTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings submitted to the ingestion path",
		}, []string{"source", "status"}),
		ruleEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Candidate rules evaluated against an incoming reading",
		}),
		ruleTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_triggers_total",
			Help:      "Rules whose condition set evaluated true",
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed rule actions by type and outcome",
		}, []string{"type", "status"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Latency of outbound webhook calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_active",
			Help:      "Number of active rules across all clients",
		}),
		brokerConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connection_status",
			Help:      "1 when the device broker is connected",
		}),
		brokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnects_total",
			Help:      "Device broker reconnections",
		}),
		brokerMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_total",
			Help:      "Device broker messages by status",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.readingsTotal,
		m.ruleEvaluations,
		m.ruleTriggers,
		m.actionsTotal,
		m.webhookDuration,
		m.rulesActive,
		m.brokerConnectionStatus,
		m.brokerReconnects,
		m.brokerMessagesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// IncReadingsTotal counts a reading by source (external, internal) and status
func (m *Metrics) IncReadingsTotal(source, status string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncRuleEvaluations() {
	if m == nil {
		return
	}
	m.ruleEvaluations.Inc()
}

func (m *Metrics) IncRuleTriggers() {
	if m == nil {
		return
	}
	m.ruleTriggers.Inc()
}

// IncActionsTotal counts an executed action by type and status (success, error)
func (m *Metrics) IncActionsTotal(actionType, status string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(actionType, status).Inc()
}

func (m *Metrics) ObserveWebHookDuration(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) SetRulesActive(count float64) {
	if m == nil {
		return
	}
	m.rulesActive.Set(count)
}

func (m *Metrics) SetBrokerConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.brokerConnectionStatus.Set(1)
	} else {
		m.brokerConnectionStatus.Set(0)
	}
}

func (m *Metrics) IncBrokerReconnects() {
	if m == nil {
		return
	}
	m.brokerReconnects.Inc()
}

// IncBrokerMessages counts a broker message by status (received, processed,
// error, published, publish_error)
func (m *Metrics) IncBrokerMessages(status string) {
	if m == nil {
		return
	}
	m.brokerMessagesTotal.WithLabelValues(status).Inc()
}
