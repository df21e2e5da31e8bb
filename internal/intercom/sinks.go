package intercom

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/register"
)

// Call outcomes recorded by the metrics and telemetry sinks.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Outcome classifies a transition that ends a call. It reports false for
// transitions that leave a call in progress.
func (ev CallChanged) Outcome() (string, bool) {
	switch {
	case ev.To == call.StateError:
		return OutcomeFailed, true
	case ev.To == call.StateIdle && ev.From == call.StateConnected:
		return OutcomeCompleted, true
	case ev.To == call.StateIdle && ev.From == call.StateCalling:
		return OutcomeCancelled, true
	}
	return "", false
}

// Publisher publishes MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes every event as an Envelope.
type MQTTSink struct {
	pub   Publisher
	topic func(EventType) string
	qos   byte
}

// NewMQTTSink creates a sink publishing to topic(ev.Type()).
func NewMQTTSink(pub Publisher, topic func(EventType) string, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic, qos: qos}
}

// Notify implements Notifier. Registration and call changes are retained.
func (s *MQTTSink) Notify(_ context.Context, ev Event) error {
	payload, err := MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type(), err)
	}
	retained := ev.Type() == EventRegistrationChanged || ev.Type() == EventCallChanged
	if err := s.pub.Publish(s.topic(ev.Type()), payload, s.qos, retained); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type(), err)
	}
	return nil
}

// Telemetry stores call and actuation history in a time-series database.
// *influxdb.Client implements it.
type Telemetry interface {
	WriteCall(station, callID, outcome, reason string, duration time.Duration, at time.Time)
	WriteActuation(station, command, source string, ok bool, at time.Time)
	WriteRegistration(station, state string, at time.Time)
}

// TelemetrySink forwards finished calls, commands and registration changes.
type TelemetrySink struct {
	t Telemetry
}

// NewTelemetrySink creates a telemetry sink.
func NewTelemetrySink(t Telemetry) *TelemetrySink {
	return &TelemetrySink{t: t}
}

// Notify implements Notifier.
func (s *TelemetrySink) Notify(_ context.Context, ev Event) error {
	meta := ev.Meta()
	switch e := ev.(type) {
	case CallChanged:
		if outcome, ok := e.Outcome(); ok {
			s.t.WriteCall(meta.Station, e.CallID, outcome, e.Reason, e.Statistics.CurrentDuration, meta.Time)
		}
	case CommandExecuted:
		s.t.WriteActuation(meta.Station, string(e.Command), e.Source, e.Error == "", meta.Time)
	case RegistrationChanged:
		s.t.WriteRegistration(meta.Station, string(e.To), meta.Time)
	}
	return nil
}

// MetricsSink exports events as Prometheus metrics.
type MetricsSink struct {
	registration *prometheus.GaugeVec
	callState    *prometheus.GaugeVec
	calls        *prometheus.CounterVec
	callDuration prometheus.Histogram
	tones        *prometheus.CounterVec
	commands     *prometheus.CounterVec
	errors       *prometheus.CounterVec
}

// NewMetricsSink registers the intercom metrics with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	f := promauto.With(reg)
	const namespace = "intercom"

	return &MetricsSink{
		registration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registration_state",
			Help:      "Current registration state (1 for the active state)",
		}, []string{"state"}),
		callState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_state",
			Help:      "Current call state (1 for the active state)",
		}, []string{"state"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by outcome",
		}, []string{"outcome"}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of completed calls",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		tones: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tones_total",
			Help:      "In-call tones by routed command",
		}, []string{"command"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands by source and result",
		}, []string{"command", "source", "result"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Counted failures by source",
		}, []string{"source"}),
	}
}

// Notify implements Notifier.
func (m *MetricsSink) Notify(_ context.Context, ev Event) error {
	switch e := ev.(type) {
	case RegistrationChanged:
		for _, s := range []register.State{register.StateIdle, register.StateRegistering, register.StateRegistered, register.StateError} {
			m.registration.WithLabelValues(string(s)).Set(boolGauge(s == e.To))
		}

	case CallChanged:
		for _, s := range []call.State{call.StateIdle, call.StateCalling, call.StateConnected, call.StateError} {
			m.callState.WithLabelValues(string(s)).Set(boolGauge(s == e.To))
		}
		if outcome, ok := e.Outcome(); ok {
			m.calls.WithLabelValues(outcome).Inc()
			if outcome == OutcomeCompleted {
				m.callDuration.Observe(e.Statistics.CurrentDuration.Seconds())
			}
		}

	case ToneReceived:
		m.tones.WithLabelValues(string(e.Command)).Inc()

	case CommandExecuted:
		result := "ok"
		if e.Error != "" {
			result = "error"
		}
		m.commands.WithLabelValues(string(e.Command), e.Source, result).Inc()

	case ErrorRaised:
		m.errors.WithLabelValues(e.Source).Inc()
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
