// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Namespace prefixes every metric name.
const Namespace = "slipfuzz"

// Metrics holds the collectors updated by a session.
type Metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	phase            *prometheus.GaugeVec
	lastFrameSent    prometheus.Gauge
	highestAcked     prometheus.Gauge
	outOfOrderAcks   prometheus.Counter
}

// New registers the session collectors with reg. A nil reg uses a private registry,
// which keeps the collectors usable without exposing them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_sent_total",
			Help:      "Protocol messages sent to the opponent, by kind",
		}, []string{"kind"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_received_total",
			Help:      "Protocol messages decoded from the opponent, by kind",
		}, []string{"kind"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound payloads that failed to decode, by reason",
		}, []string{"reason"}),

		phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "phase",
			Help:      "1 for the current session phase, 0 otherwise",
		}, []string{"phase"}),

		lastFrameSent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_frame_sent",
			Help:      "Frame number of the most recent InputFrame sent",
		}),

		highestAcked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "highest_acked_frame",
			Help:      "Highest frame number acknowledged by the opponent",
		}),

		outOfOrderAcks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "out_of_order_acks_total",
			Help:      "Acknowledgments that did not advance the highest acked frame",
		}),
	}
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(kind string) {
	m.messagesSent.WithLabelValues(kind).Inc()
}

// MessageReceived counts one decoded inbound message.
func (m *Metrics) MessageReceived(kind string) {
	m.messagesReceived.WithLabelValues(kind).Inc()
}

// DecodeError counts one undecodable inbound payload.
func (m *Metrics) DecodeError(reason string) {
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// Phase marks phase as current and clears prev.
func (m *Metrics) Phase(prev, phase string) {
	if prev != "" {
		m.phase.WithLabelValues(prev).Set(0)
	}
	m.phase.WithLabelValues(phase).Set(1)
}

// FrameSent records the frame number of an outbound InputFrame.
func (m *Metrics) FrameSent(frame int32) {
	m.lastFrameSent.Set(float64(frame))
}

// Ack records an inbound InputAck. advanced reports whether it raised the highest
// acknowledged frame.
func (m *Metrics) Ack(frame int32, advanced bool) {
	if advanced {
		m.highestAcked.Set(float64(frame))
		return
	}
	m.outOfOrderAcks.Inc()
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *log.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
