// Package metrics exposes Prometheus counters and gauges for the peer
// engine. Every Metrics value owns a private registry so tests and multiple
// nodes in one process never collide. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Namespace prefixes every metric name.
const Namespace = "lnpeer"

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	registry *prometheus.Registry

	// Peer metrics
	PeersConnected     prometheus.Gauge
	HandshakesTotal    *prometheus.CounterVec
	ProtocolViolations *prometheus.CounterVec
	PeersBanned        prometheus.Counter

	// Message metrics
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec

	// Gossip metrics
	ValidationFailures *prometheus.CounterVec
	GossipNodes        prometheus.Gauge
	GossipChannels     prometheus.Gauge
	Blacklisted        prometheus.Gauge
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "peers_connected",
			Help:      "Number of peers with a running connection",
		}),
		HandshakesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handshakes_total",
			Help:      "BOLT 8 handshakes by result",
		}, []string{"result"}),
		ProtocolViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_violations_total",
			Help:      "Connection-fatal protocol violations by reason",
		}, []string{"reason"}),
		PeersBanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "peers_banned_total",
			Help:      "Node ids refused after repeated violations",
		}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_received_total",
			Help:      "Decoded messages received by type",
		}, []string{"type"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written by type",
		}, []string{"type"}),

		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gossip",
			Name:      "validation_failures_total",
			Help:      "Gossip messages rejected by validators",
		}, []string{"message"}),
		GossipNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gossip",
			Name:      "nodes",
			Help:      "Nodes in the gossip repository",
		}),
		GossipChannels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gossip",
			Name:      "channels",
			Help:      "Channels in the gossip repository",
		}),
		Blacklisted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gossip",
			Name:      "blacklisted_keys",
			Help:      "Public keys on the gossip blacklist",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHandshake counts a handshake outcome.
func (m *Metrics) RecordHandshake(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.HandshakesTotal.WithLabelValues(result).Inc()
}

// RecordViolation counts a protocol violation.
func (m *Metrics) RecordViolation(reason string) {
	if m == nil {
		return
	}
	m.ProtocolViolations.WithLabelValues(reason).Inc()
}

// RecordBan counts a refused node id.
func (m *Metrics) RecordBan() {
	if m == nil {
		return
	}
	m.PeersBanned.Inc()
}

// RecordReceived counts an inbound message.
func (m *Metrics) RecordReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordSent counts an outbound message.
func (m *Metrics) RecordSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordValidationFailure counts a rejected gossip message.
func (m *Metrics) RecordValidationFailure(msgType string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(msgType).Inc()
}

// PeerConnected adjusts the connected peer gauge by delta.
func (m *Metrics) PeerConnected(delta int) {
	if m == nil {
		return
	}
	m.PeersConnected.Add(float64(delta))
}

// UpdateGossip sets the repository gauges.
func (m *Metrics) UpdateGossip(nodes, channels, blacklisted int) {
	if m == nil {
		return
	}
	m.GossipNodes.Set(float64(nodes))
	m.GossipChannels.Set(float64(channels))
	m.Blacklisted.Set(float64(blacklisted))
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server runs an HTTP server exposing the /metrics endpoint.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"package":  "metrics",
			"addr":     s.server.Addr,
		}).Info("Serving metrics")
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
