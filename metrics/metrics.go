package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// WebSocket Metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "The current number of authenticated WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_received_total",
		Help: "The total number of frames received from clients.",
	})

	// Message Metrics
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_persisted_total",
		Help: "The total number of messages written to the message store.",
	})
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_message_persist_failures_total",
		Help: "The total number of send requests that failed to persist.",
	})
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Live deliveries to recipient sessions by result.",
	}, []string{"result"})

	// Registry Metrics
	RegistryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_registry_errors_total",
		Help: "Connection registry failures by operation.",
	}, []string{"op"})

	// Broker Metrics
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "The total number of relay events published to the broker.",
	}, []string{"broker_type"})
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_event_publish_failures_total",
		Help: "The total number of relay events that could not be published.",
	}, []string{"broker_type"})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}
	log.Info().Str("addr", addr).Str("path", path).Msg("starting metrics server")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server")
		}
	}()
	return srv
}
