// Package observability holds the dqc Prometheus collectors and the server
// exposing them.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MetricsServer serves the dqc collectors on /metrics.
type MetricsServer struct {
	log      logrus.FieldLogger
	server   *http.Server
	listener net.Listener
}

// StartMetricsServer binds addr and serves /metrics in the background. Bind
// failures are returned rather than logged.
func StartMetricsServer(log logrus.FieldLogger, addr string) (*MetricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	log = log.WithFields(logrus.Fields{
		"component": "metrics_server",
		"addr":      listener.Addr().String(),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: log,
	}))

	s := &MetricsServer{
		log:      log,
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		},
	}

	go func() {
		s.log.Info("Starting metrics server")

		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Metrics server failed")
		}
	}()

	return s, nil
}

// Addr returns the bound address
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts the server down
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.log.Info("Stopping metrics server")

	return s.server.Shutdown(ctx)
}
