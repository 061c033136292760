// Package monitor serves live run state while a flurry is in progress:
// Prometheus counters on /metrics, JSON snapshots on /snapshot, and a
// websocket stream on /ws.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/pkg/types"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	metrics *Metrics
	hub     *hub
	mux     *http.ServeMux
	logger  *logging.Logger

	mu     sync.RWMutex
	latest types.Snapshot
	report *types.RunReport
}

func New(logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewLogger("monitor")
	}
	s := &Server{
		hub:    newHub(logger),
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.metrics = newMetrics(s.Latest)

	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.hub.handle(w, r, s.Latest().RunID)
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) SetAllowedOrigins(origins []string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.allowedOrigins = origins
}

// Publish records snap as the latest state and queues it for websocket
// subscribers. It never blocks.
func (s *Server) Publish(snap types.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	s.hub.offer(snap)
}

func (s *Server) ObserveConnect(d time.Duration) {
	s.metrics.observeConnect(d)
}

// Finish attaches the final report and sends it to every subscriber.
func (s *Server) Finish(report types.RunReport) {
	s.mu.Lock()
	s.report = &report
	s.mu.Unlock()
	s.hub.broadcast(wsMessage{Type: "complete", RunID: report.RunID, Report: &report, Time: time.Now().Unix()})
}

func (s *Server) Latest() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	body := struct {
		Snapshot types.Snapshot   `json:"snapshot"`
		Report   *types.RunReport `json:"report,omitempty"`
	}{Snapshot: s.latest, Report: s.report}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("snapshot encode failed", logging.F("error", err))
	}
}

// Serve accepts on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("monitor listening", logging.F("addr", ln.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Close() {
	s.hub.close()
}
