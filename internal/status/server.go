package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal"
)

// StateProvider exposes the relay loop state
type StateProvider interface {
	Snapshot() internal.RelayState
}

// Server serves /health, /state and /metrics
type Server struct {
	addr    string
	state   StateProvider
	handler http.Handler
	logger  *zap.Logger
}

func NewServer(logger *zap.Logger, addr string, state StateProvider, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		addr:   addr,
		state:  state,
		logger: logger.With(zap.String("component", "StatusServer")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.handler = r
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.state.Snapshot()
	code := http.StatusOK
	status := "healthy"
	if snapshot.SubscriptionState != internal.StateSubscribed.String() {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	responseJSON(w, code, map[string]string{
		"status":       status,
		"subscription": snapshot.SubscriptionState,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, http.StatusOK, s.state.Snapshot())
}

func responseJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
