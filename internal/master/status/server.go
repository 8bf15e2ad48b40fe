package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"grinder/internal/master/scheduler"
	"grinder/pkg/model"
	"grinder/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RankingSource is the scheduler's latest target order.
type RankingSource interface {
	Ranking() []scheduler.Ranked
}

// ResultSource looks up finished dispatches.
type ResultSource interface {
	GetResult(ctx context.Context, dispatchID string) (*model.Result, error)
}

type ErrResponse struct {
	HttpStatusCode int    `json:"code"`
	Msg            string `json:"msg"`
}

// Server exposes health, metrics, the current ranking and results.
type Server struct {
	Address string
	Router  *chi.Mux

	ranking RankingSource
	results ResultSource
	log     *zap.Logger
}

func NewServer(addr string, ranking RankingSource, results ResultSource, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{Address: addr, ranking: ranking, results: results, log: log}
	s.Router = chi.NewRouter()
	s.Router.Get("/healthz", s.healthHandler)
	s.Router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.Router.Get("/ranking", s.rankingHandler)
	s.Router.Route("/results", func(r chi.Router) {
		r.Get("/{dispatchID}", s.resultHandler)
	})
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Address, Handler: s.Router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Status server listening", zap.String("addr", s.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) rankingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ranking.Ranking())
}

func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dispatchID")
	res, err := s.results.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrResponse{HttpStatusCode: http.StatusNotFound, Msg: "no result for " + id})
		return
	}
	if err != nil {
		s.log.Error("failed to read result", zap.String("dispatch", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrResponse{HttpStatusCode: http.StatusInternalServerError, Msg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
