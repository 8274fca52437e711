// Package api implements the push-ingest HTTP API: the endpoints the iPhone
// Auto Export app (and anything else able to POST JSON) delivers health
// telemetry to. Every record flows through the same validation and idempotent
// persistence as the scheduled pull path.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"healthsync/internal/config"
	"healthsync/internal/types"
)

// Ingestor is the push-ingestion surface of the coordinator.
type Ingestor interface {
	IngestSleep(ctx context.Context, raws []types.RawSleepRecord) (*types.RunResult, error)
	IngestExercise(ctx context.Context, raws []types.RawExerciseRecord) (*types.RunResult, error)
	IngestGlucose(ctx context.Context, raws []types.RawGlucoseRecord) (*types.RunResult, error)
}

// Pinger reports store connectivity for the health endpoint. Satisfied by
// *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the push-ingest HTTP server.
type Server struct {
	router   chi.Router
	ingestor Ingestor
	store    Pinger
	cfg      config.APIConfig
	logger   *slog.Logger
}

// NewServer wires the router, middleware, and handlers.
func NewServer(cfg config.APIConfig, ingestor Ingestor, store Pinger, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		ingestor: ingestor,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.logger))

	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(RequireIngestKey(s.cfg.IngestKey))
		r.Post("/sleep", s.handleSleep)
		r.Post("/exercise", s.handleExercise)
		r.Post("/glucose", s.handleGlucose)
	})
}

// ingestSummary is the success payload for push endpoints.
type ingestSummary struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	Received    int    `json:"received"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Failed      int    `json:"failed"`
	Undecodable int    `json:"undecodable,omitempty"`
}

func summarize(res *types.RunResult, undecodable int) ingestSummary {
	return ingestSummary{
		RunID:       res.RunID,
		Status:      string(res.Status),
		Received:    res.RecordsFetched + undecodable,
		Inserted:    res.RecordsInserted,
		Updated:     res.RecordsUpdated,
		Failed:      res.RecordsFailed,
		Undecodable: undecodable,
	}
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	var env pushEnvelope
	if err := DecodeJSON(w, r, &env, s.cfg.MaxBodyBytes); err != nil {
		Error(w, r, err)
		return
	}

	records, undecodable := extractSleepRecords(&env)
	res, err := s.ingestor.IngestSleep(r.Context(), records)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summarize(res, undecodable)})
}

func (s *Server) handleExercise(w http.ResponseWriter, r *http.Request) {
	var env pushEnvelope
	if err := DecodeJSON(w, r, &env, s.cfg.MaxBodyBytes); err != nil {
		Error(w, r, err)
		return
	}

	records, undecodable := extractExerciseRecords(&env)
	res, err := s.ingestor.IngestExercise(r.Context(), records)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summarize(res, undecodable)})
}

func (s *Server) handleGlucose(w http.ResponseWriter, r *http.Request) {
	var env pushEnvelope
	if err := DecodeJSON(w, r, &env, s.cfg.MaxBodyBytes); err != nil {
		Error(w, r, err)
		return
	}

	records, undecodable := extractGlucoseRecords(&env)
	res, err := s.ingestor.IngestGlucose(r.Context(), records)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summarize(res, undecodable)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	JSON(w, r, httpStatus, APIResponse{Data: map[string]string{"status": status}})
}
