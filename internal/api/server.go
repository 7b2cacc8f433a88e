// Package api serves stored pipeline runs over a read-only HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/store"
)

// Server exposes a run store over HTTP.
type Server struct {
	store   store.Store
	cache   *ResponseCache
	origins []string
	log     *zap.Logger
}

// NewServer creates a Server. cache may be nil; origins defaults to any.
func NewServer(st store.Store, cache *ResponseCache, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:   st,
		cache:   cache,
		origins: origins,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/cache/stats", s.cacheStats)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/scores", s.getScores)
			r.Get("/scores.geojson", s.getScoresGeoJSON)
			r.Get("/weights", s.getWeights)
			r.Get("/moran", s.getMoran)
			r.Get("/exclusions", s.getExclusions)
			r.Get("/summary", s.getSummary)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, map[string]string{"cache": "disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{Status: model.RunStatus(q.Get("status"))}
	switch filter.Status {
	case "", model.RunStatusRunning, model.RunStatusComplete, model.RunStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getScores(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, "scores", "application/json", func(runID string) ([]byte, error) {
		scores, err := s.store.GetScores(r.Context(), runID)
		if err != nil {
			return nil, err
		}
		if scores == nil {
			scores = []model.UnitScore{}
		}
		return json.Marshal(scores)
	})
}

func (s *Server) getScoresGeoJSON(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, "geojson", "application/geo+json", func(runID string) ([]byte, error) {
		scores, err := s.store.GetScores(r.Context(), runID)
		if err != nil {
			return nil, err
		}
		return ScoresGeoJSON(scores).MarshalJSON()
	})
}

func (s *Server) getWeights(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetWeights(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.WeightRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getMoran(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetMoran(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.MoranRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getExclusions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetExclusions(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.Exclusion{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	summary, err := s.store.GetSummary(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "run "+runID+" has no summary")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(summary)
}

// cached serves a per-run body from the cache when the run is complete,
// building and storing it on a miss. Bodies of unfinished runs are never
// cached.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, view, contentType string, build func(runID string) ([]byte, error)) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	complete := run.Status == model.RunStatusComplete
	if s.cache != nil {
		if !complete {
			s.cache.Invalidate(runID)
		} else if body := s.cache.Get(runID, view); body != nil {
			w.Header().Set("X-Cache", "hit")
			writeBody(w, contentType, body)
			return
		}
	}

	body, err := build(runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.cache != nil && complete {
		s.cache.Put(runID, view, body)
		w.Header().Set("X-Cache", "miss")
	}
	writeBody(w, contentType, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
