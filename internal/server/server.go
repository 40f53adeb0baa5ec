package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ragcourse/internal/llm"
	"ragcourse/internal/model"
	"ragcourse/internal/rag"
	"ragcourse/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Articles is the read side of the article store.
type Articles interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Search(ctx context.Context, query string, opts ...store.SearchOption) ([]model.Article, error)
	Count(ctx context.Context) (int, error)
}

// Answerer answers questions from stored articles.
type Answerer interface {
	Answer(ctx context.Context, question string, opts ...rag.AnswerOption) (string, error)
}

// Jobs queues crawl jobs for the worker.
type Jobs interface {
	Push(ctx context.Context, job *model.CrawlJob) error
	Get(ctx context.Context, id uuid.UUID) (*model.CrawlJob, error)
	Len(ctx context.Context) (int64, error)
	Recent(ctx context.Context, limit int) ([]model.CrawlJob, error)
}

type Server struct {
	articles Articles
	answerer Answerer
	jobs     Jobs
	metrics  http.Handler
	logger   *zap.Logger
	router   *mux.Router
	server   *http.Server
}

// NewServer builds the JSON API. A nil metrics handler leaves /metrics
// unrouted.
func NewServer(a Articles, ans Answerer, jobs Jobs, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		articles: a,
		answerer: ans,
		jobs:     jobs,
		metrics:  metrics,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/ask", s.handleAsk).Methods("POST")
	s.router.HandleFunc("/search", s.handleSearch).Methods("GET")
	s.router.HandleFunc("/articles/{id}", s.handleArticle).Methods("GET")
	s.router.HandleFunc("/crawl", s.handleCrawl).Methods("POST")
	s.router.HandleFunc("/crawl/{id}", s.handleJob).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP server
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // answers wait on the generation service
	}

	s.logger.Info("Web server listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type askRequest struct {
	Question string `json:"question"`
	Keywords string `json:"keywords,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Question, rag.WithKeywordSeed(req.Keywords))
	if err != nil {
		s.logger.Error("Failed to answer", zap.String("question", req.Question), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, rag.ErrAnswerFailed) || errors.Is(err, llm.ErrUnauthorized) {
			status = http.StatusBadGateway
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	var opts []store.SearchOption
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts = append(opts, store.WithLimit(limit))
	}
	if v := q.Get("alpha"); v != "" {
		alpha, err := strconv.ParseFloat(v, 64)
		if err != nil || alpha <= 0 {
			s.writeError(w, http.StatusBadRequest, "alpha must be a positive number")
			return
		}
		opts = append(opts, store.WithTimeBias(alpha))
	}

	articles, err := s.articles.Search(r.Context(), query, opts...)
	if errors.Is(err, store.ErrMalformedQuery) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Search failed", zap.String("query", query), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	s.writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	article, err := s.articles.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load article", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

type crawlRequest struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	AllowDupes bool   `json:"allow_dupes"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "crawl queue not configured")
		return
	}

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	u, err := url.ParseRequestURI(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	job := model.NewCrawlJob(req.URL, req.Depth)
	job.AllowDupes = req.AllowDupes
	if err := s.jobs.Push(r.Context(), &job); err != nil {
		s.logger.Error("Failed to queue crawl", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to queue")
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "crawl queue not configured")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load job", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Queue error")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

type statsResponse struct {
	Articles   int              `json:"articles"`
	Queued     int64            `json:"queued"`
	RecentJobs []model.CrawlJob `json:"recent_jobs,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.articles.Count(r.Context())
	if err != nil {
		s.logger.Error("Failed to count articles", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	resp := statsResponse{Articles: n}

	if s.jobs != nil {
		if resp.Queued, err = s.jobs.Len(r.Context()); err != nil {
			s.logger.Warn("Failed to read queue length", zap.Error(err))
		}
		if resp.RecentJobs, err = s.jobs.Recent(r.Context(), 10); err != nil {
			s.logger.Warn("Failed to list recent jobs", zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
