package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/feed"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/store"
)

const maxViewBody = 4 << 10

type apiServer struct {
	bind   string
	cfg    *config.Config
	logger *slog.Logger
	daemon *Daemon
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

type errorBody struct {
	Error string `json:"error"`
}

type generateResponse struct {
	Success         bool   `json:"success"`
	RunID           string `json:"run_id"`
	Outcome         string `json:"outcome"`
	Slug            string `json:"slug,omitempty"`
	Title           string `json:"title,omitempty"`
	URL             string `json:"url,omitempty"`
	ImagesGenerated int    `json:"images_generated"`
	Message         string `json:"message,omitempty"`
}

type mineResponse struct {
	Success  bool `json:"success"`
	Proposed int  `json:"proposed"`
	Stored   int  `json:"stored"`
	Pending  int  `json:"pending"`
	Rejected int  `json:"rejected"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		cfg:    cfg,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation runs synchronously inside the request.
		WriteTimeout: runWriteTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func runWriteTimeout(cfg *config.Config) time.Duration {
	if cfg.Pipeline.RunTimeoutSeconds > 0 {
		return time.Duration(cfg.Pipeline.RunTimeoutSeconds)*time.Second + 30*time.Second
	}
	return 0
}

func (s *apiServer) routes() http.Handler {
	secret := strings.TrimSpace(s.cfg.API.TriggerSecret)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", secretMiddleware(secret, s.handleGenerate))
	mux.HandleFunc("/api/mine-topics", secretMiddleware(secret, s.handleMine))
	mux.HandleFunc("/api/views", s.handleViews)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/blog/feed.xml", s.handleFeed)
	mux.HandleFunc("/blog/sitemap.xml", s.handleSitemap)
	if m := s.daemon.deps.Metrics; m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	result, err := s.daemon.Generate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	resp := generateResponse{
		Success:         true,
		RunID:           result.RunID,
		Outcome:         string(result.Outcome),
		Slug:            result.Slug,
		Title:           result.Title,
		ImagesGenerated: result.ImagesGenerated,
	}
	if result.Outcome == pipeline.OutcomeNoWork {
		resp.Message = "No pending topics"
	} else {
		resp.URL = feed.ArticleURL(s.cfg.Publisher.BlogURL, result.Slug)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	result, err := s.daemon.Mine(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, mineResponse{
		Success:  true,
		Proposed: result.Proposed,
		Stored:   result.Stored(),
		Pending:  result.Pending,
		Rejected: result.Rejected,
	})
}

func (s *apiServer) handleViews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	var body struct {
		Slug string `json:"slug"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxViewBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	slug := strings.TrimSpace(body.Slug)
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "slug required"})
		return
	}
	if err := s.daemon.deps.Store.IncrementViews(r.Context(), slug); err != nil {
		if errors.Is(err, store.ErrArticleNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "article not found"})
			return
		}
		s.logger.Warn("view count failed", logging.String("slug", slug), logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "view not recorded"})
		return
	}
	s.daemon.deps.Metrics.ObserveView()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	limit := s.cfg.Feed.Limit
	if limit <= 0 {
		limit = feed.DefaultLimit
	}
	articles, err := s.daemon.deps.Store.ListPublished(r.Context(), limit)
	if err != nil {
		s.logger.Error("feed query failed", logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "feed unavailable"})
		return
	}
	body, err := feed.RSS(feed.Channel{
		Title:       s.cfg.Feed.Title,
		Description: s.cfg.Feed.Description,
		Language:    s.cfg.Feed.Language,
		BlogURL:     s.cfg.Publisher.BlogURL,
	}, articles)
	s.writeXML(w, "application/rss+xml; charset=utf-8", body, err)
}

func (s *apiServer) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	articles, err := s.daemon.deps.Store.ListPublished(r.Context(), 0)
	if err != nil {
		s.logger.Error("sitemap query failed", logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "sitemap unavailable"})
		return
	}
	body, err := feed.Sitemap(s.cfg.Publisher.BlogURL, articles, time.Now())
	s.writeXML(w, "application/xml; charset=utf-8", body, err)
}

func (s *apiServer) writeXML(w http.ResponseWriter, contentType string, body []byte, err error) {
	if err != nil {
		s.logger.Error("xml encoding failed", logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "encoding failed"})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
