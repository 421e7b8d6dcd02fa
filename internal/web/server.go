package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/autoreply-dev/autoreply/internal/history"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/template"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxClassifyBody     = 1 << 20
	shutdownTimeout     = 5 * time.Second
)

// Classifier scores free text; *inbox.Classifier satisfies it
type Classifier interface {
	Classify(text string) inbox.Result
}

// Server is a read-only diagnostics API over the history store
type Server struct {
	store      history.Store
	classifier Classifier
	templates  *template.Engine
	cycles     *CycleLog
	logger     *zap.Logger
	httpServer *http.Server
	addr       string
}

// NewServer creates the API. templates and cycles may be nil.
func NewServer(addr string, store history.Store, classifier Classifier, templates *template.Engine, cycles *CycleLog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		classifier: classifier,
		templates:  templates,
		cycles:     cycles,
		logger:     logger,
		addr:       addr,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("diagnostics API listening", zap.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Run serves alongside work until ctx is done or either of them stops.
// work sees a cancelled context and has returned before the listener is
// shut down, so its resources can be released after Run. work may be nil.
func (s *Server) Run(ctx context.Context, work func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	workErr := make(chan error, 1)
	if work != nil {
		go func() {
			defer close(done)
			workErr <- work(ctx)
		}()
	} else {
		close(done)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Start() }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	case err = <-workErr:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := s.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleAPIStats)
		r.Get("/history", s.handleAPIHistory)
		r.Get("/cycles", s.handleAPICycles)
		r.Get("/templates", s.handleAPITemplates)
		r.Post("/classify", s.handleAPIClassify)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Total      int            `json:"total"`
	ByAction   map[string]int `json:"by_action"`
	ByCategory map[string]int `json:"by_category"`
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	resp := statsResponse{
		Total:      stats.Total,
		ByAction:   make(map[string]int, len(stats.ByAction)),
		ByCategory: stats.ByCategory,
	}
	for a, n := range stats.ByAction {
		resp.ByAction[string(a)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordResponse struct {
	MessageID   string    `json:"message_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Category    string    `json:"category"`
	Action      string    `json:"action"`
	Confidence  float64   `json:"confidence"`
	CycleID     string    `json:"cycle_id,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResponse{
			MessageID:   rec.MessageID,
			ThreadID:    rec.ThreadID,
			Sender:      rec.Sender,
			Subject:     rec.Subject,
			Category:    rec.Category,
			Action:      string(rec.Action),
			Confidence:  rec.Confidence,
			CycleID:     rec.CycleID,
			ProcessedAt: rec.ProcessedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPICycles(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cycles.Recent())
}

func (s *Server) handleAPITemplates(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.templates != nil {
		for _, c := range s.templates.AvailableTemplates() {
			names = append(names, string(c))
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"templates": names})
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type classifyResponse struct {
	Category   string         `json:"category"`
	Score      int            `json:"score"`
	Confidence float64        `json:"confidence"`
	Matched    []string       `json:"matched"`
	Scores     map[string]int `json:"scores"`
	Urgency    string         `json:"urgency"`
}

func (s *Server) handleAPIClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClassifyBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := inbox.Message{Subject: req.Subject, Body: req.Body}
	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "subject or body is required")
		return
	}

	res := s.classifier.Classify(text)
	resp := classifyResponse{
		Category:   string(res.Category),
		Score:      res.Score,
		Confidence: res.Confidence,
		Matched:    res.Matched,
		Scores:     make(map[string]int, len(res.Scores)),
		Urgency:    string(inbox.AssessUrgency(text)),
	}
	if resp.Matched == nil {
		resp.Matched = []string{}
	}
	for c, n := range res.Scores {
		resp.Scores[string(c)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}
