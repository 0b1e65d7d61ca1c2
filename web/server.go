package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fluent.town/audio"
	"fluent.town/evaluation"
	"fluent.town/session"
)

// Controller is the session control surface the page drives.
type Controller interface {
	StartListening(ctx context.Context) error
	StopListening()
	HandleRestart()
	State() session.State
}

type Evaluator interface {
	Submit(ctx context.Context, kind evaluation.Kind, itemID string, chunks []session.Chunk) (*evaluation.Evaluation, error)
}

type Server struct {
	session   Controller
	evaluator Evaluator
	hub       *Hub
	logger    *log.Logger
	router    chi.Router
}

func NewServer(sess Controller, evaluator Evaluator, hub *Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		session:   sess,
		evaluator: evaluator,
		hub:       hub,
		logger:    logger.With("component", "web"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleState)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Post("/session/restart", s.handleRestart)
		r.Get("/session/ws", s.handleWS)
		r.Post("/submit/{kind}", s.handleSubmit)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, pageData{Title: "Speaking practice"}); err != nil {
		s.logger.Error("failed to execute template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.session.StartListening(ctx); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyListening):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, audio.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.session.StopListening()
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	s.session.HandleRestart()
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.session.State)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind, err := evaluation.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var body struct {
		ItemID string `json:"itemId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	state := s.session.State()
	if state.Listening {
		writeError(w, http.StatusConflict, errors.New("stop listening before submitting"))
		return
	}

	ev, err := s.evaluator.Submit(r.Context(), kind, body.ItemID, state.Chunks)
	if err != nil {
		switch {
		case errors.Is(err, evaluation.ErrMissingItem), errors.Is(err, evaluation.ErrEmptySubmission):
			writeError(w, http.StatusBadRequest, err)
		default:
			s.logger.Error("Submission failed", "kind", kind, "item", body.ItemID, "error", err)
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http", "url", fmt.Sprintf("http://localhost%s", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
