// Package executorsim is an in-process executor that speaks the macroctl
// wire protocol. It keeps a step list and random timing settings,
// answers commands with the broadcasts a real executor sends, and plays
// runs as progress telemetry without touching the mouse or keyboard.
package executorsim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"macroctl/internal/log"
	"macroctl/internal/protocol"
	"macroctl/internal/step"
)

// Options configures a Server.
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string

	// TimeScale multiplies step waits; 0 means 1.
	TimeScale float64

	// MinStepDelay is the least time spent on any step.
	MinStepDelay time.Duration

	// DisableVersionEcho makes steps_updated omit the client's version,
	// like executors that predate edit reconciliation.
	DisableVersionEcho bool

	// NewID generates ids for added steps.
	NewID func() string

	Logger *slog.Logger
}

// Server is a simulated executor.
type Server struct {
	opts   Options
	logger *slog.Logger
	hub    *hub
	newID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu        sync.Mutex
	steps     []step.Step
	random    protocol.RandomTiming
	recording bool
	clipboard string
	cancelRun context.CancelFunc
	runSeq    uint64
}

// New creates a Server and starts its client hub.
func New(opts Options) *Server {
	if opts.TimeScale <= 0 {
		opts.TimeScale = 1
	}
	if opts.MinStepDelay <= 0 {
		opts.MinStepDelay = time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("executorsim")
	}
	newID := opts.NewID
	if newID == nil {
		newID = step.NewID
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		logger: logger,
		hub:    newHub(logger),
		newID:  newID,
		ctx:    ctx,
		cancel: cancel,
		random: protocol.DefaultRandomTiming(),
	}
	s.hub.onCommand = s.handle
	go s.hub.run()
	return s
}

// Handler returns the HTTP surface: /ws for controllers and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.serveWS)
	mux.HandleFunc("/health", s.handleHealth)
	return s.authMiddleware(s.recoverMiddleware(mux))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("simulated executor listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Close()
	return nil
}

// Close stops active runs and disconnects every client.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
	s.hub.close()
}

// Steps returns a copy of the simulated executor's list.
func (s *Server) Steps() []step.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return step.CloneAll(s.steps)
}

// SetSteps replaces the list and broadcasts it.
func (s *Server) SetSteps(steps []step.Step) {
	s.mu.Lock()
	s.steps = step.CloneAll(steps)
	s.mu.Unlock()
	s.publishSteps(nil)
}

func (s *Server) RandomTiming() protocol.RandomTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.random
}

func (s *Server) Clipboard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard
}

// Recording reports whether a recording session is active.
func (s *Server) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Running reports whether a run is in progress.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRun != nil
}

// Clients returns the number of connected controllers.
func (s *Server) Clients() int {
	return s.hub.count()
}

// MoveCursor broadcasts a cursor position as if the user moved the mouse.
func (s *Server) MoveCursor(x, y int) {
	s.hub.publish(protocol.MousePosition{X: x, Y: y})
}

// recoverMiddleware keeps a panicking handler from taking the server down.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)

		if r.URL.Path == "/health" || s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"clients":   s.Clients(),
		"steps":     len(s.Steps()),
		"running":   s.Running(),
		"recording": s.Recording(),
	})
}
