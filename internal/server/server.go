package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"relayd/internal/relay"
	"relayd/internal/scheduler"
	logx "relayd/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxUploadMB caps the in-memory portion of multipart parsing.
	MaxUploadMB int64
}

// Dispatcher is the slice of the dispatch pipeline the handlers need.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor string, kind relay.BackendKind, scheduled bool, p relay.Payload) error
	DispatchAsync(actor string, kind relay.BackendKind, scheduled bool, p relay.Payload)
}

// Scheduler registers deferred dispatches and reports the active set.
type Scheduler interface {
	Register(ctx context.Context, req scheduler.Request) (scheduler.Handle, error)
	Snapshot() scheduler.Snapshot
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	disp  Dispatcher
	sched Scheduler

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, disp Dispatcher, sched Scheduler, log logx.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, disp: disp, sched: sched}
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /jobs", s.handleJobs)

	mux.HandleFunc("POST /email", s.handleEmail)
	mux.HandleFunc("POST /email/file", s.handleEmailFile)
	mux.HandleFunc("POST /email/link", s.handleEmailLink)
	mux.HandleFunc("POST /email/schedule", s.handleEmailSchedule)
	mux.HandleFunc("POST /email/schedule_link", s.handleEmailScheduleLink)

	s.mountChat(mux, "discord", relay.BackendDiscord)
	s.mountChat(mux, "slack", relay.BackendSlack)

	return s.withCORS(mux)
}

func (s *Service) mountChat(mux *http.ServeMux, name string, kind relay.BackendKind) {
	mux.HandleFunc("POST /"+name+"/message", s.chatMessage(kind))
	mux.HandleFunc("POST /"+name+"/file", s.chatFile(kind))
	mux.HandleFunc("POST /"+name+"/link", s.chatLink(kind))
	mux.HandleFunc("POST /"+name+"/schedule", s.chatSchedule(kind, false))
	mux.HandleFunc("POST /"+name+"/schedule_link", s.chatSchedule(kind, true))
}

// withCORS allows any origin. The relay sits behind trusted frontends and
// carries no cookie auth, so allow-all is acceptable here.
func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound address, useful when Addr was ":0".
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		s.log.Warn("http shutdown not graceful", logx.Err(err))
	}
	s.log.Info("http server stopped")
}
