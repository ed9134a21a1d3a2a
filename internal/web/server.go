// Package web runs the keepalive HTTP listener hosting platforms poll for
// liveness. It optionally exposes pprof on the same mux.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"gatebot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Pprof   bool
}

type Server struct {
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(log logx.Logger) *Server {
	return &Server{log: log.With(logx.String("comp", "web"))}
}

// Start begins serving; non-fatal on listen failure (the bot still runs
// without its health endpoint, it just fails platform checks).
func (s *Server) Start(cfg Config) {
	if !cfg.Enabled {
		return
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Warn("web listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("web server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("web server listening", logx.String("addr", s.addr))
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("web shutdown error", logx.Err(err))
	}
	s.srv = nil
	s.ln = nil
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string { return s.addr }
