// Package server wires the HTTP stack: middleware order, TLS, health, and
// lifecycle with forced-termination support.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/filen-community/filen-webdav/internal/config"
	"github.com/filen-community/filen-webdav/internal/logutil"
	"github.com/filen-community/filen-webdav/internal/ratelimit"
	"github.com/filen-community/filen-webdav/internal/webdav"
)

// Server runs the gateway listener. Open connections are tracked so Stop
// can terminate them without waiting for graceful drain.
type Server struct {
	cfg        *config.Config
	log        *slog.Logger
	httpServer *http.Server
	acme       *ACMEManager

	mu    sync.Mutex
	conns map[string]net.Conn
}

// New assembles the middleware chain and the DAV routes. limiter may be
// nil to disable rate limiting (tests do this).
func New(cfg *config.Config, dav *webdav.Handler, auth *webdav.Authenticator, limiter *ratelimit.Limiter, log *slog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		log:   logutil.NoopIfNil(log),
		conns: make(map[string]net.Conn),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(s.log))
	if !cfg.DisableLogging {
		r.Use(AccessLog(s.log))
	}
	if limiter != nil {
		var keyFn ratelimit.KeyFunc = ratelimit.IPKey
		if cfg.RateLimit.Key == "username" {
			keyFn = webdav.RateLimitUsernameKey(ratelimit.IPKey)
		}
		r.Use(limiter.Middleware(keyFn))
	}

	// Health stays outside auth so load balancers can probe without
	// credentials.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(webdav.CommonHeaders)
		r.Use(auth.Middleware)
		r.Mount("/", dav.Routes())
	})

	s.httpServer = &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     r,
		IdleTimeout: 60 * time.Second,
		ConnState:   s.trackConn,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// trackConn maintains the open-connection registry for forced shutdown.
func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.mu.Lock()
		s.conns[uuid.NewString()] = conn
		s.mu.Unlock()
	case http.StateClosed, http.StateHijacked:
		s.mu.Lock()
		for id, c := range s.conns {
			if c == conn {
				delete(s.conns, id)
				break
			}
		}
		s.mu.Unlock()
	}
}

// Start blocks serving requests until shutdown. TLS material is resolved
// from the effective mode; "off" serves plain HTTP.
func (s *Server) Start(ctx context.Context) error {
	mode := s.cfg.EffectiveTLSMode()
	s.log.Info("starting server",
		"addr", s.cfg.ListenAddr(),
		"tls_mode", mode,
		"proxy_mode", s.cfg.ProxyMode(),
	)

	if mode == "off" {
		return s.httpServer.ListenAndServe()
	}

	if mode == "acme" {
		s.acme = NewACMEManager(&s.cfg.TLS.ACME, 80, s.log)
		if err := s.acme.Init(ctx); err != nil {
			return fmt.Errorf("acme init: %w", err)
		}
		s.httpServer.TLSConfig = s.acme.GetTLSConfig()
	} else {
		certDir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		tlsManager := NewTLSManager(&s.cfg.TLS, certDir, s.log)
		tlsConfig, err := tlsManager.GetTLSConfig(mode, s.cfg.Hostname)
		if err != nil {
			return fmt.Errorf("configure tls: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	// Certificates live in TLSConfig; the file arguments stay empty.
	return s.httpServer.ListenAndServeTLS("", "")
}

// Stop shuts the server down. terminate forces open connections closed
// instead of draining them.
func (s *Server) Stop(ctx context.Context, terminate bool) error {
	s.log.Info("stopping server", "terminate", terminate)
	if terminate {
		s.mu.Lock()
		for id, conn := range s.conns {
			conn.Close()
			delete(s.conns, id)
		}
		s.mu.Unlock()
		return s.httpServer.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
