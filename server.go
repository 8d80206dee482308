// This file contains the Server struct which owns the HTTP surface (the
// upgrade endpoint and the liveness endpoint), the shared volatile State,
// the live-session registry, and graceful shutdown handling.
package relay

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Server struct {
	server    *http.Server
	state     *State
	store     Store
	options   *Options
	upgrader  websocket.Upgrader
	sessions  *registry[*Session]
	log       zerolog.Logger
	mutex     sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer creates a relay server from the provided options. The volatile
// State is constructed here, once, and handed by reference to every session;
// it is the only mutable state shared across connections.
func NewServer(serverOptions *ServerOptions) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	opts := serverOptions.Options
	if opts == nil {
		opts = DefaultOptions()
	}

	addr := serverOptions.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	socketPath := serverOptions.SocketPath
	if socketPath == "" {
		socketPath = "/ws"
	}
	healthPath := serverOptions.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	s := &Server{
		ctx:     ctx,
		cancel:  cancel,
		state:   NewState(),
		store:   serverOptions.Store,
		options: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     createOriginChecker(opts),
		},
		sessions: newRegistry[*Session](),
		log:      opts.Logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc(socketPath, s.handleSocket)

	mux.HandleFunc(healthPath, s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  serverOptions.ServerReadTimeout,
		WriteTimeout: serverOptions.ServerWriteTimeout,
		IdleTimeout:  serverOptions.ServerIdleTimeout,
		TLSConfig:    serverOptions.ServerTLSConfig,
	}
	return s
}

func createOriginChecker(opts *Options) func(*http.Request) bool {
	var compiledRegexps []*regexp.Regexp
	if opts.CheckOrigin && len(opts.AllowedOriginRegexps) > 0 {
		compiledRegexps = append(compiledRegexps, opts.AllowedOriginRegexps...)
	}
	return func(r *http.Request) bool {
		if !opts.CheckOrigin {
			return true
		}
		origin := r.Header.Get("Origin")

		if origin == "" {
			return false
		}
		for _, allowed := range opts.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		for _, pattern := range compiledRegexps {
			if pattern.MatchString(origin) {
				return true
			}
		}
		return false
	}
}

// Handler returns the HTTP handler serving the upgrade and liveness
// endpoints, for embedding the relay in an existing server or test harness.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// State returns the shared volatile state, primarily for inspection in tests
// and operational tooling.
func (s *Server) State() *State {
	return s.state
}

// handleHealth is the liveness endpoint: an empty success response, no body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleSocket upgrades the request and hands the socket to a new session.
// The session credential travels in the raw query string; its resolution is
// the session's first act, after the upgrade.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ctx.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)

		return
	default:
	}

	if hooks := s.options.Hooks; hooks != nil && hooks.RateLimiter != nil {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		allowed, err := hooks.RateLimiter.Allow(r.Context(), key)

		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter failed, refusing connection")

			http.Error(w, "service unavailable", http.StatusServiceUnavailable)

			return
		}
		if !allowed {
			http.Error(w, "too many connections", http.StatusTooManyRequests)

			return
		}
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)

	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")

		return
	}

	conn, err := newConn(s.ctx, wsConn, uuid.NewString(), s.options)

	if err != nil {
		s.log.Error().Err(err).Msg("failed to initialize connection")

		_ = wsConn.Close()

		return
	}

	if hooks := s.options.Hooks; hooks != nil && hooks.OnConnect != nil {
		if err := hooks.OnConnect(conn); err != nil {
			s.log.Info().Err(err).Msg("connection refused by OnConnect hook")

			conn.Close()

			return
		}
	}

	session := newSession(conn, s.state, s.store, s.options, r.URL.RawQuery)

	_ = s.sessions.Create(conn.ID, session)

	go func() {
		session.run(s.ctx)

		_ = s.sessions.Delete(conn.ID)

		if hooks := s.options.Hooks; hooks != nil && hooks.OnDisconnect != nil {
			hooks.OnDisconnect(conn)
		}
	}()
}

// Start begins listening in a background goroutine and returns immediately.
func (s *Server) Start() error {
	s.mutex.Lock()

	if s.isRunning {
		s.mutex.Unlock()

		return internal("", "server is already running")
	}
	s.isRunning = true
	s.mutex.Unlock()

	go func() {
		var err error
		if s.server.TLSConfig != nil {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("listener stopped")
		}

		s.mutex.Lock()

		s.isRunning = false
		s.mutex.Unlock()
	}()

	return nil
}

// Listen starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully with a 30 second drain window.
func (s *Server) Listen() error {
	if err := s.Start(); err != nil {
		return err
	}
	quit := make(chan os.Signal, 1)

	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	if err := s.Stop(30 * time.Second); err != nil {
		return wrap(err, "error during server shutdown")
	}
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mutex.RLock()

	defer s.mutex.RUnlock()

	return s.isRunning
}

// Stop cancels every session, closes their connections, and shuts the HTTP
// server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mutex.Lock()

	if !s.isRunning {
		s.mutex.Unlock()

		return nil
	}
	s.mutex.Unlock()

	s.cancel()

	for _, session := range s.sessions.Values() {
		session.conn.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)

	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return wrap(err, "http server shutdown failed")
	}
	return nil
}
