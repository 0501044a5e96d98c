// Package proxycache is a caching forward proxy for a single origin.
//
// Each client connection carries exactly one request. Successful (200) origin responses
// are cached for a fixed TTL, and a cached response is served in place of an error when
// the origin cannot be reached.
package proxycache

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/proxy-cache/cache"
	origin "github.com/always-cache/proxy-cache/pkg/origin-client"
)

// ErrServerClosed is returned by Serve and ListenAndServe after RequestShutdown.
var ErrServerClosed = errors.New("proxycache: server closed")

type Config struct {
	// Address to listen on, e.g. ":8080".
	Addr string
	// Cache store shared by all connections. Its owner is responsible for closing it.
	Store *cache.Store
	// Client for the origin server.
	Origin *origin.Client
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Server accepts client connections and serves each one on its own goroutine.
// Connections are not pooled or limited.
type Server struct {
	addr   string
	store  *cache.Store
	origin *origin.Client
	log    zerolog.Logger
	stats  stats

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New creates a server. It does not start listening.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("proxycache: no cache store configured")
	}
	if config.Origin == nil {
		return nil, fmt.Errorf("proxycache: no origin configured")
	}

	// use global logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	return &Server{
		addr:   config.Addr,
		store:  config.Store,
		origin: config.Origin,
		log: logger.With().
			Str("origin", config.Origin.BaseURL()).
			Logger(),
	}, nil
}

// ListenAndServe binds the configured address and serves connections.
// A bind failure is returned as is; callers usually treat it as fatal.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until RequestShutdown is called.
// Accept errors are logged and the loop continues.
// It always returns a non-nil error, ErrServerClosed after a shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Info().Str("addr", l.Addr().String()).Msg("Proxy server listening")

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			backoff = nextBackoff(backoff)
			s.log.Error().Err(err).Dur("retry", backoff).Msg("Error accepting connection")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		go s.ServeConn(conn)
	}
}

// nextBackoff doubles the delay between failed accepts, from 5ms up to 1s.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RequestShutdown stops accepting new connections.
// Connections already being handled run to completion on their own; they are not awaited.
// It is safe to call more than once.
func (s *Server) RequestShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	s.log.Info().Msg("Server stopped")
	return s.listener.Close()
}

// ListEntries returns the cached keys that have not expired, with their remaining TTL.
func (s *Server) ListEntries() []cache.Listing {
	return s.store.List()
}

// RemoveEntry removes a cached entry and reports whether it existed.
func (s *Server) RemoveEntry(key string) bool {
	removed := s.store.Remove(key)
	if removed {
		s.log.Info().Str("key", key).Msg("Cache entry removed")
	} else {
		s.log.Info().Str("key", key).Msg("No cache entry found for key")
	}
	return removed
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}
