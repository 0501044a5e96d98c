package proxycache

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/always-cache/proxy-cache/cache"
	cachekey "github.com/always-cache/proxy-cache/pkg/cache-key"
	origin "github.com/always-cache/proxy-cache/pkg/origin-client"
	parser "github.com/always-cache/proxy-cache/pkg/request-parser"
	serializer "github.com/always-cache/proxy-cache/pkg/response-serializer"
)

const (
	statusMessageCached = "OK (Cached)"
	statusMessageStale  = "OK (Stale)"
)

// exchange is the state of one connection's request.
type exchange struct {
	log   zerolog.Logger
	start time.Time
	req   *parser.Request
	key   string
}

// ServeConn handles the single request on conn and closes it.
// Every outcome, including malformed requests and internal failures, gets a response.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	ex := &exchange{
		log: s.log.With().
			Str("conn", uuid.NewString()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		start: time.Now(),
	}
	s.stats.requests.Add(1)

	res := s.respond(conn, ex)
	if ex.req != nil {
		res.Version = ex.req.Version
	}
	if _, err := res.WriteTo(conn); err != nil {
		ex.log.Error().Err(err).Msg("Could not write response to client")
	}
	s.logRequest(ex, res)
}

// respond runs the request through parse, cache lookup and origin fetch.
// A panic anywhere on the way is turned into a 500.
func (s *Server) respond(conn net.Conn, ex *exchange) (res serializer.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.errors.Add(1)
			ex.log.Error().Interface("panic", r).Msg("Recovered while handling request")
			res = internalError()
		}
	}()

	req, err := parser.Parse(bufio.NewReader(conn))
	if err != nil {
		s.stats.errors.Add(1)
		if errors.Is(err, parser.ErrBadRequest) {
			ex.log.Debug().Err(err).Msg("Bad request")
			return serializer.Error(http.StatusBadRequest, "Bad Request")
		}
		ex.log.Error().Err(err).Msg("Could not read request")
		return internalError()
	}
	ex.req = req
	ex.key = cachekey.Key(req.Method, req.Path, req.Body)

	entry, state := s.store.Lookup(ex.key)
	if state == cache.Fresh {
		s.stats.hits.Add(1)
		return s.cachedResponse(entry, statusMessageCached)
	}
	s.stats.misses.Add(1)

	cs := CacheStatus{}
	if state == cache.Expired {
		cs.Forward(CacheStatusFwdStale)
	} else {
		cs.Forward(CacheStatusFwdMiss)
	}

	s.stats.originFetches.Add(1)
	ex.log.Trace().Str("key", ex.key).Msgf("Fetching %s from origin", req.Path)
	result := s.origin.Fetch(context.Background(), req)

	switch result.Outcome {
	case origin.Success:
		if err := s.store.Put(ex.key, s.store.NewEntry(result.Body, result.ContentType)); err != nil {
			ex.log.Error().Err(err).Str("key", ex.key).Msg("Could not write to cache")
		} else {
			cs.Stored()
		}
		return serializer.Response{
			StatusCode:    http.StatusOK,
			StatusMessage: result.StatusMessage,
			ContentType:   result.ContentType,
			Body:          result.Body,
			CacheStatus:   cs.String(),
		}
	case origin.NotFound:
		res := serializer.Error(http.StatusNotFound, "Not Found")
		res.CacheStatus = cs.String()
		return res
	case origin.Other:
		return serializer.Response{
			StatusCode:    result.StatusCode,
			StatusMessage: result.StatusMessage,
			ContentType:   result.ContentType,
			Body:          result.Body,
			CacheStatus:   cs.String(),
		}
	default:
		ex.log.Warn().Err(result.Err).Str("key", ex.key).Msg("Origin unreachable")
		return s.fallback(ex, entry, state == cache.Expired)
	}
}

// fallback serves a stored response for a request whose origin fetch failed.
// The store is asked again first, since another connection may have refreshed the key
// in the meantime; otherwise the expired entry evicted by this request's lookup is used.
func (s *Server) fallback(ex *exchange, expired cache.Entry, haveExpired bool) serializer.Response {
	entry, ok := s.store.Get(ex.key)
	if !ok && haveExpired {
		entry, ok = expired, true
	}
	if !ok {
		s.stats.errors.Add(1)
		res := serializer.Error(http.StatusBadGateway, "Bad Gateway")
		cs := CacheStatus{}
		cs.Forward(CacheStatusFwdMiss)
		cs.Detail("origin-unreachable")
		res.CacheStatus = cs.String()
		return res
	}
	s.stats.staleServed.Add(1)
	ex.log.Info().Str("key", ex.key).Msg("Serving stale response")
	return s.cachedResponse(entry, statusMessageStale)
}

func (s *Server) cachedResponse(entry cache.Entry, message string) serializer.Response {
	cs := CacheStatus{}
	if message == statusMessageStale {
		cs.Hit(0)
		cs.Detail("stale")
	} else {
		cs.Hit(entry.Remaining(s.store.Now()))
	}
	return serializer.Response{
		StatusCode:    http.StatusOK,
		StatusMessage: message,
		ContentType:   entry.ContentType,
		Body:          entry.Body,
		CacheStatus:   cs.String(),
	}
}

func internalError() serializer.Response {
	return serializer.Error(http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) logRequest(ex *exchange, res serializer.Response) {
	event := ex.log.Debug()
	if ex.req != nil {
		event = event.
			Str("method", ex.req.Method).
			Str("path", ex.req.Path).
			Str("key", ex.key)
	}
	event.
		Int("status", res.StatusCode).
		Str("cacheStatus", res.CacheStatus).
		Int("bytes", len(res.Body)).
		Dur("duration", time.Since(ex.start)).
		Msgf("%d %s", res.StatusCode, res.StatusMessage)
}
