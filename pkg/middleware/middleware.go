// Package middleware binds the cache coordinator to net/http: it intercepts
// GraphQL requests before the upstream handler runs and writes the result
// back afterwards.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gql-response-cache/pkg/cache"
	"github.com/Sternrassler/gql-response-cache/pkg/client"
	"github.com/Sternrassler/gql-response-cache/pkg/logging"
	"github.com/Sternrassler/gql-response-cache/pkg/request"
)

// HeaderCache reports how a response was produced.
const HeaderCache = "X-Cache"

// X-Cache values.
const (
	CacheHit    = "HIT"
	CacheWait   = "WAIT"
	CacheMiss   = "MISS"
	CacheBypass = "BYPASS"
)

// Middleware runs the coordinator around a computing handler.
type Middleware struct {
	coordinator *cache.Coordinator
	logger      zerolog.Logger
}

// New creates a middleware for coordinator.
func New(coordinator *cache.Coordinator) *Middleware {
	if coordinator == nil {
		panic("coordinator cannot be nil")
	}
	return &Middleware{
		coordinator: coordinator,
		logger:      logging.NewLogger("middleware"),
	}
}

// Wrap returns a handler that serves cached responses and otherwise
// delegates to next, capturing its response for write-back.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := request.FromHTTP(r)
		if err != nil {
			if errors.Is(err, request.ErrNotGraphQL) {
				w.Header().Set(HeaderCache, CacheBypass)
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if d.Kind == request.KindQuery {
			r = r.WithContext(client.WithIdempotent(r.Context()))
		}

		decision, err := m.coordinator.Intercept(r.Context(), d)
		if err != nil {
			m.fail(w, d, decision.Key, err)
			return
		}

		if decision.ShortCircuit() {
			m.serveCached(w, decision)
			return
		}

		if decision.Outcome == cache.OutcomeBypass {
			w.Header().Set(HeaderCache, CacheBypass)
			next.ServeHTTP(w, r)
			return
		}

		rec := newRecorder()
		next.ServeHTTP(rec, r)

		// The slot must leave the loading state even if the caller has gone
		ctx := context.WithoutCancel(r.Context())
		if err := m.coordinator.WriteBack(ctx, d, rec.response()); err != nil {
			m.fail(w, d, decision.Key, err)
			return
		}

		rec.header.Set(HeaderCache, CacheMiss)
		rec.flush(w)
	})
}

// serveCached writes a response taken from the store.
func (m *Middleware) serveCached(w http.ResponseWriter, decision cache.Decision) {
	body, err := decision.Response.Bytes()
	if err != nil {
		m.logger.Error().Err(err).Str("key", decision.Key).Msg("Cached response not encodable")
		writeError(w, http.StatusInternalServerError, "invalid cache entry")
		return
	}

	status := CacheHit
	if decision.Outcome == cache.OutcomeWaited {
		status = CacheWait
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderCache, status)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// fail maps a coordinator error to a GraphQL-shaped HTTP error.
func (m *Middleware) fail(w http.ResponseWriter, d *request.Descriptor, key string, err error) {
	switch {
	case errors.Is(err, cache.ErrStoreUnavailable):
		m.logError(d, key, err, "Cache store unavailable")
		writeError(w, http.StatusServiceUnavailable, "cache store unavailable")
	case errors.Is(err, cache.ErrInvalidEntry):
		m.logError(d, key, err, "Corrupt cache entry")
		writeError(w, http.StatusInternalServerError, "invalid cache entry")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.logger.Debug().Err(err).Str("key", key).Msg("Request ended while waiting")
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		m.logError(d, key, err, "Cache coordination failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (m *Middleware) logError(d *request.Descriptor, key string, err error, msg string) {
	m.logger.Error().
		Err(err).
		Str("key", key).
		Str("operation", d.OperationName).
		Msg(msg)
}

// recorder buffers a handler's response so it can be inspected before it
// reaches the client.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// response decodes the captured body. Only 200 responses that parse as a
// GraphQL response are candidates for caching.
func (r *recorder) response() *cache.Response {
	if r.statusCode() != http.StatusOK {
		return nil
	}
	resp, err := cache.ParseResponse(r.body.Bytes())
	if err != nil {
		return nil
	}
	return resp
}

func (r *recorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range r.header {
		dst[k] = vv
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}

type graphQLError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string][]graphQLError{
		"errors": {{Message: message}},
	})
}
