package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gql-response-cache/internal/testutil"
	"github.com/Sternrassler/gql-response-cache/pkg/cache"
	"github.com/Sternrassler/gql-response-cache/pkg/client"
	"github.com/Sternrassler/gql-response-cache/pkg/eligibility"
	"github.com/Sternrassler/gql-response-cache/pkg/middleware"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	return mr, redisClient
}

func newTestMux(t *testing.T, upstreamURL string, redisClient *redis.Client) *http.ServeMux {
	t.Helper()

	upstream, err := client.New(client.DefaultConfig(upstreamURL))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	cfg := cache.DefaultConfig(&eligibility.Filter{
		Rules: []eligibility.Rule{eligibility.Exact("GetUser", time.Minute)},
	})
	logger := zerolog.Nop()
	cfg.Logger = &logger

	coordinator := cache.NewCoordinator(cache.NewRedisStore(redisClient), cfg)
	return newMux(middleware.New(coordinator), upstream, redisClient)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	mr, redisClient := setupTestRedis(t)

	handler := readyHandler(redisClient)

	t.Run("ready", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
		if string(body) != "OK" {
			t.Errorf("Expected body 'OK', got %s", string(body))
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		mr.Close()

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := testutil.NewMockGraphQL()
	defer upstream.Close()

	_, redisClient := setupTestRedis(t)
	mux := newTestMux(t, upstream.URL(), redisClient)

	// One lookup so the vector metrics have a sample
	body := `{"query":"query GetUser { user { id } }"}`
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/graphql", strings.NewReader(body)))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	resp := w.Result()
	out, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(out)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"gqlcache_lookups_total", "gqlcache_upstream_requests_total"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestGraphQLRoute(t *testing.T) {
	upstream := testutil.NewMockGraphQL()
	defer upstream.Close()

	mr, redisClient := setupTestRedis(t)
	mux := newTestMux(t, upstream.URL(), redisClient)

	body := `{"query":"query GetUser { user { id } }"}`
	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
		return w
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", first.Code, first.Body.String())
	}
	if got := first.Header().Get(middleware.HeaderCache); got != middleware.CacheMiss {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}

	second := send()
	if got := second.Header().Get(middleware.HeaderCache); got != middleware.CacheHit {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body %s differs from computed %s", second.Body.String(), first.Body.String())
	}
	if upstream.OperationCount("GetUser") != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.OperationCount("GetUser"))
	}

	// The ready slot carries the rule's TTL
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want one", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	t.Run("store down", func(t *testing.T) {
		mr.Close()
		w := send()
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})
}
