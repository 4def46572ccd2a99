// internal/dedup/gateway_test.go
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/internal/errors"
)

// knownService answers with every posted URL contained in known
func knownService(t *testing.T, known map[string]bool, calls *int32, batches *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req checkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test", req.Source)
		if batches != nil {
			*batches = append(*batches, len(req.URLs))
		}

		resp := checkResponse{ExistingURLs: []string{}}
		for _, u := range req.URLs {
			if known[u] {
				resp.ExistingURLs = append(resp.ExistingURLs, u)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGateway_FilterDropsKnown(t *testing.T) {
	var calls int32
	srv := knownService(t, map[string]bool{"https://shop.test/p/2": true}, &calls, nil)
	defer srv.Close()

	g := NewGateway(NewClient(Config{Endpoint: srv.URL, Source: "test"}), nil, nil)
	got := g.Filter(context.Background(), "demo", []string{
		"https://shop.test/p/1",
		"https://shop.test/p/2",
		"https://shop.test/p/3",
	})
	assert.Equal(t, []string{"https://shop.test/p/1", "https://shop.test/p/3"}, got)
	assert.Equal(t, int32(1), calls)
}

func TestGateway_FilterIsIdempotent(t *testing.T) {
	var calls int32
	srv := knownService(t, nil, &calls, nil)
	defer srv.Close()

	g := NewGateway(NewClient(Config{Endpoint: srv.URL, Source: "test"}), nil, nil)
	urls := []string{"https://shop.test/p/1", "https://shop.test/p/1/", "https://shop.test/p/2"}

	first := g.Filter(context.Background(), "demo", urls)
	assert.Equal(t, []string{"https://shop.test/p/1", "https://shop.test/p/2"}, first)

	second := g.Filter(context.Background(), "demo", urls)
	assert.Empty(t, second)
	assert.Equal(t, int32(1), calls, "processed URLs are not checked again")
	assert.Equal(t, 2, g.Processed())
}

func TestGateway_Batches(t *testing.T) {
	var calls int32
	var batches []int
	srv := knownService(t, nil, &calls, &batches)
	defer srv.Close()

	g := NewGateway(NewClient(Config{Endpoint: srv.URL, Source: "test", BatchSize: 100}), nil, nil)
	urls := make([]string, 250)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://shop.test/p/%d", i)
	}

	got := g.Filter(context.Background(), "demo", urls)
	assert.Len(t, got, 250)
	assert.Equal(t, []int{100, 100, 50}, batches)
}

func TestGateway_FailOpen(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := NewGateway(NewClient(Config{Endpoint: srv.URL}), nil, nil)
			urls := []string{"https://shop.test/p/1", "https://shop.test/p/2"}
			assert.Equal(t, urls, g.Filter(context.Background(), "demo", urls))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		endpoint := srv.URL
		srv.Close()

		g := NewGateway(NewClient(Config{Endpoint: endpoint, Timeout: time.Second}), nil, nil)
		urls := []string{"https://shop.test/p/1"}
		assert.Equal(t, urls, g.Filter(context.Background(), "demo", urls))
	})
}

func TestGateway_Disabled(t *testing.T) {
	g := NewGateway(NewClient(Config{}), nil, nil)
	urls := []string{"https://shop.test/p/1", "https://shop.test/p/1"}
	assert.Equal(t, []string{"https://shop.test/p/1"}, g.Filter(context.Background(), "demo", urls))

	assert.Equal(t, []string{"https://shop.test/p/9"},
		NewGateway(nil, nil, nil).Filter(context.Background(), "demo", []string{"https://shop.test/p/9"}))
}

func TestGateway_CircuitBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{
		Endpoint:  srv.URL,
		BatchSize: 1,
		Breaker:   errors.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 50 * time.Millisecond},
	})
	g := NewGateway(client, nil, nil)

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://shop.test/p/%d", i)
	}
	got := g.Filter(context.Background(), "demo", urls)
	assert.Equal(t, urls, got, "fails open throughout")
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls), "breaker stops calls after 5 failures")
	assert.Equal(t, errors.CircuitOpen, client.Breaker().State())

	time.Sleep(60 * time.Millisecond)
	g.Filter(context.Background(), "demo", []string{"https://shop.test/p/next"})
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls), "half-open trial call goes through")
	assert.Equal(t, errors.CircuitOpen, client.Breaker().State())
}
