package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetch(t *testing.T) {
	t.Run("returns payload on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"user/pkg":["1.0.0"]}`))
		}))
		defer srv.Close()

		c := NewClient()
		raw, err := c.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.JSONEq(t, `{"user/pkg":["1.0.0"]}`, string(raw))
	})

	t.Run("retries transient status", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c := NewClient()
		_, err := c.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("non-transient failure is index-unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient()
		_, err := c.Fetch(context.Background(), srv.URL)
		assert.ErrorIs(t, err, ErrIndexUnavailable)
	})

	t.Run("unreachable host is index-unavailable", func(t *testing.T) {
		c := NewClient(WithHTTPClient(http.DefaultClient))
		_, err := c.Fetch(context.Background(), "http://127.0.0.1:0")
		assert.ErrorIs(t, err, ErrIndexUnavailable)
	})
}

func TestClientAvailable(t *testing.T) {
	t.Run("answering source is available", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
		}))
		defer srv.Close()

		c := NewClient()
		assert.True(t, c.Available(context.Background(), srv.URL))
	})

	t.Run("missing source is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient()
		assert.False(t, c.Available(context.Background(), srv.URL))
	})
}
