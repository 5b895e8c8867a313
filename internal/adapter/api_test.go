package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-data/tributary/internal/domain"
)

func TestAPIAdapterObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "name": "widget"}`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, srv.URL, records[0].Source)
	assert.Equal(t, "widget", records[0].Data["name"])
}

func TestAPIAdapterArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1}, {"id": 2}, {"id": 3}]`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAPIAdapterRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIAdapterGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)

	var adapterErr *domain.AdapterError
	assert.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIAdapterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIAdapterSendsHeadersAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "prod", r.Header.Get("X-Env"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{
		URL:         srv.URL,
		Headers:     map[string]string{"X-Env": "prod"},
		BearerToken: "secret",
	}, 5*time.Second)
	_, err := a.Fetch(context.Background())
	require.NoError(t, err)
}

func TestAPIAdapterRejectsScalarJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`42`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(domain.APIConfig{URL: srv.URL}, 5*time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}
