package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

func TestBMONSinkPostsStoreKeyAndTriples(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewBMONSink(srv.URL, "secret", srv.Client())
	err := s.WriteBatch(context.Background(), []domain.Reading{
		{Timestamp: 1577837250, SensorID: "MTR01", Value: 16},
	})
	require.NoError(t, err)

	assert.Equal(t, "secret", got["storeKey"])
	readings, ok := got["readings"].([]any)
	require.True(t, ok)
	require.Len(t, readings, 1)
	assert.Equal(t, []any{float64(1577837250), "MTR01", float64(16)}, readings[0])
}

func TestBMONSinkStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
	}{
		{name: "bad request is permanent", status: http.StatusBadRequest, rejected: true},
		{name: "forbidden is permanent", status: http.StatusForbidden, rejected: true},
		{name: "throttled is retryable", status: http.StatusTooManyRequests},
		{name: "server error is retryable", status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewBMONSink(srv.URL, "k", nil).WriteBatch(context.Background(), []domain.Reading{{Timestamp: 1, SensorID: "s", Value: 1}})
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, ports.ErrRejected))
		})
	}
}

func TestBMONSinkEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, NewBMONSink(srv.URL, "k", nil).WriteBatch(context.Background(), nil))
	assert.False(t, called)
}
