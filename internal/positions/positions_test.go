package positions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExposureSumsValuePerCondition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xaaa", r.URL.Query().Get("user"))
		json.NewEncoder(w).Encode([]map[string]any{
			{"conditionId": "cond-1", "asset": "yes", "size": 100.0, "currentValue": 55.0},
			{"conditionId": "cond-1", "asset": "no", "size": 20.0, "currentValue": 5.0},
			{"conditionId": "cond-2", "asset": "yes", "size": 10.0, "currentValue": 2.5},
			{"conditionId": "cond-3", "asset": "yes", "size": 0.0, "currentValue": 0.0},
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c := NewClient(zap.NewNop(), cfg)

	exposure, err := c.Exposure(context.Background(), "0xaaa")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, exposure["cond-1"], 1e-9)
	assert.InDelta(t, 2.5, exposure["cond-2"], 1e-9)
	_, has := exposure["cond-3"]
	assert.False(t, has)
}

func TestExposurePropagatesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c := NewClient(zap.NewNop(), cfg)

	_, err := c.Exposure(context.Background(), "0xaaa")
	assert.Error(t, err)
}
