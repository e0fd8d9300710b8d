package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCount int

func (f fixedCount) Count() int { return int(f) }

func TestChecker_AllDisabled(t *testing.T) {
	h := NewChecker(nil, nil, nil, fixedCount(3))

	for _, path := range []string{"/health", "/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)

		var status Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, StatusDisabled, status.NATS)
		assert.Equal(t, StatusDisabled, status.Redis)
		assert.Equal(t, StatusDisabled, status.Database)
		assert.Equal(t, 3, status.Sessions)
	}
}

func TestChecker_RedisDown(t *testing.T) {
	// 1 端口无服务监听
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	h := NewChecker(nil, rdb, nil, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StatusDisconnected, status.Redis)
	assert.False(t, status.Healthy())
}
