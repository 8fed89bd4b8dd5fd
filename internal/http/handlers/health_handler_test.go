package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := pingFunc(func(context.Context) error { return nil })
	broken := pingFunc(func(context.Context) error { return errors.New("refused") })

	cases := []struct {
		name   string
		checks map[string]Pinger
		want   int
	}{
		{"all healthy", map[string]Pinger{"store": healthy, "redis": nil}, http.StatusOK},
		{"redis down", map[string]Pinger{"store": healthy, "redis": broken}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", NewHealthHandler(tc.checks).Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.want, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "healthy", resp.Checks["store"])
			_, hasRedis := resp.Checks["redis"]
			assert.Equal(t, tc.want != http.StatusOK, hasRedis)
		})
	}
}
