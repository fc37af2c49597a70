package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func requestLogs(t *testing.T, cfg MiddlewareConfig) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	r := gin.New()
	r.Use(GinMiddleware(cfg))
	return r, logs
}

func TestGinMiddlewareLogsLedgerFields(t *testing.T) {
	r, logs := requestLogs(t, MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "insufficient_balance", "Conflict" },
	})
	r.POST("/v1/balances/:product/consume", func(c *gin.Context) {
		c.Set(obscontext.KeySource, obscontext.SourceAPI)
		c.Set(obscontext.KeyProductID, c.Param("product"))
		_ = c.Error(errors.New("balance too low"))
		c.Status(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/balances/coins/consume", nil)
	req.Header.Set("X-Request-Id", "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-7", w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "/v1/balances/:product/consume", fields["route"])
	assert.Equal(t, "coins", fields["product_id"])
	assert.Equal(t, "api", fields["source"])
	assert.Equal(t, "insufficient_balance", fields["error_kind"])
	assert.NotContains(t, fields, "error")
}

func TestGinMiddlewareQuietRoutes(t *testing.T) {
	r, logs := requestLogs(t, MiddlewareConfig{})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/snapshot", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/v1/snapshot"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.InfoLevel, logs.All()[1].Level)
	assert.NotEmpty(t, logs.All()[1].ContextMap()["request_id"])
}

func TestGinMiddlewareCustomQuietRoutes(t *testing.T) {
	r, logs := requestLogs(t, MiddlewareConfig{QuietRoutes: []string{"/v1/snapshot"}})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/snapshot", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/v1/snapshot"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}
