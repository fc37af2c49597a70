package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (kind string, code string)
	// QuietRoutes are logged at debug level. Defaults to /health and /metrics.
	QuietRoutes     []string
}

// GinMiddleware logs one line per request. Ledger requests carry the product
// and source the handler resolved; failed ones carry the error kind.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := quietRoutes(cfg.QuietRoutes)
	return func(c *gin.Context) {
		start := time.Now()
		id := requestID(c)
		c.Set(obscontext.KeyRequestID, id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), id))

		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		fields = append(fields, ledgerFields(c)...)
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, errorFields(cfg, lastErr.Err)...)
		}

		level := zapcore.InfoLevel
		switch {
		case quiet[route]:
			level = zapcore.DebugLevel
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}
		if ce := FromContext(c.Request.Context()).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(requestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

func ledgerFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if productID := c.GetString(obscontext.KeyProductID); productID != "" {
		fields = append(fields, zap.String("product_id", productID))
	}
	if source := c.GetString(obscontext.KeySource); source != "" {
		fields = append(fields, zap.String("source", source))
	}
	return fields
}

func errorFields(cfg MiddlewareConfig, err error) []zap.Field {
	if cfg.ErrorClassifier == nil {
		return []zap.Field{zap.Error(err)}
	}
	kind, code := cfg.ErrorClassifier(err)
	fields := []zap.Field{
		zap.String("error_kind", kind),
		zap.String("error_code", code),
	}
	if cfg.Debug {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

func quietRoutes(routes []string) map[string]bool {
	if routes == nil {
		routes = []string{"/health", "/metrics"}
	}
	quiet := make(map[string]bool, len(routes))
	for _, route := range routes {
		quiet[strings.TrimSpace(route)] = true
	}
	return quiet
}
