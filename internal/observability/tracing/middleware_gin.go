package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/purchaseledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrorClassifier maps a handler error to its ledger error kind.
type ErrorClassifier func(err error) (kind string, code string)

// GinMiddleware opens a server span per request, named after the matched
// route. The span carries the ledger product and request source the handler
// resolved, and the error kind of a failed request.
func GinMiddleware(classify ErrorClassifier) gin.HandlerFunc {
	tracer := otel.Tracer("purchaseledger/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetName(spanName(c))
		span.SetAttributes(SafeAttributes(ledgerAttributes(c)...)...)

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}
		if classify != nil {
			kind, _ := classify(lastErr.Err)
			span.SetAttributes(SafeAttributes(attribute.String("error_kind", kind))...)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.RecordError(SafeError(lastErr.Err))
			span.SetStatus(codes.Error, "request failed")
		}
	}
}

func spanName(c *gin.Context) string {
	name := "HTTP " + strings.ToUpper(c.Request.Method)
	if route := c.FullPath(); route != "" {
		name += " " + route
	}
	return name
}

func ledgerAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", c.FullPath()),
		attribute.Int("http.status_code", c.Writer.Status()),
	}
	if requestID := obscontext.RequestIDFromContext(c.Request.Context()); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if productID := c.GetString(obscontext.KeyProductID); productID != "" {
		attrs = append(attrs, attribute.String("product_id", productID))
	}
	if source := c.GetString(obscontext.KeySource); source != "" {
		attrs = append(attrs, attribute.String("source", source))
	}
	return attrs
}
