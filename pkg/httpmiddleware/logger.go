package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// InjectLogger gives every request a context logger derived from lg and
// tagged with "request_id". A well-formed incoming X-Request-ID is kept;
// otherwise the ID is the trace ID of the active span, or a new UUID for
// untraced requests. The ID is echoed in the response and recorded on the
// span as "http.request_id". zctx adds trace_id and span_id on its own.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			span := trace.SpanFromContext(ctx)

			id := r.Header.Get(RequestIDHeader)
			switch sc := span.SpanContext(); {
			case validRequestID(id):
			case sc.HasTraceID():
				id = sc.TraceID().String()
			default:
				id = uuid.NewString()
			}
			span.SetAttributes(attribute.String("http.request_id", id))
			w.Header().Set(RequestIDHeader, id)

			ctx = context.WithValue(ctx, requestIDKey{}, id)
			ctx = zctx.Base(ctx, lg.With(zap.String("request_id", id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x20 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
