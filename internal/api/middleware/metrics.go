package middleware

import (
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/integrationhub/internal/metrics"
)

// Metrics counts requests by method, matched route pattern and status.
// Unmatched paths share one label value to keep cardinality bounded.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			m.HTTPRequests.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(responseStatus(ww))).Inc()
		})
	}
}
