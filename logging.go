package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blampe/bookinfo/internal"
)

// _logHandler is the process-wide charmbracelet/log handler backing
// slog.Default(); logconfig.Run adjusts its level from -verbose.
var _logHandler = charm.NewWithOptions(os.Stderr, charm.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
})

func init() {
	slog.SetDefault(slog.New(_logHandler))
}

// log returns a request-scoped-free logger, mirroring internal.Log's
// context-lookup but usable before a request context exists (startup,
// CLI commands).
func log(ctx context.Context) *slog.Logger {
	return internal.Log(ctx)
}

// requestlogger attaches a request-id-scoped slog.Logger to the request
// context and logs one line per completed request, in the spirit of
// chi/middleware.Logger but wired to this project's slog/charm stack
// instead of chi's own formatter.
type requestlogger struct{}

func (requestlogger) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		l := slog.Default().With("req_id", reqID, "method", r.Method, "path", r.URL.Path)
		ctx := internal.WithLogger(r.Context(), l)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		l.Info("request", "status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start))
	})
}
