package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"meshgate/internal/core"
	gwerrors "meshgate/pkg/errors"
)

// Config holds recovery middleware configuration
type Config struct {
	// StackTrace enables stack trace logging
	StackTrace bool
	// PanicHandler is called when a panic occurs (optional)
	PanicHandler func(ctx context.Context, recovered any, stack []byte)
}

// Middleware converts a panic in the gateway pipeline into an internal
// error, which the HTTP adapter renders as a 500 JSON body
func Middleware(config Config, logger *slog.Logger) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (resp core.Response, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := debug.Stack()
				logPanic(logger, config, r, stack, "id", req.ID(), "path", req.Path(), "method", req.Method())
				if config.PanicHandler != nil {
					config.PanicHandler(ctx, r, stack)
				}

				resp = nil
				err = gwerrors.NewError(gwerrors.ErrorTypeInternal, "internal server error").
					WithDetail("panic", fmt.Sprintf("%v", r))
			}()

			return next(ctx, req)
		}
	}
}

// HTTP guards a plain http.Handler, used for the management API
func HTTP(config Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logPanic(logger, config, rec, stack, "path", r.URL.Path, "method", r.Method)
				if config.PanicHandler != nil {
					config.PanicHandler(r.Context(), rec, stack)
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"InternalError"}`))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func logPanic(logger *slog.Logger, config Config, recovered any, stack []byte, attrs ...any) {
	logger.Error("panic recovered", append([]any{"panic", recovered}, attrs...)...)
	if config.StackTrace {
		logger.Error("stack trace", "stack", string(stack))
	}
}

// Default creates recovery middleware with default configuration
func Default(logger *slog.Logger) core.Middleware {
	return Middleware(Config{
		StackTrace: true,
	}, logger)
}
