package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"meshgate/internal/core"
	"meshgate/pkg/errors"
)

func newRequest(id, path string) core.Request {
	return core.NewRequest(context.Background(), id, http.MethodGet, path, path, "127.0.0.1:12345", map[string][]string{}, io.NopCloser(strings.NewReader("")))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) core.Middleware {
		return func(next core.Handler) core.Handler {
			return func(ctx context.Context, req core.Request) (core.Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	h := Chain(mark("first"), mark("second"), mark("third"))(func(context.Context, core.Request) (core.Response, error) {
		order = append(order, "handler")
		return core.NewResponse(http.StatusOK, nil), nil
	})

	if _, err := h(context.Background(), newRequest("r", "/")); err != nil {
		t.Fatal(err)
	}

	want := "first,second,third,handler"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		resp      core.Response
		err       error
		wantLevel string
		wantMsg   string
		wantAttr  string
	}{
		{
			name:      "completed",
			resp:      core.NewResponse(http.StatusOK, []byte("ok")),
			wantLevel: "INFO",
			wantMsg:   "Request completed",
			wantAttr:  "status=200",
		},
		{
			name:      "client error",
			err:       errors.NewError(errors.ErrorTypeUnknownService, "no route"),
			wantLevel: "INFO",
			wantMsg:   "Request rejected",
			wantAttr:  "status=404",
		},
		{
			name:      "server error",
			err:       errors.NewError(errors.ErrorTypeUpstreamTimeout, "deadline"),
			wantLevel: "WARN",
			wantMsg:   "Request failed",
			wantAttr:  "status=504",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := Logging(logger)(func(context.Context, core.Request) (core.Response, error) {
				return tt.resp, tt.err
			})
			_, err := h(context.Background(), newRequest("req-42", "/api/orders/1"))
			if err != tt.err {
				t.Errorf("error = %v, want %v", err, tt.err)
			}

			logs := buf.String()
			for _, want := range []string{"level=" + tt.wantLevel, tt.wantMsg, tt.wantAttr, "req-42", "/api/orders/1", "duration=", "component=access"} {
				if !strings.Contains(logs, want) {
					t.Errorf("log %q missing %q", logs, want)
				}
			}
		})
	}
}
