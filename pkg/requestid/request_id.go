// Package requestid generates and propagates the X-Request-ID header the
// gateway attaches to every forwarded request.
package requestid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Header is the canonical header carrying the request ID.
const Header = "X-Request-Id"

// counter is used as fallback when random generation fails
var counter atomic.Uint64

type ctxKey struct{}

// Generate returns an ID with format timestamp-randomhex,
// e.g. 1737039600123-a2b3c4d5.
func Generate() string {
	timestamp := time.Now().UnixMilli()

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}

	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(randomBytes))
}

// FromHeaders returns the caller-supplied request ID, or a fresh one when
// the header is absent or empty.
func FromHeaders(headers map[string][]string) string {
	if v := http.Header(headers).Get(Header); v != "" {
		return v
	}
	return Generate()
}

// WithContext stores the request ID in ctx.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
