package http

import (
	"time"
)

// Config holds the client listener settings
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRequestSize rejects bodies over this many bytes with 413. Bodies
	// without a Content-Length are cut off while being forwarded.
	MaxRequestSize int64
}
