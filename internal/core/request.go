package core

import (
	"context"
	"io"
	"net/http"
)

// request is the Request implementation built by the HTTP adapter
type request struct {
	id         string
	method     string
	path       string
	url        string
	remoteAddr string
	headers    map[string][]string
	body       io.ReadCloser
	ctx        context.Context
}

// NewRequest creates a new request
func NewRequest(ctx context.Context, id, method, path, url, remoteAddr string, headers map[string][]string, body io.ReadCloser) Request {
	return &request{
		id:         id,
		method:     method,
		path:       path,
		url:        url,
		remoteAddr: remoteAddr,
		headers:    headers,
		body:       body,
		ctx:        ctx,
	}
}

// FromHTTP wraps an inbound *http.Request. Headers are copied so
// middleware may edit them without touching the original request; the
// Host header is restored from r.Host. Path keeps the client's percent
// encoding so escaped separators survive the forward.
func FromHTTP(id string, r *http.Request) Request {
	headers := r.Header.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	if r.Host != "" {
		headers.Set("Host", r.Host)
	}
	return NewRequest(r.Context(), id, r.Method, r.URL.EscapedPath(), r.URL.RequestURI(), r.RemoteAddr, headers, r.Body)
}

func (r *request) ID() string                   { return r.id }
func (r *request) Method() string               { return r.method }
func (r *request) Path() string                 { return r.path }
func (r *request) URL() string                  { return r.url }
func (r *request) RemoteAddr() string           { return r.remoteAddr }
func (r *request) Headers() map[string][]string { return r.headers }
func (r *request) Body() io.ReadCloser          { return r.body }
func (r *request) Context() context.Context     { return r.ctx }
