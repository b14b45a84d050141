package backend

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meshgate/internal/core"
	"meshgate/internal/telemetry"
	"meshgate/pkg/errors"
	"meshgate/pkg/requestid"
)

// DefaultUpstreamTimeout bounds a forward when neither the route nor the
// connector configures one
const DefaultUpstreamTimeout = 30 * time.Second

// HTTPConnector implements Connector for HTTP backend services
type HTTPConnector struct {
	client         *http.Client
	defaultTimeout time.Duration
	telemetry      *telemetry.Telemetry
}

var _ core.Connector = (*HTTPConnector)(nil)

// NewHTTPConnector creates a new HTTP connector with provided client. A
// nil telemetry disables client spans.
func NewHTTPConnector(client *http.Client, defaultTimeout time.Duration, tel *telemetry.Telemetry) *HTTPConnector {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultUpstreamTimeout
	}
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &HTTPConnector{
		client:         client,
		defaultTimeout: defaultTimeout,
		telemetry:      tel,
	}
}

// Forward sends req to the target instance under the route prefix and
// returns the upstream response unchanged. The timeout covers the whole
// exchange including reading the body; closing the body releases it.
func (c *HTTPConnector) Forward(ctx context.Context, req core.Request, target *core.ForwardTarget) (core.Response, error) {
	timeout := c.defaultTimeout
	if target.Timeout > 0 {
		timeout = target.Timeout
	}

	backendURL, err := buildBackendURL(req, target)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to build backend URL").
			WithCause(err).
			WithDetail("instance", target.Instance.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	body := req.Body()
	if body == nil {
		body = http.NoBody
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), backendURL, body)
	if err != nil {
		cancel()
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "failed to create backend request").WithCause(err)
	}
	if cl, err := strconv.ParseInt(http.Header(req.Headers()).Get("Content-Length"), 10, 64); err == nil && body != http.NoBody {
		httpReq.ContentLength = cl
	}

	copyRequestHeaders(httpReq.Header, req.Headers())
	setForwardedHeaders(httpReq, req)

	ctx, span := c.telemetry.StartHTTPClientSpan(ctx, httpReq)
	resp, err := c.client.Do(httpReq.WithContext(ctx))
	telemetry.EndHTTPClientSpan(span, resp, err)
	if err != nil {
		cancel()
		return nil, classify(ctx, err, target)
	}

	removeHopByHop(resp.Header)
	return &httpResponse{
		statusCode: resp.StatusCode,
		headers:    resp.Header,
		body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// classify maps transport failures to gateway errors. Both kinds carry the
// UpstreamUnreachable code; expired deadlines answer 504 instead of 502.
// A body cut off by the size cap is the caller's fault and answers 413.
func classify(ctx context.Context, err error, target *core.ForwardTarget) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewError(errors.ErrorTypeRequestTooLarge, "request body too large").
			WithCause(err).
			WithDetail("limit", tooLarge.Limit)
	}

	var netErr net.Error
	timedOut := stderrors.Is(ctx.Err(), context.DeadlineExceeded) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		(stderrors.As(err, &netErr) && netErr.Timeout())

	if timedOut {
		return errors.NewError(errors.ErrorTypeUpstreamTimeout, "upstream did not respond in time").
			WithCause(err).
			WithDetail("instance", target.Instance.ID)
	}
	return errors.NewError(errors.ErrorTypeUpstreamUnreachable, "upstream unreachable").
		WithCause(err).
		WithDetail("instance", target.Instance.ID)
}

// IsConnectError reports whether err happened while establishing the
// connection, before any part of the request reached the instance
func IsConnectError(err error) bool {
	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return stderrors.As(err, &dnsErr)
}

// buildBackendURL joins instance address, route prefix, subpath and the
// original query string. The subpath is escaped and is kept byte for byte.
func buildBackendURL(req core.Request, target *core.ForwardTarget) (string, error) {
	base, err := url.Parse(target.Instance.Address)
	if err != nil {
		return "", err
	}
	orig, err := url.Parse(req.URL())
	if err != nil {
		return "", err
	}

	prefix := ""
	if target.Route != nil {
		prefix = strings.TrimRight(target.Route.PathPrefix, "/")
	}

	rawPath := strings.TrimRight(base.EscapedPath(), "/") + prefix + target.Subpath
	if rawPath == "" {
		rawPath = "/"
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", err
	}

	u := *base
	u.Path = path
	u.RawPath = rawPath
	u.RawQuery = orig.RawQuery
	u.Fragment = ""
	return u.String(), nil
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// isHopByHopHeader checks if a header is a hop-by-hop header
func isHopByHopHeader(header string) bool {
	header = http.CanonicalHeaderKey(header)
	for _, h := range hopByHopHeaders {
		if h == header {
			return true
		}
	}
	return false
}

func copyRequestHeaders(dst http.Header, src map[string][]string) {
	// Headers named in Connection are hop-by-hop as well
	connTokens := map[string]bool{}
	for _, v := range http.Header(src).Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if t := strings.TrimSpace(token); t != "" {
				connTokens[http.CanonicalHeaderKey(t)] = true
			}
		}
	}

	for key, values := range src {
		canonical := http.CanonicalHeaderKey(key)
		if isHopByHopHeader(canonical) || connTokens[canonical] || canonical == "Host" {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}

func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if t := strings.TrimSpace(token); t != "" {
				h.Del(t)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func setForwardedHeaders(httpReq *http.Request, req core.Request) {
	inbound := http.Header(req.Headers())

	clientIP := req.RemoteAddr()
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}
	if clientIP != "" {
		if prior := inbound.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		httpReq.Header.Set("X-Forwarded-For", clientIP)
	}
	if inbound.Get("X-Forwarded-Proto") == "" {
		httpReq.Header.Set("X-Forwarded-Proto", "http")
	}
	if host := inbound.Get("Host"); host != "" {
		httpReq.Header.Set("X-Forwarded-Host", host)
	}
	if req.ID() != "" {
		httpReq.Header.Set(requestid.Header, req.ID())
	}
}

// cancelOnClose releases the forward's context once the body is consumed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// httpResponse implements core.Response for HTTP responses
type httpResponse struct {
	statusCode int
	headers    http.Header
	body       io.ReadCloser
}

func (r *httpResponse) StatusCode() int {
	return r.statusCode
}

func (r *httpResponse) Headers() map[string][]string {
	return r.headers
}

func (r *httpResponse) Body() io.ReadCloser {
	return r.body
}
