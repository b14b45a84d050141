package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Prober performs one liveness probe against an address. A nil error means
// the target is alive.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, address string) error

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context, address string) error {
	return f(ctx, address)
}

// HTTPProber issues a GET and treats any 2xx status as alive
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates an HTTP prober. The probe deadline comes from the
// context passed to Probe.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe checks address
func (p *HTTPProber) Probe(ctx context.Context, address string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "meshgate-health/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

// GRPCProber speaks the standard gRPC health protocol. Addresses have the
// form grpc://host:port[/service]; SERVING is alive.
type GRPCProber struct{}

// NewGRPCProber creates a gRPC prober
func NewGRPCProber() *GRPCProber {
	return &GRPCProber{}
}

// Probe checks address
func (g *GRPCProber) Probe(ctx context.Context, address string) error {
	target, service, err := parseGRPCAddress(address)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial failed: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("not serving: %v", resp.GetStatus())
	}
	return nil
}

func parseGRPCAddress(address string) (target, service string, err error) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme != "grpc" || u.Host == "" {
		return "", "", fmt.Errorf("invalid grpc health address %q", address)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// SchemeProber dispatches to a prober by the address scheme. grpc:// goes
// to the gRPC prober, everything else to HTTP.
type SchemeProber struct {
	HTTP Prober
	GRPC Prober
}

// NewSchemeProber creates a dispatcher over the default probers
func NewSchemeProber() *SchemeProber {
	return &SchemeProber{
		HTTP: NewHTTPProber(),
		GRPC: NewGRPCProber(),
	}
}

// Probe checks address with the prober matching its scheme
func (s *SchemeProber) Probe(ctx context.Context, address string) error {
	if strings.HasPrefix(address, "grpc://") {
		return s.GRPC.Probe(ctx, address)
	}
	return s.HTTP.Probe(ctx, address)
}

// probeWithTimeout bounds a single probe
func probeWithTimeout(ctx context.Context, p Prober, address string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Probe(ctx, address)
}
