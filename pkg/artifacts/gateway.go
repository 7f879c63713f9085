package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultGateways are tried in this order.
var DefaultGateways = []string{
	"https://cloudflare-ipfs.com",
	"https://ipfs.io",
	"https://dweb.link",
	"https://gateway.pinata.cloud",
}

const (
	DefaultGatewayTimeout = 10 * time.Second
	maxContentBytes       = 10 * 1024 * 1024
	userAgent             = "goldeval/1.0"
)

// Fetcher retrieves raw content for a CID.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// GatewayResolver fetches content through public HTTP gateways. The first
// gateway to answer 2xx wins; there are no retries and no reordering.
type GatewayResolver struct {
	gateways []string
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

// GatewayOption configures a GatewayResolver.
type GatewayOption func(*GatewayResolver)

// WithGateways replaces the gateway list. Each entry is a base URL; the
// request path is <base>/ipfs/<cid>.
func WithGateways(gateways ...string) GatewayOption {
	return func(g *GatewayResolver) {
		g.gateways = append([]string(nil), gateways...)
	}
}

// WithGatewayTimeout sets the per-gateway deadline.
func WithGatewayTimeout(d time.Duration) GatewayOption {
	return func(g *GatewayResolver) { g.timeout = d }
}

// WithMaxContentBytes caps a gateway response body. A larger body counts as
// a failed attempt.
func WithMaxContentBytes(n int64) GatewayOption {
	return func(g *GatewayResolver) { g.maxBytes = n }
}

// WithHTTPClient sets the HTTP client used for gateway requests.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayResolver) { g.client = c }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *GatewayResolver) { g.logger = l }
}

// NewGatewayResolver creates a resolver over DefaultGateways unless
// overridden.
func NewGatewayResolver(opts ...GatewayOption) *GatewayResolver {
	g := &GatewayResolver{
		gateways: append([]string(nil), DefaultGateways...),
		client:   &http.Client{},
		timeout:  DefaultGatewayTimeout,
		maxBytes: maxContentBytes,
		logger:   slog.Default().With("component", "ipfs_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gateways returns the configured gateway order.
func (g *GatewayResolver) Gateways() []string {
	return append([]string(nil), g.gateways...)
}

// Fetch tries each gateway in order. If all fail it returns a *NetworkError
// listing every failure in attempt order.
func (g *GatewayResolver) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if cid == "" {
		return nil, errors.New("artifacts: empty cid")
	}
	nerr := &NetworkError{CID: cid}
	for _, gw := range g.gateways {
		if err := ctx.Err(); err != nil {
			nerr.Failures = append(nerr.Failures, GatewayFailure{Gateway: gw, Err: err})
			break
		}
		body, err := g.fetchOne(ctx, gw, cid)
		if err == nil {
			g.logger.DebugContext(ctx, "ipfs content fetched", "cid", cid, "gateway", gw, "bytes", len(body))
			return body, nil
		}
		g.logger.WarnContext(ctx, "ipfs gateway failed", "cid", cid, "gateway", gw, "error", err)
		nerr.Failures = append(nerr.Failures, GatewayFailure{Gateway: gw, Err: err})
	}
	return nil, nerr
}

func (g *GatewayResolver) fetchOne(ctx context.Context, gateway, cid string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := strings.TrimRight(gateway, "/") + "/ipfs/" + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > g.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", g.maxBytes)
	}
	return body, nil
}
