package control

import (
	"net"
	"strconv"
	"time"

	"vmforge/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// SSHProbe reports whether the instance accepts TCP connections on its SSH
// port. The address is read lazily because public addresses are assigned
// after submission, while the read loop starts.
type SSHProbe struct {
	// Addr returns the current instance address, empty while unknown
	Addr    func() string
	Port    int
	Timeout time.Duration
}

// Reachable dials the SSH port once. False means "not yet".
func (p *SSHProbe) Reachable() bool {
	addr := p.Addr()
	if addr == "" {
		return false
	}

	port := p.Port
	if port == 0 {
		port = 22
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr, strconv.Itoa(port)), timeout)
	if err != nil {
		logging.Logger().Debug("SSH port not reachable yet",
			zap.String("host", addr),
			zap.Int("port", port))
		return false
	}
	if closeErr := conn.Close(); closeErr != nil {
		logging.Logger().Debug("failed to close probe connection",
			zap.String("host", addr),
			zap.Error(closeErr))
	}
	return true
}

// HTTPProbe reports whether the instance answers on an HTTP health
// endpoint, for images that expose a service instead of (or before) SSH
type HTTPProbe struct {
	// URL returns the current health endpoint, empty while unknown
	URL    func() string
	client *retryablehttp.Client
}

// NewHTTPProbe creates a probe with retries disabled: the provisioning
// wait loop provides the polling, a failed check simply means "not yet"
func NewHTTPProbe(url func() string) *HTTPProbe {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil
	return &HTTPProbe{URL: url, client: client}
}

// Reachable performs a single GET against the health endpoint
func (p *HTTPProbe) Reachable() bool {
	url := p.URL()
	if url == "" {
		return false
	}

	resp, err := p.client.Get(url)
	if err != nil {
		logging.Logger().Debug("health endpoint not reachable yet", zap.String("url", url))
		return false
	}
	defer safeClose("health response body", resp.Body.Close)

	if resp.StatusCode >= 500 {
		logging.Logger().Debug("health endpoint not healthy yet",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}
