package onhost

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rancher/agent-control/pkg/durations"
)

// httpChecker probes a URL, treating any 2xx response as healthy.
type httpChecker struct {
	client *http.Client
	url    string
}

func (c *httpChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health probe %s returned status %d", c.url, resp.StatusCode)
	}
	return nil
}

// tcpChecker probes an address by attempting a connection.
type tcpChecker struct {
	dialer  net.Dialer
	address string
}

func (c *tcpChecker) Check(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// BuildHealthChecker turns an executable's opaque health probe spec (see
// spec.md §4.9's `health: <probe-spec>?`) into a HealthChecker. A nil or
// empty spec means "no probe configured".
func BuildHealthChecker(spec map[string]interface{}) (HealthChecker, error) {
	if len(spec) == 0 {
		return nil, nil
	}
	kind, _ := spec["type"].(string)
	timeout := durations.DefaultHealthProbeTimeout
	if raw, ok := spec["timeout"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}
	switch kind {
	case "http", "https":
		url, _ := spec["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("http health probe requires a url")
		}
		return &httpChecker{client: &http.Client{Timeout: timeout}, url: url}, nil
	case "tcp":
		addr, _ := spec["address"].(string)
		if addr == "" {
			return nil, fmt.Errorf("tcp health probe requires an address")
		}
		return &tcpChecker{dialer: net.Dialer{Timeout: timeout}, address: addr}, nil
	default:
		return nil, fmt.Errorf("unknown health probe type %q", kind)
	}
}
