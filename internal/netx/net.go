package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// IsHTTPURL reports whether target is an http(s) URL rather than a host:port.
func IsHTTPURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// HTTPPinger checks reachability by sending GET to URL. Any 2xx answer
// counts as reachable.
type HTTPPinger struct {
	URL    string
	Client *http.Client
}

func NewHTTPPinger(url string) *HTTPPinger {
	return &HTTPPinger{URL: url, Client: &http.Client{}}
}

func (p *HTTPPinger) PingContext(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("health check failed: %s; body: %s", resp.Status, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
