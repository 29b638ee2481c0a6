// Package geo resolves a caller's network address to a coarse location.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://ip-api.com/json"
	defaultTimeout = 5 * time.Second
)

// Location is a best-effort location for an address.
type Location struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// Local is returned for loopback callers and when the lookup fails.
var Local = Location{IP: "127.0.0.1", City: "Local", Country: "Local"}

// Client queries ip-api.com.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
}

type lookupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	City    string `json:"city"`
	Query   string `json:"query"`
}

// Lookup never fails: loopback addresses and transport errors yield Local,
// and addresses the provider cannot place yield an "unknown" location.
func (c *Client) Lookup(ctx context.Context, ip string) Location {
	if isLocal(ip) {
		return Local
	}

	loc, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Warn("geolocation lookup failed", "ip", ip, "error", err)
		return Local
	}
	return loc
}

func (c *Client) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/" + url.PathEscape(ip) + "?fields=status,message,country,city,query"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("requesting location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Location{}, fmt.Errorf("decoding location: %w", err)
	}

	if lr.Status != "success" {
		return Location{IP: ip, City: "Desconhecida", Country: "Desconhecido"}, nil
	}
	return Location{IP: lr.Query, City: lr.City, Country: lr.Country}, nil
}

func isLocal(ip string) bool {
	if ip == "" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// ClientIP returns the first X-Forwarded-For hop, or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
