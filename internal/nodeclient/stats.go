package nodeclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"xpanel/pkg/apperror"
)

// UserTraffic is one row of GetAllUsersTraffic's result.
type UserTraffic struct {
	Name     string `json:"name"`
	Uplink   uint64 `json:"uplink"`
	Downlink uint64 `json:"downlink"`
}

// SystemStats is GetSystemStats's result.
type SystemStats struct {
	UptimeS    int64 `json:"uptime_s"`
	Goroutines int   `json:"goroutines,omitempty"`
}

// statsClient is lazily opened with one-way TLS against the node's live
// server certificate.
type statsClient struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
}

func (c *Client) statsBaseURL() string {
	return fmt.Sprintf("https://%s:%d", c.cfg.Address, c.cfg.StatsPort)
}

func (c *Client) ensureStatsClient() *statsClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM([]byte(c.cfg.TLS.CACertPEM))
		c.stats = &statsClient{
			httpClient: &http.Client{
				Transport: &http.Transport{TLSClientConfig: &tls.Config{
					RootCAs:    pool,
					MinVersion: tls.VersionTLS12,
				}},
				Timeout: 30 * time.Second,
			},
			baseURL: c.statsBaseURL(),
		}
	}
	return c.stats
}

// GetAllUsersTraffic fetches and optionally resets per-user byte
// counters. This is UsagePipeline's sole input from each node.
func (c *Client) GetAllUsersTraffic(ctx context.Context, reset bool) ([]UserTraffic, error) {
	sc := c.ensureStatsClient()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/stats/users?reset=%t", sc.baseURL, reset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NodeUnavailable(err.Error())
	}
	defer resp.Body.Close()

	var rows []UserTraffic
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, apperror.NodeUnavailable(fmt.Sprintf("decode stats response: %v", err))
	}
	return rows, nil
}

// GetSystemStats fetches node-level health counters, used by HealthCheck
// with a short (~3s) timeout.
func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	sc := c.ensureStatsClient()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/stats/system", nil)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NodeUnavailable(err.Error())
	}
	defer resp.Body.Close()

	var stats SystemStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, apperror.NodeUnavailable(fmt.Sprintf("decode system stats: %v", err))
	}
	return &stats, nil
}
