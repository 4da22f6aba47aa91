// Package nodeclient owns one mTLS RPC session per worker node: the
// REST control surface (connect/start/stop/restart/ping), a stats RPC
// client, and a background log pump. Built in the doRequest idiom and
// mTLS transport pattern of an embedded agent client, adapted to a
// generic REST control-plane contract rather than the forwarding
// engine's own wire protocol.
package nodeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"xpanel/pkg/apperror"
)

// State mirrors the node's panel-side lifecycle.
type State string

const (
	StateDisabled   State = "disabled"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// TLSMaterial is the mTLS key/cert bundle NodeClient dials with.
type TLSMaterial struct {
	PanelClientCertPEM string
	PanelClientKeyPEM  string
	CACertPEM          string
}

// Config describes one worker node's connection parameters.
type Config struct {
	NodeID    uint
	Address   string
	RPCPort   int
	StatsPort int
	TLS       TLSMaterial
}

// APIError is an RPC error carrying the node-provided status code and
// detail.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node rpc error: status=%d detail=%s", e.StatusCode, e.Detail)
}

// Client is the panel's RPC session with one worker node. All
// connect/start/stop/restart calls are serialized through mu.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logrus.Entry

	mu        sync.Mutex
	sessionID string
	state     State
	stats     *statsClient

	logSubs   map[chan string]struct{}
	logSubsMu sync.Mutex
}

// New builds a Client from cfg. The HTTP transport is constructed once
// and reused for the client's lifetime so connections get pooled.
func New(cfg Config, log *logrus.Entry) (*Client, error) {
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("build tls config for node %d: %w", cfg.NodeID, err))
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   30 * time.Second,
		},
		log:     log.WithField("node_id", cfg.NodeID),
		state:   StateDisabled,
		logSubs: make(map[chan string]struct{}),
	}, nil
}

func buildTLSConfig(mat TLSMaterial) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(mat.PanelClientCertPEM), []byte(mat.PanelClientKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse panel client keypair: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(mat.CACertPEM)) {
		return nil, fmt.Errorf("parse CA bundle")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("https://%s:%d", c.cfg.Address, c.cfg.RPCPort)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect calls POST /connect, claiming a new session id that
// invalidates any prior one. On success the client transitions to
// connected and the reported engine version is returned.
func (c *Client) Connect(ctx context.Context) (engineVersion string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateConnecting
	var resp struct {
		SessionID     string `json:"session_id"`
		EngineVersion string `json:"engine_version"`
		Started       bool   `json:"started"`
	}
	err = c.doRequest(ctx, http.MethodPost, "/connect", map[string]interface{}{"session_id": c.sessionID}, &resp, 10*time.Second)
	if err != nil {
		c.state = StateError
		return "", err
	}
	c.sessionID = resp.SessionID
	c.state = StateConnected
	return resp.EngineVersion, nil
}

// Disconnect calls POST /disconnect and clears the session id.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		c.state = StateDisabled
		return nil
	}
	err := c.doRequest(ctx, http.MethodPost, "/disconnect", map[string]interface{}{"session_id": c.sessionID}, nil, 5*time.Second)
	c.sessionID = ""
	c.state = StateDisabled
	return err
}

// Ping calls POST /ping with a short (~3s) timeout.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.doRequest(ctx, http.MethodPost, "/ping", map[string]interface{}{"session_id": sessionID}, nil, 3*time.Second)
}

// Status calls GET / and reports the node's self-described state.
func (c *Client) Status(ctx context.Context) (started bool, engineVersion string, err error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	var resp struct {
		Connected     bool   `json:"connected"`
		Started       bool   `json:"started"`
		EngineVersion string `json:"engine_version"`
	}
	err = c.doRequest(ctx, http.MethodGet, "/?session_id="+sessionID, nil, &resp, 5*time.Second)
	return resp.Started, resp.EngineVersion, err
}

// Start calls POST /start with the rendered config. If the node is
// already running it behaves as restart — the node owns that fallback;
// the panel just issues the call.
func (c *Client) Start(ctx context.Context, configJSON []byte) error {
	return c.pushConfig(ctx, "/start", configJSON)
}

// Stop calls POST /stop. The mutex is held for the full RPC so a
// concurrent Start/Restart/Stop on the same client is serialized.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doRequest(ctx, http.MethodPost, "/stop", map[string]interface{}{"session_id": c.sessionID}, nil, 10*time.Second)
}

// Restart calls POST /restart with the rebuilt config.
func (c *Client) Restart(ctx context.Context, configJSON []byte) error {
	return c.pushConfig(ctx, "/restart", configJSON)
}

// pushConfig holds the mutex for the full RPC duration, same as
// Connect/Disconnect, so two overlapping start/stop/restart calls on
// one client can never race each other or read a stale session id.
func (c *Client) pushConfig(ctx context.Context, path string, configJSON []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := map[string]interface{}{
		"session_id": c.sessionID,
		"config":     string(configJSON),
	}
	return c.doRequest(ctx, http.MethodPost, path, body, nil, 30*time.Second)
}

// ConnectWithBackoff retries Connect using an exponential backoff
// policy until it succeeds or maxElapsed has passed. Operations.ConnectNode
// and the HealthCheck job call Connect directly, once per attempt, and do
// not go through this helper.
func (c *Client) ConnectWithBackoff(ctx context.Context, maxElapsed time.Duration) (string, error) {
	op := func() (string, error) {
		version, err := c.Connect(ctx)
		if err != nil {
			return "", err
		}
		return version, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperror.Internal(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return apperror.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.NodeUnavailable(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.NodeUnavailable(err.Error())
	}

	if resp.StatusCode >= 400 {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(raw, &detail)
		c.log.WithFields(logrus.Fields{"status": resp.StatusCode, "detail": detail.Detail}).Warn("node rpc error")
		return apperror.Wrap(apperror.KindNodeUnavailable, detail.Detail, &APIError{StatusCode: resp.StatusCode, Detail: detail.Detail})
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperror.Internal(err)
		}
	}
	return nil
}
