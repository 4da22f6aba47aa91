package nodeclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Subscribe registers a channel that receives every log line the
// background pump reads from the node's WS /logs endpoint. Callers
// must call Unsubscribe when done to avoid leaking the channel.
func (c *Client) Subscribe() chan string {
	ch := make(chan string, 256)
	c.logSubsMu.Lock()
	c.logSubs[ch] = struct{}{}
	c.logSubsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by
// Subscribe.
func (c *Client) Unsubscribe(ch chan string) {
	c.logSubsMu.Lock()
	if _, ok := c.logSubs[ch]; ok {
		delete(c.logSubs, ch)
		close(ch)
	}
	c.logSubsMu.Unlock()
}

func (c *Client) broadcastLog(line string) {
	c.logSubsMu.Lock()
	defer c.logSubsMu.Unlock()
	for ch := range c.logSubs {
		select {
		case ch <- line:
		default:
			// slow subscriber; drop rather than block the pump.
		}
	}
}

// RunLogPump dials the node's WS /logs endpoint and forwards text
// frames to every subscriber until ctx is cancelled or the node drops
// the connection, at which point it is the caller's job to reconnect
// (typically driven by the same reconnect loop as Connect).
func (c *Client) RunLogPump(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	url := fmt.Sprintf("wss://%s:%d/logs?session_id=%s&interval=1", c.cfg.Address, c.cfg.RPCPort, sessionID)

	dialer := websocket.Dialer{
		TLSClientConfig:  mustTLSConfig(c.cfg.TLS),
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.broadcastLog(string(message))
	}
}

func mustTLSConfig(mat TLSMaterial) *tls.Config {
	cfg, err := buildTLSConfig(mat)
	if err != nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}
