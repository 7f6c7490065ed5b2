// Package gatewayclient implements the facility-side endpoint of the
// transport: it dials the backend, authenticates in-band, answers heartbeat
// probes, receives pushed commands, and can call the backend's internal API
// through the proxy bridge.
package gatewayclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storfleet/gatelink/internal/config"
	"github.com/storfleet/gatelink/internal/gatewayproto"
)

const (
	reconnectInitialDelay = 2 * time.Second
	reconnectMaxDelay     = 1 * time.Minute
	wsHandshakeTimeout    = 10 * time.Second
	wsWriteTimeout        = 15 * time.Second
	authReplyTimeout      = 10 * time.Second
	proxyReplyTimeout     = 30 * time.Second
)

// sentinel for permanent rejections that reconnecting cannot fix.
var errAuthRejected = errors.New("authentication rejected")

// CommandHandler receives payloads pushed by the backend. The slice is only
// valid for the duration of the call.
type CommandHandler func(payload []byte)

// Client maintains one authenticated connection to the backend on behalf of
// a facility, reconnecting with backoff when the connection drops.
type Client struct {
	cfg     config.GatewayConfig
	log     *slog.Logger
	onPush  CommandHandler
	pending sync.Map // proxy request id -> chan *gatewayproto.ProxyResponse
}

// New creates a Client. handler may be nil, in which case pushed payloads
// are only logged.
func New(cfg config.GatewayConfig, logger *slog.Logger, handler CommandHandler) *Client {
	return &Client{cfg: cfg, log: logger, onPush: handler}
}

// Run connects and serves until ctx is canceled. Transient failures trigger
// reconnects with exponential backoff; a hard authentication rejection ends
// the loop since retrying the same credential cannot succeed.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectInitialDelay
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errAuthRejected) {
			return err
		}
		c.log.Warn("connection lost, reconnecting", "facility_id", c.cfg.FacilityID, "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Client) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	sock, _, err := dialer.DialContext(ctx, connectURL(c.cfg.ServerURL), nil)
	if err != nil {
		return fmt.Errorf("dial backend: %w", err)
	}
	defer sock.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = sock.Close()
		case <-stop:
		}
	}()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := sock.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		defer func() { _ = sock.SetWriteDeadline(time.Time{}) }()
		return sock.WriteJSON(v)
	}

	if err := c.authenticate(sock, writeJSON); err != nil {
		return err
	}
	c.log.Info("connected", "facility_id", c.cfg.FacilityID, "server", c.cfg.ServerURL)

	if c.cfg.ProbePath != "" {
		go c.probe(ctx, writeJSON)
	}

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(raw, writeJSON)
	}
}

// authenticate sends the AUTH frame and waits for the backend's verdict.
func (c *Client) authenticate(sock *websocket.Conn, writeJSON func(any) error) error {
	auth := struct {
		Type       string `json:"type"`
		Token      string `json:"token"`
		FacilityID string `json:"facilityId"`
	}{gatewayproto.TypeAuth, c.cfg.Token, c.cfg.FacilityID}
	if err := writeJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	_ = sock.SetReadDeadline(time.Now().Add(authReplyTimeout))
	defer func() { _ = sock.SetReadDeadline(time.Time{}) }()
	_, raw, err := sock.ReadMessage()
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}

	var reply struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode auth reply: %w", err)
	}
	switch reply.Type {
	case gatewayproto.TypeAuthOK:
		return nil
	case gatewayproto.TypeError:
		return fmt.Errorf("%w: %s %s", errAuthRejected, reply.Code, reply.Message)
	default:
		return fmt.Errorf("unexpected auth reply type %q", reply.Type)
	}
}

// handleFrame routes one frame received after authentication.
func (c *Client) handleFrame(raw []byte, writeJSON func(any) error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
		// No type discriminator means this is a pushed command payload.
		c.deliverPush(raw)
		return
	}

	switch head.Type {
	case gatewayproto.TypePing:
		if err := writeJSON(map[string]string{"type": gatewayproto.TypePong}); err != nil {
			c.log.Warn("pong failed", "err", err)
		}
	case gatewayproto.TypeProxyResponse:
		var resp gatewayproto.ProxyResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Warn("malformed proxy response", "err", err)
			return
		}
		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan *gatewayproto.ProxyResponse) <- &resp
		}
	case gatewayproto.TypeError:
		c.log.Warn("backend reported error", "frame", string(raw))
	default:
		c.deliverPush(raw)
	}
}

func (c *Client) deliverPush(payload []byte) {
	c.log.Info("command received", "facility_id", c.cfg.FacilityID, "payload", string(payload))
	if c.onPush != nil {
		c.onPush(payload)
	}
}

// Call sends one PROXY_REQUEST through the bridge and waits for the
// response with the same correlation id.
func (c *Client) Call(ctx context.Context, writeJSON func(any) error, method, path string, body json.RawMessage) (*gatewayproto.ProxyResponse, error) {
	id := uuid.NewString()
	ch := make(chan *gatewayproto.ProxyResponse, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	req := struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Path   string          `json:"path"`
		Body   json.RawMessage `json:"body,omitempty"`
	}{gatewayproto.TypeProxyRequest, id, method, path, body}
	if err := writeJSON(req); err != nil {
		return nil, fmt.Errorf("send proxy request: %w", err)
	}

	timer := time.NewTimer(proxyReplyTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("proxy request %s timed out", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// probe exercises the bridge once after connect so operators can verify
// round trip reachability from the gateway's side.
func (c *Client) probe(ctx context.Context, writeJSON func(any) error) {
	resp, err := c.Call(ctx, writeJSON, "GET", c.cfg.ProbePath, nil)
	if err != nil {
		c.log.Warn("bridge probe failed", "path", c.cfg.ProbePath, "err", err)
		return
	}
	c.log.Info("bridge probe", "path", c.cfg.ProbePath, "status", resp.Status)
}

// connectURL appends the fixed upgrade path to the configured server URL,
// accepting http(s) schemes for convenience.
func connectURL(serverURL string) string {
	u := strings.TrimSuffix(serverURL, "/")
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/v1/gateways/connect"
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}
