package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// GatewayOptions configures the HTTP client for the messaging gateway daemon.
type GatewayOptions struct {
	BaseURL string
	// APIToken authenticates this service to the gateway; never log it.
	APIToken       string
	RequestTimeout time.Duration
}

// GatewayTransport talks to the external messaging gateway over HTTP.
// The gateway owns the device connections; this client drives one logical
// connection per session and relays the gateway's event stream.
type GatewayTransport struct {
	base    string
	token   string
	client  *http.Client
	streams *http.Client
	log     *slog.Logger
}

func NewGatewayTransport(opts GatewayOptions, log *slog.Logger) *GatewayTransport {
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayTransport{
		base:   opts.BaseURL,
		token:  opts.APIToken,
		client: &http.Client{Timeout: timeout},
		// The event stream stays open for the connection's lifetime; no
		// client timeout, cancellation comes from Close.
		streams: &http.Client{},
		log:     log,
	}
}

func (t *GatewayTransport) Dial(ctx context.Context, sessionID string, credentials []byte) (Conn, error) {
	body, err := json.Marshal(struct {
		Credentials []byte `json:"credentials,omitempty"`
	}{Credentials: credentials})
	if err != nil {
		return nil, err
	}
	if err := t.do(ctx, http.MethodPost, t.sessionPath(sessionID, "connect"), body, nil); err != nil {
		return nil, fmt.Errorf("gateway connect: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.sessionPath(sessionID, "events"), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	t.authorize(req)
	resp, err := t.streams.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gateway event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("gateway event stream: status %d", resp.StatusCode)
	}

	conn := &gatewayConn{
		transport: t,
		sessionID: sessionID,
		events:    make(chan Event, 16),
		cancel:    cancel,
		body:      resp.Body,
	}
	go conn.readEvents()
	return conn, nil
}

func (t *GatewayTransport) sessionPath(sessionID string, parts ...string) string {
	p := t.base + "/v1/sessions/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (t *GatewayTransport) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

// do runs a JSON request and optionally decodes the response into out.
func (t *GatewayTransport) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// gatewayEvent is the gateway's newline-delimited JSON event shape.
type gatewayEvent struct {
	Type        string `json:"type"`
	QR          string `json:"qr,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Credentials []byte `json:"credentials,omitempty"`
}

type gatewayConn struct {
	transport *GatewayTransport
	sessionID string
	events    chan Event
	cancel    context.CancelFunc
	body      io.ReadCloser
}

func (c *gatewayConn) Events() <-chan Event { return c.events }

func (c *gatewayConn) readEvents() {
	defer close(c.events)
	sc := bufio.NewScanner(c.body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ge gatewayEvent
		if err := json.Unmarshal(line, &ge); err != nil {
			c.transport.log.Warn("gateway event decode failed", "session_id", c.sessionID, "err", err)
			continue
		}
		ev, ok := ge.toEvent()
		if !ok {
			c.transport.log.Warn("unknown gateway event", "session_id", c.sessionID, "type", ge.Type)
			continue
		}
		c.events <- ev
	}
	// Stream gone; the consumer treats channel close as a stream error.
}

func (ge gatewayEvent) toEvent() (Event, bool) {
	switch ge.Type {
	case "connected":
		return Event{Kind: EventConnected, Phone: ge.Phone}, true
	case "qr":
		return Event{Kind: EventQR, QR: ge.QR}, true
	case "credentials":
		return Event{Kind: EventCredentials, Credentials: ge.Credentials}, true
	case "disconnected":
		return Event{Kind: EventDisconnected, Reason: ge.Reason}, true
	default:
		return Event{}, false
	}
}

func (c *gatewayConn) Send(ctx context.Context, address string, msg Payload) error {
	body, err := json.Marshal(struct {
		To        string `json:"to"`
		Text      string `json:"text,omitempty"`
		Media     []byte `json:"media,omitempty"`
		MediaMIME string `json:"media_mime,omitempty"`
		Caption   string `json:"caption,omitempty"`
	}{
		To:        address,
		Text:      msg.Text,
		Media:     msg.Media,
		MediaMIME: msg.MediaMIME,
		Caption:   msg.Caption,
	})
	if err != nil {
		return err
	}
	return c.transport.do(ctx, http.MethodPost, c.transport.sessionPath(c.sessionID, "messages"), body, nil)
}

func (c *gatewayConn) CheckRegistered(ctx context.Context, address string) (bool, error) {
	var out struct {
		Registered bool `json:"registered"`
	}
	u := c.transport.sessionPath(c.sessionID, "contacts", url.PathEscape(address), "exists")
	if err := c.transport.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

func (c *gatewayConn) Close() error {
	c.cancel()
	return c.body.Close()
}
