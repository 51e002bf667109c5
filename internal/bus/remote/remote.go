// Package remote is a gorilla/websocket-backed bus.Transport, the wire
// counterpart to the in-process Hub: same Connect/Join/Send/Disconnect
// contract, but carried over a websocket connection with an identity
// challenge/response handshake, and a read/write pump pair in the shape
// of a standard gorilla/websocket client (ping/pong keepalive, a
// buffered outbound queue written one frame at a time).
package remote

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentfleet/swarmd/internal/bus"
	"github.com/agentfleet/swarmd/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// wireFrame is the JSON envelope exchanged over the socket; it carries
// both handshake control frames and regular bus messages.
type wireFrame struct {
	Kind      string `json:"kind"`
	Nonce     string `json:"nonce,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Signature string `json:"signature,omitempty"`

	Type    string    `json:"type,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Content string    `json:"content,omitempty"`
	TS      time.Time `json:"ts,omitempty"`
}

// Client is a bus.Transport backed by one websocket connection to a
// remote bus server. The zero value is not usable; build one with New.
type Client struct {
	url    string
	token  string
	id     *identity.Identity
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	agentID      string
	send         chan wireFrame
	onMessage    bus.MessageSink
	onDisconnect bus.DisconnectSink
	onError      bus.ErrorSink
}

// New builds a Client that will dial url on Connect, authenticating as id
// with an optional bearer token for the initial HTTP upgrade request.
func New(url, token string, id *identity.Identity) *Client {
	return &Client{url: url, token: token, id: id, dialer: websocket.DefaultDialer}
}

// Connect dials the remote bus and performs the identity challenge:
// the server sends a nonce, the client signs it with its Ed25519 private
// key and returns agentId/publicKey/signature, the server replies
// auth_ok or auth_fail.
func (c *Client) Connect(ctx context.Context) (string, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return "", fmt.Errorf("remote: dial: %w", err)
	}

	var challenge wireFrame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return "", fmt.Errorf("remote: read challenge: %w", err)
	}
	if challenge.Kind != "challenge" {
		conn.Close()
		return "", fmt.Errorf("remote: expected challenge frame, got %q", challenge.Kind)
	}

	sig := ed25519.Sign(c.id.PrivateKey, []byte(challenge.Nonce))
	resp := wireFrame{
		Kind:      "auth",
		AgentID:   c.id.AgentID,
		PublicKey: base64.StdEncoding.EncodeToString(c.id.PublicKey),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
	if err := conn.WriteJSON(resp); err != nil {
		conn.Close()
		return "", fmt.Errorf("remote: write auth response: %w", err)
	}

	var ack wireFrame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return "", fmt.Errorf("remote: read auth ack: %w", err)
	}
	if ack.Kind != "auth_ok" {
		conn.Close()
		return "", fmt.Errorf("remote: handshake rejected: %s", ack.Kind)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.agentID = c.id.AgentID
	c.send = make(chan wireFrame, 256)
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c.agentID, nil
}

// Join subscribes to a channel by sending a join control frame; the
// server tracks channel membership, mirroring Hub.subscribe.
func (c *Client) Join(channel string) error {
	if !c.isConnected() {
		return bus.ErrNotConnected
	}
	c.enqueue(wireFrame{Kind: "join", To: channel})
	return nil
}

// Send delivers content to target ("#channel" or "@agentId").
func (c *Client) Send(to, content string) error {
	if !c.isConnected() {
		return bus.ErrNotConnected
	}
	c.enqueue(wireFrame{
		Kind:    "message",
		Type:    "message",
		From:    c.agentID,
		To:      to,
		Content: content,
		TS:      time.Now(),
	})
	return nil
}

// Disconnect closes the connection. Caller-initiated; does not fire
// OnDisconnect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return conn.Close()
}

func (c *Client) OnMessage(sink bus.MessageSink) {
	c.mu.Lock()
	c.onMessage = sink
	c.mu.Unlock()
}

func (c *Client) OnDisconnect(sink bus.DisconnectSink) {
	c.mu.Lock()
	c.onDisconnect = sink
	c.mu.Unlock()
}

func (c *Client) OnError(sink bus.ErrorSink) {
	c.mu.Lock()
	c.onError = sink
	c.mu.Unlock()
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) enqueue(f wireFrame) {
	c.mu.Lock()
	ch := c.send
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		c.fireError(fmt.Errorf("remote: send buffer full, dropping frame"))
	}
}

func (c *Client) fireError(err error) {
	c.mu.Lock()
	sink := c.onError
	c.mu.Unlock()
	if sink != nil {
		sink(err)
	}
}

func (c *Client) fireDisconnect(err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	sink := c.onDisconnect
	c.mu.Unlock()
	if wasConnected && sink != nil {
		sink(err)
	}
}

func (c *Client) readPump() {
	defer c.teardown()
	for {
		var f wireFrame
		err := c.conn.ReadJSON(&f)
		if err != nil {
			c.fireDisconnect(err)
			return
		}
		if f.Kind != "message" {
			continue
		}
		c.mu.Lock()
		sink := c.onMessage
		c.mu.Unlock()
		if sink != nil {
			sink(bus.Message{Type: f.Type, From: f.From, To: f.To, Content: f.Content, TS: f.TS})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				c.fireError(fmt.Errorf("remote: write: %w", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

var _ bus.Transport = (*Client)(nil)
