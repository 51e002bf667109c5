// Package bus provides the message-bus abstraction the supervisor and
// daemons communicate over: a capability to connect, join channels, send to
// a channel or a direct address, and disconnect, plus sinks that deliver
// inbound messages, transport errors, and unexpected disconnects.
package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotConnected is returned by Send/Join when the endpoint has not
// completed Connect.
var ErrNotConnected = errors.New("bus: not connected")

// Message is the envelope carried over the bus. Content is opaque to the
// transport; the supervisor's router parses it as a structured JSON record
// (see the protocol package's message types).
type Message struct {
	Type    string
	From    string
	To      string
	Content string
	TS      time.Time
}

// MessageSink receives inbound messages addressed to the endpoint.
type MessageSink func(Message)

// ErrorSink receives transport-level errors that do not terminate the
// connection (e.g. a single failed send on a remote transport).
type ErrorSink func(error)

// DisconnectSink receives notice of an unexpected disconnect. Never called
// for a caller-initiated Disconnect.
type DisconnectSink func(error)

// Transport is the capability interface both the in-process Hub and the
// remote websocket transport implement. Concrete transports are
// interchangeable behind this interface; no transport identifier leaks
// through it.
type Transport interface {
	Connect(ctx context.Context) (agentID string, err error)
	Join(channel string) error
	Send(to, content string) error
	Disconnect() error
	OnMessage(MessageSink)
	OnDisconnect(DisconnectSink)
	OnError(ErrorSink)
}

// Hub is the in-process implementation: many Endpoints share one hub.
// Delivery filters by channel membership and by direct-address match; a
// sender's own messages on a channel it belongs to are never echoed back to
// it.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	channels  map[string]map[string]*Endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		channels:  make(map[string]map[string]*Endpoint),
	}
}

// NewEndpoint creates a Transport bound to this hub. If agentID is empty, a
// random one is assigned on Connect.
func (h *Hub) NewEndpoint(agentID string) *Endpoint {
	return &Endpoint{hub: h, agentID: agentID, channels: make(map[string]bool)}
}

func (h *Hub) register(e *Endpoint) {
	h.mu.Lock()
	h.endpoints[e.agentID] = e
	h.mu.Unlock()
}

func (h *Hub) unregister(e *Endpoint) {
	h.mu.Lock()
	delete(h.endpoints, e.agentID)
	for _, members := range h.channels {
		delete(members, e.agentID)
	}
	h.mu.Unlock()
}

func (h *Hub) subscribe(channel string, e *Endpoint) {
	h.mu.Lock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Endpoint)
		h.channels[channel] = members
	}
	members[e.agentID] = e
	h.mu.Unlock()
}

// deliver routes msg to its recipients. The membership lookup happens under
// the read lock; sink invocation happens after release so a sink that calls
// back into the hub (e.g. replies with its own Send) cannot deadlock.
func (h *Hub) deliver(msg Message, fromID string) {
	switch {
	case strings.HasPrefix(msg.To, "#"):
		channel := strings.TrimPrefix(msg.To, "#")
		h.mu.RLock()
		members := h.channels[channel]
		recipients := make([]*Endpoint, 0, len(members))
		for id, ep := range members {
			if id == fromID {
				continue // echo suppression
			}
			recipients = append(recipients, ep)
		}
		h.mu.RUnlock()
		for _, ep := range recipients {
			ep.dispatch(msg)
		}
	case strings.HasPrefix(msg.To, "@"):
		agentID := strings.TrimPrefix(msg.To, "@")
		h.mu.RLock()
		ep, ok := h.endpoints[agentID]
		h.mu.RUnlock()
		if ok {
			ep.dispatch(msg)
		}
	}
}

// Endpoint is one connection into a Hub; it implements Transport.
type Endpoint struct {
	hub     *Hub
	agentID string

	mu           sync.Mutex
	connected    bool
	channels     map[string]bool
	onMessage    MessageSink
	onDisconnect DisconnectSink
	onError      ErrorSink
}

// Connect registers the endpoint with its hub and returns its agentID.
func (e *Endpoint) Connect(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.agentID == "" {
		e.agentID = uuid.NewString()[:8]
	}
	e.connected = true
	e.mu.Unlock()
	e.hub.register(e)
	return e.agentID, nil
}

// Join subscribes the endpoint to a channel. Idempotent.
func (e *Endpoint) Join(channel string) error {
	if !e.isConnected() {
		return ErrNotConnected
	}
	e.mu.Lock()
	if e.channels[channel] {
		e.mu.Unlock()
		return nil
	}
	e.channels[channel] = true
	e.mu.Unlock()
	e.hub.subscribe(channel, e)
	return nil
}

// Send delivers content to target, which is "#channel" or "@agentId".
func (e *Endpoint) Send(to, content string) error {
	if !e.isConnected() {
		return ErrNotConnected
	}
	msg := Message{Type: "message", From: e.agentID, To: to, Content: content, TS: time.Now()}
	e.hub.deliver(msg, e.agentID)
	return nil
}

// Disconnect removes the endpoint from its hub. Caller-initiated; does not
// fire OnDisconnect.
func (e *Endpoint) Disconnect() error {
	e.hub.unregister(e)
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) OnMessage(sink MessageSink) {
	e.mu.Lock()
	e.onMessage = sink
	e.mu.Unlock()
}

func (e *Endpoint) OnDisconnect(sink DisconnectSink) {
	e.mu.Lock()
	e.onDisconnect = sink
	e.mu.Unlock()
}

func (e *Endpoint) OnError(sink ErrorSink) {
	e.mu.Lock()
	e.onError = sink
	e.mu.Unlock()
}

func (e *Endpoint) isConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Endpoint) dispatch(msg Message) {
	e.mu.Lock()
	sink := e.onMessage
	e.mu.Unlock()
	if sink != nil {
		sink(msg)
	}
}

// AgentID returns the endpoint's assigned or confirmed agent identity.
// Empty until Connect has run.
func (e *Endpoint) AgentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentID
}
