package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentfleet/swarmd/internal/bus"
	"github.com/agentfleet/swarmd/internal/identity"
)

var upgrader = websocket.Upgrader{}

// testServer runs the minimum handshake + echo loop a remote bus server
// would implement, just enough to exercise the Client end to end.
func testServer(t *testing.T, acceptSig bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(wireFrame{Kind: "challenge", Nonce: "test-nonce"}); err != nil {
			return
		}

		var auth wireFrame
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if !acceptSig {
			conn.WriteJSON(wireFrame{Kind: "auth_fail"})
			return
		}
		conn.WriteJSON(wireFrame{Kind: "auth_ok"})

		for {
			var f wireFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Kind {
			case "message":
				// Echo straight back so the client's OnMessage sink fires.
				conn.WriteJSON(f)
			case "join":
				// No-op: membership tracking is server-internal.
			}
		}
	}))
}

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.New("builder", 0)
	if err != nil {
		t.Fatalf("identity.New() error: %v", err)
	}
	return id
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnectPerformsHandshake(t *testing.T) {
	srv := testServer(t, true)
	defer srv.Close()

	id := testIdentity(t)
	c := New(wsURL(srv.URL), "", id)
	agentID, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if agentID != id.AgentID {
		t.Fatalf("agentID = %q, want %q", agentID, id.AgentID)
	}
	c.Disconnect()
}

func TestConnectRejectedHandshakeReturnsError(t *testing.T) {
	srv := testServer(t, false)
	defer srv.Close()

	id := testIdentity(t)
	c := New(wsURL(srv.URL), "", id)
	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected an error when the server rejects the handshake")
	}
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	srv := testServer(t, true)
	defer srv.Close()

	id := testIdentity(t)
	c := New(wsURL(srv.URL), "", id)

	received := make(chan bus.Message, 1)
	c.OnMessage(func(m bus.Message) { received <- m })

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Disconnect()

	if err := c.Send("#agents", "hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case m := <-received:
		if m.Content != "hello" || m.To != "#agents" {
			t.Fatalf("received message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestSendBeforeConnectReturnsNotConnected(t *testing.T) {
	id := testIdentity(t)
	c := New("ws://unused", "", id)
	if err := c.Send("#agents", "x"); err != bus.ErrNotConnected {
		t.Fatalf("Send() before Connect error = %v, want ErrNotConnected", err)
	}
}
