package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifyPostsJSONWithAuthHeader(t *testing.T) {
	var gotAuth string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotEvent); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(Config{URL: srv.URL, AuthToken: "secret-token"})
	ev := Event{Kind: "health", AgentID: "builder-1", Reason: "unresponsive", Timestamp: time.Now()}
	if err := sink.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization header = %q, want Bearer secret-token", gotAuth)
	}
	if gotEvent.AgentID != "builder-1" || gotEvent.Reason != "unresponsive" {
		t.Fatalf("decoded event = %+v", gotEvent)
	}
}

func TestNotifyNoURLIsNoop(t *testing.T) {
	sink := New(Config{})
	if err := sink.Notify(context.Background(), Event{Kind: "health"}); err != nil {
		t.Fatalf("Notify() with empty URL should be a no-op, got error: %v", err)
	}
}

func TestNotifyNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := New(Config{URL: srv.URL})
	if err := sink.Notify(context.Background(), Event{Kind: "health"}); err == nil {
		t.Fatal("expected an error for a non-2xx webhook response")
	}
}
