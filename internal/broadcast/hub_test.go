package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerball/peerball/internal/domain"
)

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the server a moment to register the subscriber
	deadlineSubscribed := time.Now().Add(200 * time.Millisecond)
	for h.ClientCount() == 0 && time.Now().Before(deadlineSubscribed) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", h.ClientCount())
	}

	h.Broadcast(domain.Snapshot{Word: "abc", Self: "p1"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Word != "abc" {
		t.Errorf("Word = %q, want abc", snap.Word)
	}
}

func TestHub_DropsSlowSubscriberWithoutBlocking(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.subscribe()
	defer unsubscribe()

	for i := 0; i < 64; i++ {
		h.Broadcast(domain.Snapshot{Word: "x"})
	}

	select {
	case <-ch:
	default:
		t.Fatalf("expected at least one buffered message")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after the slow subscriber is dropped", h.ClientCount())
	}
}

func TestIsValidOrigin(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"http://example.com", "example.com", true},
		{"http://localhost:3000", "example.com", true},
		{"http://evil.com", "example.com", false},
	}
	for _, c := range cases {
		r := &http.Request{Host: c.host, Header: http.Header{}}
		if c.origin != "" {
			r.Header.Set("Origin", c.origin)
		}
		if got := isValidOrigin(r); got != c.want {
			t.Errorf("isValidOrigin(origin=%q, host=%q) = %v, want %v", c.origin, c.host, got, c.want)
		}
	}
}
