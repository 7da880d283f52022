package sinks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alphastream/streamclient/internal/event"
)

func sampleEvent(id string) event.Event {
	return event.Event{
		Kind:      event.KindPostCreated,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PrimaryID: id,
		Actor:     event.Actor{Handle: "alice", DisplayName: "Alice"},
		Payload:   map[string]any{"tweetId": id},
	}
}

func TestCLIWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	c := NewCLI(&buf)

	if err := c.Write(sampleEvent("t1")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := c.Write(sampleEvent("t2")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "alice") || !strings.Contains(lines[0], "t1") {
		t.Errorf("line 1 missing expected fields: %q", lines[0])
	}
}

func TestDashboardBacklogEviction(t *testing.T) {
	d := NewDashboard(2, nil)
	d.Write(sampleEvent("t1"))
	d.Write(sampleEvent("t2"))
	d.Write(sampleEvent("t3"))

	d.mu.Lock()
	got := len(d.events)
	first := d.events[0].PrimaryID
	d.mu.Unlock()

	if got != 2 {
		t.Fatalf("backlog length = %d, want 2", got)
	}
	if first != "t2" {
		t.Errorf("oldest retained event = %q, want t2 (t1 should have been evicted)", first)
	}
}

func TestDashboardHandleEventsServesBacklog(t *testing.T) {
	d := NewDashboard(10, nil)
	d.Write(sampleEvent("t1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	d.handleEvents(rec, req)

	var got []eventJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(got) != 1 || got[0].PrimaryID != "t1" {
		t.Errorf("unexpected response body: %v", got)
	}
}

func TestWebhookPostsEventAsJSON(t *testing.T) {
	received := make(chan eventJSON, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev eventJSON
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("server failed to decode body: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second)
	if err := wh.Write(sampleEvent("t1")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	select {
	case ev := <-received:
		if ev.PrimaryID != "t1" {
			t.Errorf("PrimaryID = %q, want t1", ev.PrimaryID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook POST")
	}
}

func TestWebhookNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second)
	if err := wh.Write(sampleEvent("t1")); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
