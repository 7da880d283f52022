package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type staticSource struct {
	channels []string
	users    []string
}

func (s staticSource) CurrentSubscribe() ([]string, []string) { return s.channels, s.users }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnectSucceedsAndReachesConnectedState(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{URL: fs.wsURL(), Token: "secret"}, staticSource{channels: []string{"all"}}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if tr.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", tr.State())
	}
}

func TestConnectWithInvalidTokenFailsWithoutReconnect(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{URL: fs.wsURL(), Token: "wrong"}, staticSource{}, nil)
	defer tr.Close()

	err := tr.Connect(context.Background())
	if err == nil {
		t.Fatal("expected an error from the bad-token close")
	}

	time.Sleep(50 * time.Millisecond)
	if tr.State() == StateConnected {
		t.Fatal("expected no reconnect after a close-code auth failure")
	}
}

func TestConnectWithEmptyTokenRejectedLocallyBeforeDial(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{URL: fs.wsURL(), Token: "   "}, staticSource{}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected error for empty/whitespace token")
	}
}

func TestEventsAreDeliveredToHandler(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	received := make(chan string, 1)
	tr := New(Config{URL: fs.wsURL(), Token: "secret"}, staticSource{channels: []string{"all"}},
		func(eventType string, data json.RawMessage) {
			received <- eventType
		})
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	if err := fs.pushEvent(conn, "post_created", []byte(`{"id":"t1"}`)); err != nil {
		t.Fatalf("pushEvent failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "post_created" {
			t.Errorf("event type = %q, want post_created", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestConnectRejectedWhenSubscribeIsRejected(t *testing.T) {
	fs := newFakeServer("secret")
	fs.rejectSubscribe = true
	defer fs.close()

	tr := New(Config{URL: fs.wsURL(), Token: "secret"}, staticSource{channels: []string{"all"}}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected subscribe rejection to surface from Connect")
	}
}

func TestReconnectAfterAbnormalDrop(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{
		URL:     fs.wsURL(),
		Token:   "secret",
		Backoff: BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2.0},
	}, staticSource{channels: []string{"all"}}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("initial Connect failed: %v", err)
	}

	fs.dropAll()
	waitUntil(t, time.Second, func() bool { return tr.State() != StateConnected })
	waitUntil(t, 2*time.Second, func() bool { return tr.State() == StateConnected })
}

func TestNoReconnectAfterNormalClose(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{
		URL:     fs.wsURL(),
		Token:   "secret",
		Backoff: BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2.0},
	}, staticSource{channels: []string{"all"}}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("initial Connect failed: %v", err)
	}

	fs.closeAllWithCode(closeCodeNormal)
	waitUntil(t, time.Second, func() bool { return tr.State() != StateConnected })

	time.Sleep(200 * time.Millisecond)
	if tr.State() == StateConnected {
		t.Fatal("expected no reconnect after a normal (1000) close")
	}
}

func TestReconnectAfterShutdownFrameUsesFixedDelay(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{
		URL:     fs.wsURL(),
		Token:   "secret",
		Backoff: BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 2.0}, // would never fire in time if used
	}, staticSource{channels: []string{"all"}}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("initial Connect failed: %v", err)
	}

	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	if err := fs.pushShutdown(conn); err != nil {
		t.Fatalf("pushShutdown failed: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return tr.State() == StateDisconnected })
	// The shutdown path uses a fixed retry delay regardless of the
	// (intentionally enormous) backoff config above, so this must
	// reconnect well within a few seconds, not an hour.
	waitUntil(t, 8*time.Second, func() bool { return tr.State() == StateConnected })
}

func TestCloseIsIdempotentAndStopsReconnect(t *testing.T) {
	fs := newFakeServer("secret")
	defer fs.close()

	tr := New(Config{URL: fs.wsURL(), Token: "secret"}, staticSource{channels: []string{"all"}}, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if tr.State() == StateConnected {
		t.Fatal("expected state not connected after Close")
	}
}
