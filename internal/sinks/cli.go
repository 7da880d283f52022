// Package sinks holds the reference bus.Sink implementations a
// deployment wires up via the outputs section of its configuration:
// a line-oriented terminal writer, an HTTP JSON feed for a dashboard
// collaborator, and a generic webhook forwarder. None persists
// anything across a restart.
package sinks

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/alphastream/streamclient/internal/event"
)

// CLI writes one line per event to its writer: compact, readable, no
// framing beyond a newline. Safe for concurrent Write calls since Bus
// invokes sinks serially per topic but a CLI instance may be
// registered under more than one topic.
type CLI struct {
	mu sync.Mutex
	w  io.Writer
}

// NewCLI constructs a CLI sink writing to w.
func NewCLI(w io.Writer) *CLI {
	return &CLI{w: w}
}

// Write renders e as a single line: kind, actor handle, primary id.
func (c *CLI) Write(e event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[%s] %-16s @%-20s %s\n",
		e.Timestamp.Format("15:04:05"), e.Kind, e.Actor.Handle, e.PrimaryID)
	return err
}

// eventJSON is the JSON shape of an event in both the Dashboard feed
// and the Webhook body; kept here so the two sinks agree on field
// names.
type eventJSON struct {
	Kind      string         `json:"kind"`
	Timestamp string         `json:"timestamp"`
	PrimaryID string         `json:"primary_id"`
	Actor     actorJSON      `json:"actor"`
	Payload   map[string]any `json:"payload"`
}

type actorJSON struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id,omitempty"`
}

func toEventJSON(e event.Event) eventJSON {
	return eventJSON{
		Kind:      string(e.Kind),
		Timestamp: e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		PrimaryID: e.PrimaryID,
		Actor: actorJSON{
			Handle:      e.Actor.Handle,
			DisplayName: e.Actor.DisplayName,
			UserID:      e.Actor.UserID,
		},
		Payload: e.Payload,
	}
}

// marshalEvent encodes e in the eventJSON shape for the Webhook body;
// Dashboard stores toEventJSON values and encodes its backlog directly.
func marshalEvent(e event.Event) ([]byte, error) {
	return json.Marshal(toEventJSON(e))
}
