// Package normalize transforms upstream frames into the pipeline's
// canonical event.Event shape, or rejects them. It has no network or
// storage dependency — it is a pure function of a frame plus a clock
// and a monotonic counter for synthetic identifiers.
//
// The extraction rules (priority-ranked field lookups, kind rewriting,
// primary ID derivation by kind) generalize a field-fallback style
// normally expressed as JSON struct tags into explicit lookup chains,
// because the upstream shape is a free-form nested map rather than a
// fixed struct.
package normalize

import (
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alphastream/streamclient/internal/event"
)

// Frame is a raw server-to-client data frame: event_type plus an
// already JSON-decoded data subtree.
type Frame struct {
	EventType string
	Data      map[string]any
}

// Normalizer extracts Internal Events from raw frames. The zero value
// is not usable; construct with New.
type Normalizer struct {
	logger  *slog.Logger
	counter atomic.Uint64
	nowFunc func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the wall-clock source used for Event.Timestamp.
// Tests use this to produce deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.nowFunc = now }
}

// New creates a Normalizer. logger defaults to slog.Default() if nil.
func New(logger *slog.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Normalizer{logger: logger, nowFunc: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize converts f into an Internal Event. ok is false when the
// frame is rejected (kind unknown, handle unknown, or a required
// field missing); rejections are logged at debug level and are not
// treated as an error — the caller simply skips the frame.
func (n *Normalizer) Normalize(f Frame) (event.Event, bool) {
	data := f.Data
	if data == nil {
		data = map[string]any{}
	}

	kind := n.resolveKind(f.EventType, data)
	handle, displayName, userID := n.extractIdentity(data)
	primaryID := n.derivePrimaryID(kind, handle, data)

	ev := event.Event{
		Kind:      kind,
		Timestamp: n.nowFunc().UTC(),
		PrimaryID: primaryID,
		Actor: event.Actor{
			Handle:      handle,
			DisplayName: displayName,
			UserID:      userID,
		},
		Payload: deepCopyMap(data),
	}

	if !n.validate(ev) {
		n.logger.Debug("normalize: rejected frame",
			"event_type", f.EventType, "resolved_kind", string(kind), "handle", handle)
		return event.Event{}, false
	}
	return ev, true
}

// resolveKind implements the kind-rewrite rule: event_type is
// authoritative unless data.action names an update action the
// upstream actor labels inconsistently.
func (n *Normalizer) resolveKind(eventType string, data map[string]any) event.Kind {
	kind := event.Kind(eventType)
	if action, ok := stringField(data, "action"); ok {
		switch action {
		case "follow_update":
			kind = event.KindFollowUpdated
		case "post_update":
			kind = event.KindPostUpdated
		}
	}
	return kind
}

// extractIdentity applies the first-non-empty-wins field lookup
// chains for the actor's handle, display name, and user id.
func (n *Normalizer) extractIdentity(data map[string]any) (handle, displayName, userID string) {
	handle = firstNonEmpty(
		func() (string, bool) { return stringField(data, "username") },
		func() (string, bool) { return nestedString(data, "user", "handle") },
		func() (string, bool) { return nestedString(data, "tweet", "author", "handle") },
	)
	if handle == "" {
		handle = "unknown"
	}

	displayName = firstNonEmpty(
		func() (string, bool) { return nestedString(data, "user", "profile", "name") },
		func() (string, bool) { return nestedString(data, "tweet", "author", "profile", "name") },
	)
	if displayName == "" {
		displayName = handle
	}

	userID = firstNonEmpty(
		func() (string, bool) { return nestedString(data, "user", "id") },
		func() (string, bool) { return nestedString(data, "tweet", "author", "id") },
	)
	if userID == "" {
		userID = "unknown"
	}
	return handle, displayName, userID
}

// derivePrimaryID implements the per-kind stability rules, in order of
// preference.
func (n *Normalizer) derivePrimaryID(kind event.Kind, handle string, data map[string]any) string {
	switch kind {
	case event.KindFollowCreated, event.KindFollowUpdated:
		userID, hasUser := nestedString(data, "user", "id")
		followingID, hasFollowing := nestedString(data, "following", "id")
		if hasUser && hasFollowing && userID != "" && followingID != "" {
			return userID + "-" + followingID
		}
	case event.KindPostCreated, event.KindPostUpdated:
		if id, ok := stringField(data, "tweetId"); ok && id != "" {
			return id
		}
		if id, ok := nestedString(data, "tweet", "id"); ok && id != "" {
			return id
		}
		return "unknown-" + n.next()
	}

	if id, ok := nestedString(data, "user", "id"); ok && id != "" {
		return id
	}
	if id, ok := nestedString(data, "following", "id"); ok && id != "" {
		return id
	}
	return handle + "-" + n.next()
}

func (n *Normalizer) validate(ev event.Event) bool {
	if ev.Kind == "" || ev.Kind == event.KindUnknown {
		return false
	}
	if ev.Actor.Handle == "unknown" {
		return false
	}
	if ev.Timestamp.IsZero() || ev.PrimaryID == "" || ev.Actor.DisplayName == "" || ev.Actor.UserID == "" {
		return false
	}
	return true
}

func (n *Normalizer) next() string {
	return strconv.FormatUint(n.counter.Add(1), 10)
}
