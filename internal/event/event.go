// Package event defines the canonical internal event shape produced by
// the normalizer and carried through the filter, dedup, and fan-out
// stages. It has no dependency on any other pipeline package so that
// every stage can import it without risk of a cycle.
package event

import (
	"strings"
	"time"
)

// Kind identifies the category of an Internal Event. The zero value
// Kind("") and KindUnknown are both treated as "not a real event" by
// the normalizer and orchestrator validation passes.
type Kind string

// The closed set of event kinds the normalizer may produce. Anything
// else is rejected before publication.
const (
	KindPostCreated    Kind = "post_created"
	KindPostUpdated    Kind = "post_updated"
	KindFollowCreated  Kind = "follow_created"
	KindFollowUpdated  Kind = "follow_updated"
	KindUserUpdated    Kind = "user_updated"
	KindProfileUpdated Kind = "profile_updated"
	KindProfilePinned  Kind = "profile_pinned"
	KindUnknown        Kind = "unknown"
)

// Actor identifies the upstream user a record concerns.
type Actor struct {
	// Handle is case-preserved for display.
	Handle string
	// DisplayName falls back to Handle when the upstream record has none.
	DisplayName string
	UserID      string
}

// LowerHandle returns Handle lowercased, for case-insensitive
// user-filter matching (spec Invariant: handle is case-preserved for
// display but lowercased for filtering).
func (a Actor) LowerHandle() string {
	return strings.ToLower(a.Handle)
}

// Event is the pipeline's canonical record: an upstream frame after
// kind resolution, identity extraction, and a deep payload copy.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	PrimaryID string
	Actor     Actor
	// Payload is a deep, independent copy of the upstream record's
	// data subtree. It must never share references with the frame
	// that produced it.
	Payload map[string]any
}

// Fingerprint is the dedup cache key: kind and primary ID are already
// content-distinguishing per the normalizer's derivation rules, so no
// further hashing of the payload is required.
func (e Event) Fingerprint() string {
	return string(e.Kind) + "|" + e.PrimaryID
}

// Valid reports whether e passes the minimal shape every stage may
// assume: a real kind, and a handle that isn't the normalizer's
// "unknown" sentinel. Both the normalizer and the orchestrator's
// defense-in-depth pass call this.
func (e Event) Valid() bool {
	if e.Kind == "" || e.Kind == KindUnknown {
		return false
	}
	if e.Actor.Handle == "" || e.Actor.Handle == "unknown" {
		return false
	}
	return true
}
