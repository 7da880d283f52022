// Package filter implements the composable predicate pipeline applied
// to Internal Events before dedup and fan-out. Each predicate is
// independently reconfigurable at runtime without locking publication:
// reconfiguration swaps an atomic.Pointer snapshot, the same lock-free
// counter-swap pattern a rate limiter uses, generalized here from a
// counter to a set snapshot.
package filter

import (
	"strings"
	"sync/atomic"

	"github.com/alphastream/streamclient/internal/event"
)

// Predicate reports whether an event should continue through the
// pipeline. A Pipeline accepts an event iff every registered
// Predicate accepts it.
type Predicate func(event.Event) bool

// Pipeline is an ordered, composable list of predicates.
type Pipeline struct {
	predicates []Predicate
}

// New creates a Pipeline from the given predicates, evaluated in
// order. A nil predicate is skipped.
func New(predicates ...Predicate) *Pipeline {
	p := &Pipeline{}
	for _, pred := range predicates {
		if pred != nil {
			p.predicates = append(p.predicates, pred)
		}
	}
	return p
}

// Accepts reports whether e passes every predicate in the pipeline.
// An empty pipeline accepts everything.
func (p *Pipeline) Accepts(e event.Event) bool {
	for _, pred := range p.predicates {
		if !pred(e) {
			return false
		}
	}
	return true
}

// UserFilter matches events whose actor handle (case-insensitively)
// is in a configured set. The set can be swapped at runtime via
// SetUsers without any lock contention against concurrent
// publication — readers always see a complete, consistent set.
type UserFilter struct {
	set atomic.Pointer[map[string]struct{}]
}

// NewUserFilter creates a UserFilter seeded with handles. An empty
// slice means "no user filter" (match everything) until SetUsers is
// called with a non-empty set.
func NewUserFilter(handles []string) *UserFilter {
	f := &UserFilter{}
	f.SetUsers(handles)
	return f
}

// SetUsers atomically replaces the matched handle set. Handles are
// compared case-insensitively against the event's handle.
func (f *UserFilter) SetUsers(handles []string) {
	set := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	f.set.Store(&set)
}

// Predicate returns a Predicate bound to this filter's live set. When
// the set is empty, every event matches (the filter is effectively
// disabled).
func (f *UserFilter) Predicate() Predicate {
	return func(e event.Event) bool {
		set := f.set.Load()
		if set == nil || len(*set) == 0 {
			return true
		}
		_, ok := (*set)[e.Actor.LowerHandle()]
		return ok
	}
}

// KeywordFilter matches events whose searchable text surface contains
// any of a configured set of case-folded keywords (OR semantics).
type KeywordFilter struct {
	keywords atomic.Pointer[[]string]
}

// NewKeywordFilter creates a KeywordFilter seeded with keywords. An
// empty slice disables the filter (match everything).
func NewKeywordFilter(keywords []string) *KeywordFilter {
	f := &KeywordFilter{}
	f.SetKeywords(keywords)
	return f
}

// SetKeywords atomically replaces the matched keyword set.
func (f *KeywordFilter) SetKeywords(keywords []string) {
	folded := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			folded = append(folded, k)
		}
	}
	f.keywords.Store(&folded)
}

// Predicate returns a Predicate bound to this filter's live keyword
// set, searching the text surface exposed by textSurface.
func (f *KeywordFilter) Predicate() Predicate {
	return func(e event.Event) bool {
		kws := f.keywords.Load()
		if kws == nil || len(*kws) == 0 {
			return true
		}
		surface := strings.ToLower(textSurface(e))
		for _, kw := range *kws {
			if strings.Contains(surface, kw) {
				return true
			}
		}
		return false
	}
}

// textSurface assembles the searchable strings for an event: the
// actor's display name followed by every string value found anywhere
// in the payload (tweet text, bio, and so on). Tweet text is not given
// priority over the other fields.
func textSurface(e event.Event) string {
	var sb strings.Builder
	sb.WriteString(e.Actor.DisplayName)
	sb.WriteByte(' ')
	collectStrings(e.Payload, &sb)
	return sb.String()
}

func collectStrings(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
		sb.WriteByte(' ')
	case map[string]any:
		for _, e := range t {
			collectStrings(e, sb)
		}
	case []any:
		for _, e := range t {
			collectStrings(e, sb)
		}
	}
}

// KindFilter restricts delivery to an allowed set of event kinds. An
// empty allow-set means "all kinds allowed" and is the default — kind
// filtering is opt-in.
type KindFilter struct {
	allowed atomic.Pointer[map[event.Kind]struct{}]
}

// NewKindFilter creates a KindFilter. An empty kinds slice allows
// everything.
func NewKindFilter(kinds []event.Kind) *KindFilter {
	f := &KindFilter{}
	f.SetKinds(kinds)
	return f
}

// SetKinds atomically replaces the allowed kind set.
func (f *KindFilter) SetKinds(kinds []event.Kind) {
	set := make(map[event.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	f.allowed.Store(&set)
}

// Predicate returns a Predicate bound to this filter's live allow-set.
func (f *KindFilter) Predicate() Predicate {
	return func(e event.Event) bool {
		set := f.allowed.Load()
		if set == nil || len(*set) == 0 {
			return true
		}
		_, ok := (*set)[e.Kind]
		return ok
	}
}
