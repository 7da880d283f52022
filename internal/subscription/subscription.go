// Package subscription owns the Subscription State data model and the
// Runtime Subscription Manager: atomic, request-id-correlated
// re-subscription that commits new state only on confirmed success,
// and that the Stream Transport consults on every (re)connect so a
// later reconnect re-subscribes with runtime values rather than the
// original configuration.
//
// It generalizes a subscriptions-list-plus-reconnect-replay pattern
// from "replay a list of independent event-type subscriptions" to
// "atomically replace one correlated subscription," because this
// protocol supports exactly one live subscription per connection
// rather than N independent ones.
package subscription

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alphastream/streamclient/internal/errs"
)

// Channel is a subscription scope advertised to the upstream actor.
type Channel string

const (
	ChannelAll       Channel = "all"
	ChannelTweets    Channel = "tweets"
	ChannelFollowing Channel = "following"
	ChannelProfile   Channel = "profile"
)

func validChannel(c Channel) bool {
	switch c {
	case ChannelAll, ChannelTweets, ChannelFollowing, ChannelProfile:
		return true
	default:
		return false
	}
}

// Source records whether a State originated from initial configuration
// or a later runtime update.
type Source string

const (
	SourceConfig  Source = "config"
	SourceRuntime Source = "runtime"
)

// Mode reflects whether a State currently has any channels to deliver.
type Mode string

const (
	ModeActive Mode = "active"
	ModeIdle   Mode = "idle"
)

// State is the Subscription State data model.
type State struct {
	Channels  []Channel
	Users     []string
	Mode      Mode
	Source    Source
	UpdatedAt time.Time
}

// NormalizeChannels validates channels against the closed set and
// collapses to [all] if "all" is present, otherwise dedupes and
// sorts. An invalid channel name is a protocol-level rejection.
func NormalizeChannels(raw []Channel) ([]Channel, error) {
	seen := make(map[Channel]struct{}, len(raw))
	hasAll := false
	for _, c := range raw {
		if !validChannel(c) {
			return nil, fmt.Errorf("%w: invalid channel %q", errs.ErrProtocol, c)
		}
		if c == ChannelAll {
			hasAll = true
		}
		seen[c] = struct{}{}
	}
	if hasAll {
		return []Channel{ChannelAll}, nil
	}
	out := make([]Channel, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// NormalizeUsers trims, lowercases, dedupes, sorts, and drops empty
// handles.
func NormalizeUsers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	for _, u := range raw {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			seen[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func modeFor(channels []Channel) Mode {
	if len(channels) == 0 {
		return ModeIdle
	}
	return ModeActive
}

// ChannelStrings returns the wire representation of the state's
// channels, in their already-normalized order.
func (s State) ChannelStrings() []string {
	out := make([]string, len(s.Channels))
	for i, c := range s.Channels {
		out[i] = string(c)
	}
	return out
}

// Transport is the narrow capability the Manager needs from the
// Stream Transport: send a correlated subscribe request and wait for
// its resolution. *stream.Transport satisfies this structurally; the
// subscription package never imports stream, which would otherwise
// create an import cycle (stream needs Manager's current state on
// reconnect via the SubscriptionSource interface it defines itself).
type Transport interface {
	RequestSubscribe(ctx context.Context, channels []string, users []string, timeout time.Duration) error
	Connected() bool
}

// Manager owns the committed Subscription State and serializes
// updates to it. At most one update is ever in flight: a concurrent
// call while one is outstanding is rejected immediately.
type Manager struct {
	mu        sync.Mutex
	committed State
	updating  bool
	transport Transport

	clock func() time.Time
}

// New creates a Manager seeded with the initial configuration state.
// Call AttachTransport once the Transport exists, before the first
// connect.
func New(initial State) *Manager {
	if initial.Source == "" {
		initial.Source = SourceConfig
	}
	initial.Mode = modeFor(initial.Channels)
	return &Manager{committed: initial, clock: time.Now}
}

// AttachTransport wires the Transport the Manager will send update
// requests through. Must be called before Update.
func (m *Manager) AttachTransport(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = t
}

// Current returns a copy of the committed Subscription State.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// CurrentSubscribe returns the wire-level channels/users to send on
// (re)connect. It satisfies stream.SubscriptionSource structurally.
func (m *Manager) CurrentSubscribe() (channels []string, users []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed.ChannelStrings(), append([]string(nil), m.committed.Users...)
}

// Update normalizes channels/users, sends a correlated subscribe
// request through the attached Transport, and — only on confirmed
// success — commits the new state. Any non-success path (rejection,
// timeout, or the connection closing mid-flight) leaves the committed
// state unchanged.
func (m *Manager) Update(ctx context.Context, channels []Channel, users []string, timeout time.Duration) error {
	normChannels, err := NormalizeChannels(channels)
	if err != nil {
		return err
	}
	normUsers := NormalizeUsers(users)

	m.mu.Lock()
	if m.transport == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no transport attached", errs.ErrSubscription)
	}
	if !m.transport.Connected() {
		m.mu.Unlock()
		return fmt.Errorf("%w: transport is not connected", errs.ErrSubscription)
	}
	if m.updating {
		m.mu.Unlock()
		return fmt.Errorf("%w: an update is already in progress", errs.ErrSubscription)
	}
	m.updating = true
	transport := m.transport
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.updating = false
		m.mu.Unlock()
	}()

	channelStrings := make([]string, len(normChannels))
	for i, c := range normChannels {
		channelStrings[i] = string(c)
	}

	if err := transport.RequestSubscribe(ctx, channelStrings, normUsers, timeout); err != nil {
		return err
	}

	m.mu.Lock()
	m.committed = State{
		Channels:  normChannels,
		Users:     normUsers,
		Mode:      modeFor(normChannels),
		Source:    SourceRuntime,
		UpdatedAt: m.clock(),
	}
	m.mu.Unlock()
	return nil
}
