// Package orchestrator wires the Stream Transport, Event Normalizer,
// Filter+Dedup Pipeline, Fan-out Event Bus, and Runtime Subscription
// Manager into a single pipeline, exposes its start/stop lifecycle,
// and maintains the aggregate counters a deployment needs for
// observability.
//
// Its wiring style (component construction, signal-driven Stop, a
// small Stats-style status struct) generalizes a one-process-wiring
// pattern from a single large agent process into a five-stage
// pipeline pump.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alphastream/streamclient/internal/bus"
	"github.com/alphastream/streamclient/internal/dedup"
	"github.com/alphastream/streamclient/internal/filter"
	"github.com/alphastream/streamclient/internal/normalize"
	"github.com/alphastream/streamclient/internal/stream"
	"github.com/alphastream/streamclient/internal/subscription"
)

// topics are published in this fixed order for every surviving event.
var topics = []string{"cli", "dashboard", "alerts"}

// defaultDedupTTL is how long a fingerprint is remembered by the dedup
// cache when Config.DedupTTL is zero.
const defaultDedupTTL = 60 * time.Second

// Config configures an Orchestrator.
type Config struct {
	Stream       stream.Config
	Subscription subscription.State
	DedupTTL     time.Duration
	Filters      *filter.Pipeline
	Logger       *slog.Logger
}

// Stats is a snapshot of the orchestrator's aggregate counters.
type Stats struct {
	TotalReceived     uint64
	Delivered         uint64
	Deduped           uint64
	Rejected          uint64
	ConnectionState   stream.ConnectionState
	ReconnectAttempts int
	StreamErrors      uint64
}

// Orchestrator owns the wired pipeline and its lifecycle.
type Orchestrator struct {
	logger *slog.Logger

	normalizer *normalize.Normalizer
	filters    *filter.Pipeline
	dedup      *dedup.Cache
	bus        *bus.Bus
	manager    *subscription.Manager
	transport  *stream.Transport

	dedupTTL time.Duration

	totalReceived atomic.Uint64
	delivered     atomic.Uint64
	deduped       atomic.Uint64
	rejected      atomic.Uint64
	streamErrors  atomic.Uint64

	sweepCancel context.CancelFunc
}

// New constructs an Orchestrator. Call Start to connect and begin
// pumping events.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.Filters == nil {
		cfg.Filters = filter.New()
	}

	o := &Orchestrator{
		logger:     cfg.Logger,
		normalizer: normalize.New(cfg.Logger),
		filters:    cfg.Filters,
		dedup:      dedup.New(nil),
		bus:        bus.New(cfg.Logger),
		manager:    subscription.New(cfg.Subscription),
		dedupTTL:   cfg.DedupTTL,
	}

	o.transport = stream.New(cfg.Stream, o.manager, o.onFrame)
	o.manager.AttachTransport(o.transport)
	o.transport.OnError(o.onStreamError)
	return o
}

// onStreamError is the Transport's error-observer callback: it
// surfaces transport/protocol failures the pipeline itself never sees
// (they don't flow through onFrame) into the logger and the Stats
// counters a caller polls.
func (o *Orchestrator) onStreamError(err error) {
	o.streamErrors.Add(1)
	o.logger.Warn("orchestrator: stream error", "error", err)
}

// Subscribe registers sink under topic, returning a Handle for later
// Unsubscribe. A thin pass-through so callers need only depend on the
// Orchestrator, not also on internal/bus.
func (o *Orchestrator) Subscribe(topic string, sink bus.Sink) bus.Handle {
	return o.bus.Subscribe(topic, sink)
}

// Unsubscribe removes a previously registered sink.
func (o *Orchestrator) Unsubscribe(h bus.Handle) {
	o.bus.Unsubscribe(h)
}

// UpdateSubscription delegates to the Runtime Subscription Manager,
// changing the live subscription without dropping the transport.
func (o *Orchestrator) UpdateSubscription(ctx context.Context, channels []subscription.Channel, users []string, timeout time.Duration) error {
	return o.manager.Update(ctx, channels, users, timeout)
}

// Start connects the transport and begins the dedup sweeper. It
// returns once the initial connect attempt settles (success or
// failure), matching stream.Transport.Connect's error semantics.
func (o *Orchestrator) Start(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	o.sweepCancel = cancel
	go o.dedup.RunSweeper(sweepCtx, o.dedupTTL)

	return o.transport.Connect(ctx)
}

// Stop cascades shutdown: Transport, then the dedup sweeper, then the
// Bus.
func (o *Orchestrator) Stop() error {
	err := o.transport.Close()
	if o.sweepCancel != nil {
		o.sweepCancel()
	}
	o.bus.Clear()
	return err
}

// Stats returns a snapshot of the aggregate counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		TotalReceived:     o.totalReceived.Load(),
		Delivered:         o.delivered.Load(),
		Deduped:           o.deduped.Load(),
		Rejected:          o.rejected.Load(),
		ConnectionState:   o.transport.State(),
		ReconnectAttempts: o.transport.Attempts(),
		StreamErrors:      o.streamErrors.Load(),
	}
}

// onFrame is the Transport's EventHandler: it runs the full
// normalize → filter → dedup → validate → publish pipeline for one
// inbound frame.
func (o *Orchestrator) onFrame(eventType string, data json.RawMessage) {
	o.totalReceived.Add(1)

	var decoded map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			o.rejected.Add(1)
			o.logger.Debug("orchestrator: could not decode frame data", "event_type", eventType, "error", err)
			return
		}
	}

	ev, ok := o.normalizer.Normalize(normalize.Frame{EventType: eventType, Data: decoded})
	if !ok {
		o.rejected.Add(1)
		return
	}

	if !o.filters.Accepts(ev) {
		return
	}

	fingerprint := ev.Fingerprint()
	if o.dedup.Has(fingerprint) {
		o.deduped.Add(1)
		return
	}
	o.dedup.Add(fingerprint, o.dedupTTL)

	if !ev.Valid() {
		o.rejected.Add(1)
		o.logger.Debug("orchestrator: rejected at publish-time defense-in-depth check", "fingerprint", fingerprint)
		return
	}

	o.delivered.Add(1)
	for _, topic := range topics {
		o.bus.Publish(topic, ev)
	}
}
