// Package dispatch forwards audit events to outside subscribers: signed
// HTTP webhooks and a Kafka topic.
package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"inspectline/internal/domain"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Source is the audit log the dispatcher follows.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Sink receives events in id order. A failed delivery is retried on the
// next tick starting from the same event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

// Event is the wire shape shared by all sinks.
type Event struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	LocationID string          `json:"location_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func toWire(evt domain.Event) Event {
	out := Event{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		LocationID: evt.LocationID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			out.Payload = json.RawMessage(evt.Payload)
		} else {
			out.PayloadRaw = evt.Payload
		}
	}
	return out
}

type route struct {
	sink   Sink
	filter eventFilter
}

// Dispatcher polls the audit log and fans new events out to its sinks,
// each with its own cursor. Cursors start at the newest event, so history
// is not replayed on startup.
type Dispatcher struct {
	source   Source
	routes   []route
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

func New(source Source, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{source: source, logger: logger, interval: defaultInterval, cursors: map[int]int64{}}
}

// Add registers a sink for the given event types; none means all.
func (d *Dispatcher) Add(sink Sink, eventTypes []string) {
	d.routes = append(d.routes, route{sink: sink, filter: newEventFilter(eventTypes)})
}

func (d *Dispatcher) Len() int { return len(d.routes) }

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.routes) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch to every sink.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, r := range d.routes {
		d.dispatch(ctx, i, r)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, r route) {
	cursor := d.cursorFor(ctx, idx)
	batch, err := d.source.EventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		d.logger.Warn("dispatch: fetch events failed", "sink", r.sink.Name(), "err", err)
		return
	}
	for _, evt := range batch {
		if r.filter.match(evt.Type) {
			if err := r.sink.Deliver(ctx, toWire(evt)); err != nil {
				d.logger.Warn("dispatch: delivery failed", "sink", r.sink.Name(), "event", evt.ID, "err", err)
				return
			}
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		d.logger.Warn("dispatch: init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
