// Package notify turns committed inventory changes into broadcasts. It only
// translates what it is given; it never reads inventory on its own.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/subscription"
)

// Message types pushed to observers.
const (
	TypeInventoryChanged  = "inventory_changed"
	TypeDashboardSummary  = "dashboard_summary"
	TypeInventorySnapshot = "ticket_count"
	TypeDashboardStats    = "dashboard_stats"
	TypeEventInfo         = "event_info"
)

type Reason string

const (
	ReasonReserved  Reason = "reserved"
	ReasonCancelled Reason = "cancelled"
)

// InventoryChanged is the outcome of one committed reservation or
// cancellation, captured while the event lock was held.
type InventoryChanged struct {
	EventID     string
	Remaining   int
	SoldCount   int
	ActorHandle string
	Reason      Reason
	// QuantityDelta is positive for reservations and negative for cancellations.
	QuantityDelta int
	RevenueDelta  int64
	TotalActive   int
	At            time.Time
}

// EventUpdate is broadcast to "event:{id}" observers.
type EventUpdate struct {
	EventID     string    `json:"eventId"`
	Remaining   int       `json:"remaining"`
	SoldCount   int       `json:"soldCount"`
	ActorHandle string    `json:"actorHandle"`
	Timestamp   time.Time `json:"timestamp"`
}

// DashboardSummary is broadcast to dashboard observers.
type DashboardSummary struct {
	TotalActive       int       `json:"totalActive"`
	TotalRevenueDelta int64     `json:"totalRevenueDelta"`
	EventID           string    `json:"eventId"`
	Timestamp         time.Time `json:"timestamp"`
}

// DashboardStats is sent to a dashboard observer on connect and on request.
type DashboardStats struct {
	TotalEvents      int       `json:"total_events"`
	ActiveEvents     int       `json:"active_events"`
	TotalTicketsSold int       `json:"total_tickets_sold"`
	TotalRevenue     int64     `json:"total_revenue"`
	Timestamp        time.Time `json:"timestamp"`
}

// EventInfo answers an event observer's join_event request.
type EventInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"starts_at"`
	Price     int64     `json:"price"`
	Active    bool      `json:"active"`
	Capacity  int       `json:"capacity"`
	Remaining int       `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink delivers a translated message for one scope.
type Sink interface {
	Deliver(ctx context.Context, scope subscription.Scope, msg subscription.Message) error
}

// RegistrySink delivers into the local subscription registry.
type RegistrySink struct {
	Registry *subscription.Registry
}

func (s RegistrySink) Deliver(_ context.Context, scope subscription.Scope, msg subscription.Message) error {
	s.Registry.Broadcast(scope, msg)
	return nil
}

const (
	defaultQueueSize   = 1024
	defaultSinkTimeout = 5 * time.Second
)

// Publisher decouples inventory commits from delivery. Every sink has its own
// bounded queue and worker, so a stalled sink delays only itself and keeps
// per-scope order for the others.
type Publisher struct {
	logger      *zap.Logger
	clock       clock.Clock
	queueSize   int
	sinkTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	workers []*sinkWorker
	wg      sync.WaitGroup
}

type delivery struct {
	scope subscription.Scope
	msg   subscription.Message
}

type sinkWorker struct {
	sink  Sink
	queue chan delivery
}

type Option func(*Publisher)

// WithQueueSize sets how many changes each sink may have pending.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithSinkTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.sinkTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Publisher) {
		if c != nil {
			p.clock = c
		}
	}
}

// NewPublisher starts one delivery worker per sink. Call Close to drain and
// stop them.
func NewPublisher(sinks []Sink, opts ...Option) *Publisher {
	p := &Publisher{
		logger:      zap.NewNop(),
		clock:       clock.NewSystem(),
		queueSize:   defaultQueueSize,
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, sink := range sinks {
		// Each change becomes an event message and a dashboard message.
		w := &sinkWorker{sink: sink, queue: make(chan delivery, 2*p.queueSize)}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go p.run(w)
	}
	return p
}

// Publish queues ev for fan-out and never blocks. It is called after the
// inventory lock is released. When a sink has fallen a full queue behind, its
// oldest pending message is dropped; every message carries absolute counts,
// so the next one delivered corrects the observer.
func (p *Publisher) Publish(ev InventoryChanged) {
	if ev.At.IsZero() {
		ev.At = p.clock.Now()
	}
	eventScope, eventMsg, dashMsg := Translate(ev)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("publisher closed, dropping inventory change", zap.String("event_id", ev.EventID))
		return
	}
	for _, w := range p.workers {
		p.enqueue(w, delivery{scope: eventScope, msg: eventMsg})
		p.enqueue(w, delivery{scope: subscription.DashboardScope, msg: dashMsg})
	}
}

func (p *Publisher) enqueue(w *sinkWorker, d delivery) {
	for {
		select {
		case w.queue <- d:
			return
		default:
		}
		select {
		case old := <-w.queue:
			p.logger.Warn("sink lagging, dropping oldest message",
				zap.String("scope", string(old.scope)),
				zap.String("type", old.msg.Type),
			)
		default:
		}
	}
}

// Close stops accepting changes and waits until queued ones are delivered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) run(w *sinkWorker) {
	defer p.wg.Done()
	for d := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.sinkTimeout)
		err := w.sink.Deliver(ctx, d.scope, d.msg)
		cancel()
		if err != nil {
			p.logger.Error("sink delivery failed",
				zap.String("scope", string(d.scope)),
				zap.String("type", d.msg.Type),
				zap.Error(err),
			)
		}
	}
}

// Translate maps an inventory change to the event-scope update and the
// dashboard summary.
func Translate(ev InventoryChanged) (subscription.Scope, subscription.Message, subscription.Message) {
	scope := subscription.EventScope(ev.EventID)
	eventMsg := subscription.Message{
		Type:  TypeInventoryChanged,
		Scope: scope,
		Payload: EventUpdate{
			EventID:     ev.EventID,
			Remaining:   ev.Remaining,
			SoldCount:   ev.SoldCount,
			ActorHandle: ev.ActorHandle,
			Timestamp:   ev.At,
		},
	}
	dashMsg := subscription.Message{
		Type:  TypeDashboardSummary,
		Scope: subscription.DashboardScope,
		Payload: DashboardSummary{
			TotalActive:       ev.TotalActive,
			TotalRevenueDelta: ev.RevenueDelta,
			EventID:           ev.EventID,
			Timestamp:         ev.At,
		},
	}
	return scope, eventMsg, dashMsg
}
