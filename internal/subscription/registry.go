// Package subscription tracks live observers per scope and pushes messages to
// them. Every subscription owns a bounded FIFO queue drained by its own
// goroutine, so one slow or broken observer never delays the others.
package subscription

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope groups subscribers that receive the same broadcasts.
type Scope string

const DashboardScope Scope = "dashboard"

const eventScopePrefix = "event:"

// EventScope returns the scope for observers of one event.
func EventScope(eventID string) Scope {
	return Scope(eventScopePrefix + eventID)
}

// EventID returns the event id of an event scope.
func (s Scope) EventID() (string, bool) {
	id, ok := strings.CutPrefix(string(s), eventScopePrefix)
	return id, ok && id != ""
}

// ID is an opaque subscription handle.
type ID string

type Message struct {
	Type    string `json:"type"`
	Scope   Scope  `json:"scope"`
	Payload any    `json:"payload"`
}

// Deliverer pushes one message to a connected observer. A returned error means
// the observer is gone and the subscription is dropped. If the deliverer also
// implements io.Closer it is closed whenever the registry drops it on its own
// (eviction, failed delivery, Close); Unsubscribe leaves it open.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

var ErrClosed = errors.New("subscription registry closed")

const (
	defaultBuffer         = 64
	defaultDeliverTimeout = 5 * time.Second
)

type Registry struct {
	mu     sync.RWMutex
	subs   map[ID]*subscriber
	scopes map[Scope]map[ID]*subscriber
	closed bool
	wg     sync.WaitGroup

	buffer         int
	deliverTimeout time.Duration
	logger         *zap.Logger
}

type Option func(*Registry)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithDeliverTimeout bounds a single Deliver call.
func WithDeliverTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.deliverTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:           make(map[ID]*subscriber),
		scopes:         make(map[Scope]map[ID]*subscriber),
		buffer:         defaultBuffer,
		deliverTimeout: defaultDeliverTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type subscriber struct {
	id     ID
	scope  Scope
	handle Deliverer
	queue  chan Message
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe registers handle under scope and starts its delivery loop.
func (r *Registry) Subscribe(scope Scope, handle Deliverer) (ID, error) {
	s := &subscriber{
		id:     ID(uuid.NewString()),
		scope:  scope,
		handle: handle,
		queue:  make(chan Message, r.buffer),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.subs[s.id] = s
	members, ok := r.scopes[scope]
	if !ok {
		members = make(map[ID]*subscriber)
		r.scopes[scope] = members
	}
	members[s.id] = s
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(s)
	return s.id, nil
}

// Unsubscribe removes id. Unknown or already removed ids are ignored.
func (r *Registry) Unsubscribe(id ID) {
	if s := r.remove(id); s != nil {
		s.stop()
	}
}

func (r *Registry) remove(id ID) *subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return nil
	}
	delete(r.subs, id)
	if members := r.scopes[s.scope]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.scopes, s.scope)
		}
	}
	return s
}

// Broadcast queues msg for every subscriber of scope. It never blocks;
// subscribers whose queue is full are evicted.
func (r *Registry) Broadcast(scope Scope, msg Message) {
	msg.Scope = scope

	var evict []*subscriber
	r.mu.RLock()
	for _, s := range r.scopes[scope] {
		if !enqueue(s, msg) {
			evict = append(evict, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range evict {
		r.evict(s, "queue full")
	}
}

// Send queues msg for a single subscription. It reports false when id is
// unknown or the subscriber was evicted.
func (r *Registry) Send(id ID, msg Message) bool {
	r.mu.RLock()
	s, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if msg.Scope == "" {
		msg.Scope = s.scope
	}
	if !enqueue(s, msg) {
		r.evict(s, "queue full")
		return false
	}
	return true
}

func enqueue(s *subscriber, msg Message) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

func (r *Registry) evict(s *subscriber, reason string) {
	if r.remove(s.id) == nil {
		return
	}
	s.stop()
	r.logger.Warn("subscriber evicted",
		zap.String("subscription_id", string(s.id)),
		zap.String("scope", string(s.scope)),
		zap.String("reason", reason),
	)
	closeHandle(s)
}

func closeHandle(s *subscriber) {
	if c, ok := s.handle.(io.Closer); ok {
		_ = c.Close()
	}
}

func (r *Registry) run(s *subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), r.deliverTimeout)
			err := s.handle.Deliver(ctx, msg)
			cancel()
			if err != nil {
				r.logger.Debug("delivery failed, dropping subscriber",
					zap.String("subscription_id", string(s.id)),
					zap.String("scope", string(s.scope)),
					zap.Error(err),
				)
				r.Unsubscribe(s.id)
				closeHandle(s)
				return
			}
		}
	}
}

// Count returns the number of live subscribers of scope.
func (r *Registry) Count(scope Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scope])
}

// Close drops every subscription, closes handles that implement io.Closer and
// waits for delivery loops to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[ID]*subscriber)
	r.scopes = make(map[Scope]map[ID]*subscriber)
	r.mu.Unlock()

	for _, s := range subs {
		s.stop()
		closeHandle(s)
	}
	r.wg.Wait()
}
