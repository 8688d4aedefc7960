package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ch chan Message
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Message, 128)}
}

func (r *recorder) Deliver(_ context.Context, msg Message) error {
	r.ch <- msg
	return nil
}

func (r *recorder) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return Message{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

type failing struct {
	mu    sync.Mutex
	calls int
}

func (f *failing) Deliver(context.Context, Message) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("connection reset")
}

type blocking struct {
	release chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (b *blocking) Deliver(ctx context.Context, _ Message) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blocking) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *blocking) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestRegistry_BroadcastReachesScopeOnly(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	e1, e2, dash := newRecorder(), newRecorder(), newRecorder()
	_, err := reg.Subscribe(EventScope("e1"), e1)
	require.NoError(t, err)
	_, err = reg.Subscribe(EventScope("e2"), e2)
	require.NoError(t, err)
	_, err = reg.Subscribe(DashboardScope, dash)
	require.NoError(t, err)

	reg.Broadcast(EventScope("e1"), Message{Type: "inventory_changed", Payload: 7})

	msg := e1.next(t)
	assert.Equal(t, EventScope("e1"), msg.Scope)
	assert.Equal(t, 7, msg.Payload)
	e2.none(t)
	dash.none(t)
}

func TestRegistry_FIFOPerSubscriber(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(WithBuffer(256))
	defer reg.Close()

	rec := newRecorder()
	_, err := reg.Subscribe(EventScope("e1"), rec)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		reg.Broadcast(EventScope("e1"), Message{Type: "n", Payload: i})
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, rec.next(t).Payload)
	}
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	rec := newRecorder()
	id, err := reg.Subscribe(DashboardScope, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count(DashboardScope))

	reg.Unsubscribe(id)
	reg.Unsubscribe(id)
	reg.Unsubscribe("never-existed")

	assert.Equal(t, 0, reg.Count(DashboardScope))
	reg.Broadcast(DashboardScope, Message{Type: "x"})
	rec.none(t)
}

func TestRegistry_BrokenSubscriberDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	healthy := newRecorder()
	broken := &failing{}
	_, err := reg.Subscribe(EventScope("e1"), healthy)
	require.NoError(t, err)
	_, err = reg.Subscribe(EventScope("e1"), broken)
	require.NoError(t, err)

	reg.Broadcast(EventScope("e1"), Message{Type: "a", Payload: 1})
	reg.Broadcast(EventScope("e1"), Message{Type: "b", Payload: 2})

	assert.Equal(t, 1, healthy.next(t).Payload)
	assert.Equal(t, 2, healthy.next(t).Payload)
	assert.Eventually(t, func() bool { return reg.Count(EventScope("e1")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_SlowSubscriberIsEvicted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(WithBuffer(2), WithDeliverTimeout(time.Minute))
	healthy := newRecorder()
	slow := &blocking{release: make(chan struct{})}
	defer func() {
		close(slow.release)
		reg.Close()
	}()

	_, err := reg.Subscribe(EventScope("e1"), healthy)
	require.NoError(t, err)
	_, err = reg.Subscribe(EventScope("e1"), slow)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		reg.Broadcast(EventScope("e1"), Message{Type: "n", Payload: i})
		// Let the healthy subscriber keep up with its small queue.
		assert.Equal(t, i, healthy.next(t).Payload)
	}

	assert.Equal(t, 1, reg.Count(EventScope("e1")))
	assert.True(t, slow.isClosed())
}

func TestRegistry_SendTargetsOneSubscriber(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	a, b := newRecorder(), newRecorder()
	idA, err := reg.Subscribe(EventScope("e1"), a)
	require.NoError(t, err)
	_, err = reg.Subscribe(EventScope("e1"), b)
	require.NoError(t, err)

	assert.True(t, reg.Send(idA, Message{Type: "snapshot"}))
	msg := a.next(t)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, EventScope("e1"), msg.Scope)
	b.none(t)

	assert.False(t, reg.Send("missing", Message{Type: "snapshot"}))
}

func TestRegistry_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Close()
	_, err := reg.Subscribe(DashboardScope, newRecorder())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScope_EventID(t *testing.T) {
	t.Parallel()

	id, ok := EventScope("abc").EventID()
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = DashboardScope.EventID()
	assert.False(t, ok)
}

type closableFailing struct {
	failing
	closed chan struct{}
}

func (c *closableFailing) Close() error {
	close(c.closed)
	return nil
}

func TestRegistry_FailedDeliveryClosesHandle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	broken := &closableFailing{closed: make(chan struct{})}
	_, err := reg.Subscribe(DashboardScope, broken)
	require.NoError(t, err)

	reg.Broadcast(DashboardScope, Message{Type: "x"})

	select {
	case <-broken.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("handle was not closed after a failed delivery")
	}
	assert.Equal(t, 0, reg.Count(DashboardScope))
}
