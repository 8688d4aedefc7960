package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cimillas/ticket-inventory/internal/app"
	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/ledger"
	"github.com/cimillas/ticket-inventory/internal/notify"
	"github.com/cimillas/ticket-inventory/internal/payment"
	"github.com/cimillas/ticket-inventory/internal/storage/memory"
	"github.com/cimillas/ticket-inventory/internal/subscription"
)

// commitOnRead runs commit right after the n-th Snapshot read, so a
// reservation lands between that read and whatever the handler does next.
type commitOnRead struct {
	InventoryReader
	n      int
	commit func()

	mu    sync.Mutex
	calls int
}

func (c *commitOnRead) Snapshot(ctx context.Context, eventID string) (ledger.Snapshot, error) {
	snap, err := c.InventoryReader.Snapshot(ctx, eventID)
	c.mu.Lock()
	c.calls++
	fire := c.calls == c.n
	c.mu.Unlock()
	if fire {
		c.commit()
	}
	return snap, err
}

// lastRemaining reads event messages until the stream has been quiet for a
// while and returns the last remaining count seen.
func lastRemaining(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	last := -1
	for {
		_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if last < 0 {
				t.Fatalf("no message received: %v", err)
			}
			return last
		}
		var msg wireMessage
		decode(t, data, &msg)
		if msg.Type != notify.TypeInventorySnapshot && msg.Type != notify.TypeInventoryChanged {
			t.Fatalf("unexpected message type %s", msg.Type)
		}
		var update notify.EventUpdate
		decode(t, msg.Payload, &update)
		last = update.Remaining
	}
}

func TestStreams_CommitDuringConnectIsNotMissed(t *testing.T) {
	tests := []struct {
		name string
		// 1 is the existence check before the upgrade; 2 is the snapshot
		// read after the subscription exists.
		commitAfterRead int
	}{
		{name: "between check and subscribe", commitAfterRead: 1},
		{name: "during initial snapshot", commitAfterRead: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewSystem()
			store := memory.New()
			registry := subscription.NewRegistry()
			publisher := notify.NewPublisher([]notify.Sink{notify.RegistrySink{Registry: registry}})
			inventory := app.NewInventoryService(store)
			admin := app.NewAdminService(store, clk)
			reservations := app.NewReservationService(store, payment.StaticAuthorizer{Approve: true}, publisher, clk)

			event, err := admin.CreateEvent(context.Background(), app.CreateEventInput{Name: "Gig", Capacity: 4, Price: 100})
			if err != nil {
				t.Fatalf("create event: %v", err)
			}

			reader := &commitOnRead{InventoryReader: inventory, n: tt.commitAfterRead, commit: func() {
				if _, err := reservations.Reserve(context.Background(), app.ReserveInput{EventID: event.ID, RequesterID: "racer", Quantity: 1}); err != nil {
					t.Errorf("reserve: %v", err)
				}
			}}
			srv := httptest.NewServer(NewRouter(Services{
				Streams: NewStreams(registry, reader, admin, []string{"*"}, clk, nil),
			}, nil, nil))
			t.Cleanup(func() {
				srv.Close()
				publisher.Close()
				registry.Close()
			})

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events/" + event.ID
			conn, res, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			_ = res.Body.Close()
			defer conn.Close()

			want, err := inventory.GetRemaining(context.Background(), event.ID)
			if err != nil {
				t.Fatalf("remaining: %v", err)
			}
			if want != 3 {
				t.Fatalf("expected the racing reservation to commit, remaining %d", want)
			}
			if got := lastRemaining(t, conn); got != want {
				t.Fatalf("observer settled on remaining=%d, ledger says %d", got, want)
			}
		})
	}
}

func TestStreams_JoinEventReturnsEventInfo(t *testing.T) {
	srv := newTestServer(t, payment.StaticAuthorizer{Approve: true})
	eventID := srv.createEvent(t, 6)

	status, body := srv.do(t, http.MethodPost, "/events/"+eventID+"/reservations", `{"requester_id":"alice","quantity":2}`)
	if status != http.StatusCreated {
		t.Fatalf("reserve: %d %s", status, body)
	}

	conn := dial(t, srv, "/ws/events/"+eventID)
	if first := readMessage(t, conn); first.Type != notify.TypeInventorySnapshot {
		t.Fatalf("expected snapshot first, got %s", first.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_event"}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reply := readMessage(t, conn)
	if reply.Type != notify.TypeEventInfo || reply.Scope != "event:"+eventID {
		t.Fatalf("unexpected reply %+v", reply)
	}
	var info notify.EventInfo
	decode(t, reply.Payload, &info)
	if info.ID != eventID || info.Name != "Concert" || info.Price != 1500 || info.Capacity != 6 || info.Remaining != 4 || !info.Active {
		t.Fatalf("unexpected event info %+v", info)
	}
}
