package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/ledger"
	"github.com/cimillas/ticket-inventory/internal/notify"
	"github.com/cimillas/ticket-inventory/internal/subscription"
)

// Client request types.
const (
	requestTicketCount = "get_ticket_count"
	requestEventInfo   = "join_event"
	requestStats       = "get_stats"

	typeError = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// CatalogReader provides event details and the dashboard snapshot.
type CatalogReader interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

// Streams serves the websocket observer endpoints. Every write to a
// connection goes through its subscription queue, so each connection has a
// single writer.
type Streams struct {
	registry  *subscription.Registry
	inventory InventoryReader
	catalog   CatalogReader
	clock     clock.Clock
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewStreams(registry *subscription.Registry, inventory InventoryReader, catalog CatalogReader, allowedOrigins []string, clk clock.Clock, logger *zap.Logger) *Streams {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streams{
		registry:  registry,
		inventory: inventory,
		catalog:   catalog,
		clock:     clk,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginPolicy(allowedOrigins).checkOrigin,
		},
	}
}

// HandleEvent serves GET /ws/events/{eventID}. The observer receives the
// current count first, then every change for the event.
func (s *Streams) HandleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if _, err := s.inventory.Snapshot(r.Context(), eventID); err != nil {
		writeServiceError(w, err)
		return
	}

	count := func(ctx context.Context) subscription.Message {
		snap, err := s.inventory.Snapshot(ctx, eventID)
		if err != nil {
			return errorMessage(err)
		}
		return s.eventSnapshot(snap)
	}
	info := func(ctx context.Context) subscription.Message {
		event, err := s.catalog.GetEvent(ctx, eventID)
		if err != nil {
			return errorMessage(err)
		}
		snap, err := s.inventory.Snapshot(ctx, eventID)
		if err != nil {
			return errorMessage(err)
		}
		return s.eventInfo(event, snap)
	}

	s.serve(w, r, subscription.EventScope(eventID), count, func(kind string) (deferredReply, bool) {
		switch kind {
		case requestTicketCount:
			return count, true
		case requestEventInfo:
			return info, true
		}
		return nil, false
	})
}

// HandleDashboard serves GET /ws/dashboard.
func (s *Streams) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if _, err := s.catalog.Stats(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}

	current := func(ctx context.Context) subscription.Message {
		stats, err := s.catalog.Stats(ctx)
		if err != nil {
			return errorMessage(err)
		}
		return s.dashboardStats(stats)
	}

	s.serve(w, r, subscription.DashboardScope, current, func(kind string) (deferredReply, bool) {
		if kind != requestStats {
			return nil, false
		}
		return current, true
	})
}

// deferredReply is resolved by the connection writer when it reaches the
// message in the subscription queue. The read therefore sees at least every
// change queued ahead of it, and any change committed after the read is
// queued behind it.
type deferredReply func(ctx context.Context) subscription.Message

type requestHandler func(kind string) (deferredReply, bool)

type clientMessage struct {
	Type string `json:"type"`
}

func (s *Streams) serve(w http.ResponseWriter, r *http.Request, scope subscription.Scope, current deferredReply, onRequest requestHandler) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newStreamConn(ws)
	defer conn.Close()

	id, err := s.registry.Subscribe(scope, conn)
	if err != nil {
		return
	}
	defer s.registry.Unsubscribe(id)
	s.registry.Send(id, subscription.Message{Payload: current})

	s.logger.Debug("observer connected",
		zap.String("scope", string(scope)),
		zap.String("subscription_id", string(id)),
	)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go conn.pingLoop(stopPing)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("observer read failed", zap.String("scope", string(scope)), zap.Error(err))
			}
			return
		}
		var req clientMessage
		if err := json.Unmarshal(data, &req); err != nil {
			s.registry.Send(id, subscription.Message{Type: typeError, Payload: map[string]string{"error": "invalid message"}})
			continue
		}
		reply, ok := onRequest(req.Type)
		if !ok {
			s.registry.Send(id, subscription.Message{Type: typeError, Payload: map[string]string{"error": "unknown message type"}})
			continue
		}
		if !s.registry.Send(id, subscription.Message{Payload: reply}) {
			return
		}
	}
}

func (s *Streams) eventSnapshot(snap ledger.Snapshot) subscription.Message {
	return subscription.Message{
		Type: notify.TypeInventorySnapshot,
		Payload: notify.EventUpdate{
			EventID:   snap.EventID,
			Remaining: snap.Remaining,
			SoldCount: snap.Sold,
			Timestamp: s.clock.Now(),
		},
	}
}

func (s *Streams) eventInfo(event domain.Event, snap ledger.Snapshot) subscription.Message {
	return subscription.Message{
		Type: notify.TypeEventInfo,
		Payload: notify.EventInfo{
			ID:        event.ID,
			Name:      event.Name,
			StartsAt:  event.StartsAt,
			Price:     event.Price,
			Active:    event.Active,
			Capacity:  snap.Capacity,
			Remaining: snap.Remaining,
			Timestamp: s.clock.Now(),
		},
	}
}

func (s *Streams) dashboardStats(stats domain.Stats) subscription.Message {
	return subscription.Message{
		Type: notify.TypeDashboardStats,
		Payload: notify.DashboardStats{
			TotalEvents:      stats.TotalEvents,
			ActiveEvents:     stats.ActiveEvents,
			TotalTicketsSold: stats.TotalTicketsSold,
			TotalRevenue:     stats.TotalRevenue,
			Timestamp:        s.clock.Now(),
		},
	}
}

func errorMessage(err error) subscription.Message {
	msg := "internal error"
	if domain.IsNotFound(err) {
		msg = err.Error()
	}
	return subscription.Message{Type: typeError, Payload: map[string]string{"error": msg}}
}

// streamConn adapts a websocket connection to subscription.Deliverer.
type streamConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
}

func newStreamConn(ws *websocket.Conn) *streamConn {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &streamConn{ws: ws}
}

func (c *streamConn) Deliver(ctx context.Context, msg subscription.Message) error {
	if resolve, ok := msg.Payload.(deferredReply); ok {
		scope := msg.Scope
		msg = resolve(ctx)
		if msg.Scope == "" {
			msg.Scope = scope
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close may be called from the registry and the read loop; only the first
// call has an effect.
func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *streamConn) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
