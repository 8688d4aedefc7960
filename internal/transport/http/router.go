package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Services are the handlers' dependencies.
type Services struct {
	Reservations Reserver
	Inventory    InventoryReader
	Tickets      TicketManager
	Admin        AdminService
	Streams      *Streams
	Storage      Pinger
}

// NewRouter mounts every route behind request-id, logging, panic recovery and
// CORS.
func NewRouter(svc Services, corsOrigins []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(corsOrigins))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", HealthHandler(svc.Storage))

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/reservations", HandleReserve(svc.Reservations))
		r.Get("/inventory", HandleInventory(svc.Inventory))
	})

	r.Get("/tickets", HandleListTickets(svc.Tickets))
	r.Route("/tickets/{ticketID}", func(r chi.Router) {
		r.Get("/", HandleGetTicket(svc.Tickets))
		r.Post("/cancel", HandleCancelTicket(svc.Tickets))
		r.Post("/use", HandleUseTicket(svc.Tickets))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/events", HandleCreateEvent(svc.Admin))
		r.Get("/events", HandleListEvents(svc.Admin))
		r.Get("/events/{eventID}", HandleGetEvent(svc.Admin))
		r.Get("/stats", HandleStats(svc.Admin))
	})

	if svc.Streams != nil {
		r.Get("/ws/events/{eventID}", svc.Streams.HandleEvent)
		r.Get("/ws/dashboard", svc.Streams.HandleDashboard)
	}

	return r
}
