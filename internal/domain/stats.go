package domain

// Stats is the dashboard-wide view shown to dashboard observers on connect.
type Stats struct {
	TotalEvents      int
	ActiveEvents     int
	TotalTicketsSold int
	// TotalRevenue is in minor currency units.
	TotalRevenue int64
}
