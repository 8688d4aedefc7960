package app

import "github.com/google/uuid"

func newTicketID() string {
	return uuid.NewString()
}

func newEventID() string {
	return uuid.NewString()
}

func newPaymentRef() string {
	return "pay_" + uuid.NewString()
}
