package services

// Ledger feed event names.
const (
	EventPaymentReceived  = "payment_received"
	EventPaymentClaimed   = "payment_claimed"
	EventPaymentDelivered = "payment_delivered"
)

// Publisher pushes ledger events to connected dashboard clients. The websocket
// hub implements it; services treat a nil Publisher as "feed disabled".
type Publisher interface {
	Publish(event string, payload interface{})
}
