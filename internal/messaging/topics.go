package messaging

// Checkout lifecycle topics. Events are keyed by order id so replays and
// retries for one order land on one partition, in order.
const (
	TopicOrderCreated   = "checkout.order.created"
	TopicOrderPaid      = "checkout.order.paid"
	TopicOrderCancelled = "checkout.order.cancelled"
)
