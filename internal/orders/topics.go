package orders

const (
	TopicOrderPlaced        = "bookstore.order.placed"
	TopicOrderStatusChanged = "bookstore.order.status_changed"
)

// Partition key = order id so events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
