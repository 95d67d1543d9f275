package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderStatusChanged = "order.status.changed"
	TopicRestockRequested   = "inventory.restock"
	TopicOrderFulfilled     = "order.fulfilled"
)

// Partition key = order_id (or product_id for restocks), so events about one
// entity stay ordered.
func PartitionKey(id string) []byte { return []byte(id) }
