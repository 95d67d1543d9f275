package redisx

import "time"

const (
	// Idempotent order create: idem:order:create:{scope}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// In-flight marker for the same key while the first request runs.
	KeyIdemOrderLock = "idem:order:lock:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	// A lock outliving its request is released by expiry.
	TTLIdemLock = 30 * time.Second
)
