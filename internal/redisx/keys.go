package redisx

import "time"

const (
	// Session cart: hash cart:{session_id} -> {book_id: quantity}
	KeyCart = "cart:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "total": ..., "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Checkout idempotency: idem:checkout:{u<user_id>|s<session_id>}:{Idempotency-Key} -> "pending" | order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemPending = time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
