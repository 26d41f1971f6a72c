package redisx

import "time"

const (
	// Snapshot lelang: hash auction:snapshot:{item_id} -> {price, data}
	KeySnapshot = "auction:snapshot:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSnapshot = 10 * time.Minute
	TTLDedup    = 48 * time.Hour
)
