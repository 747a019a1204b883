package entity

import "time"

// SentRecord marks that an item was delivered to the broadcast channel,
// guarding against re-sending the same item across runs.
type SentRecord struct {
	ItemID string
	SentAt time.Time
}
