package domain

import "time"

// IdempotencyRecord binds an idempotency key to the serialized response
// returned to the caller. It is written in the same commit as the COMPLETED
// Transaction it describes; a retry with the same key replays Response
// byte-for-byte.
type IdempotencyRecord struct {
	RecordID       string
	IdempotencyKey string
	TransactionID  string
	Response       []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the record's window has lapsed. Expired records
// are treated as absent but are not deleted synchronously; an external
// janitor prunes them.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Clone returns a copy of the record with its own response buffer.
func (r *IdempotencyRecord) Clone() *IdempotencyRecord {
	c := *r
	c.Response = append([]byte(nil), r.Response...)
	return &c
}
