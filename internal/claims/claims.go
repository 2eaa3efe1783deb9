// Package claims tracks consumed transaction signatures so one on-chain
// payment can mint at most one receipt. Entries expire with the payment
// request window; a finalized signature older than that can no longer
// satisfy any live request.
package claims

import (
	"context"
	"time"
)

// Ledger records signatures as consumed. Claim returns true the first
// time a signature is seen and false on any replay within ttl.
type Ledger interface {
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}
