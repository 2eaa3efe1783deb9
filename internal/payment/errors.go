package payment

import (
	"errors"

	"assetgate/internal/identity"
)

// Verification failures are terminal for the call; callers retry with a
// fresh signature or payment, never automatically.
var (
	ErrInvalidToken        = errors.New("invalid payment request token")
	ErrNoMatchingOption    = errors.New("no matching payment option")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionFailed   = errors.New("transaction failed on ledger")
	ErrBadMemo             = errors.New("transaction memo does not reference the payment request")
	ErrRequestExpired      = errors.New("payment request expired before the transaction")
	ErrMissingAssetID      = errors.New("no asset id resolvable for payment option")
	ErrAmountMismatch      = errors.New("transferred amount does not match payment option")
	ErrDecimalsMismatch    = errors.New("token decimals do not match payment option")
	ErrAlreadyClaimed      = errors.New("transaction signature already redeemed")
	ErrNoPrice             = errors.New("no price configured for resource")
)

// ErrorCode maps a verification or issuance failure to its stable wire
// code. Unknown errors map to server_error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrNoMatchingOption):
		return "no_matching_option"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrTransactionFailed):
		return "transaction_failed"
	case errors.Is(err, ErrBadMemo):
		return "bad_memo"
	case errors.Is(err, ErrRequestExpired):
		return "request_expired"
	case errors.Is(err, ErrMissingAssetID):
		return "missing_asset_id"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrDecimalsMismatch):
		return "decimals_mismatch"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNoPrice):
		return "bad_request"
	case errors.Is(err, identity.ErrIdentityUnavailable):
		return "server_misconfigured"
	default:
		return "server_error"
	}
}
