package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"assetgate/internal/identity"
	"assetgate/internal/ledger"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
)

// Inspector is the ledger read surface the verifier depends on.
type Inspector interface {
	TransactionByID(ctx context.Context, signature string) (*ledger.Transaction, error)
}

// VerifiedPayment is the outcome of a successful verification, the input
// to receipt issuance.
type VerifiedPayment struct {
	Request   *models.PaymentRequest
	Option    models.PaymentOption
	PayerDID  string
	Signature string
	BlockTime time.Time
}

// Verifier validates that an on-chain transfer satisfies a signed payment
// request. Pure function of ledger-observed state; safe to run
// concurrently for any signatures.
type Verifier struct {
	Issuer      *identity.Identity
	Inspector   Inspector
	DefaultMint string
	Log         logging.Logger
	Metrics     metrics.Recorder
}

// Verify runs the full validation chain. Any failure is terminal for
// this call; nothing is retried internally.
func (v *Verifier) Verify(ctx context.Context, signature, paymentRequestToken, optionID string) (*VerifiedPayment, error) {
	started := time.Now()
	result, err := v.verify(ctx, signature, paymentRequestToken, optionID)
	v.Metrics.ObserveLatency("verify", time.Since(started), nil)
	if err != nil {
		v.Metrics.IncCounter("verify_failed", map[string]string{"code": ErrorCode(err)})
		return nil, err
	}
	v.Metrics.IncCounter("verify_ok", nil)
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, signature, paymentRequestToken, optionID string) (*VerifiedPayment, error) {
	request, err := DecodeRequestToken(v.Issuer, paymentRequestToken)
	if err != nil {
		return nil, err
	}

	option, err := selectOption(request, optionID)
	if err != nil {
		return nil, err
	}

	tx, err := v.Inspector.TransactionByID(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionNotFound, err)
	}
	if !tx.Success {
		return nil, ErrTransactionFailed
	}

	if !request.ExpiresAt.IsZero() {
		observed := tx.BlockTime
		if observed.IsZero() {
			observed = time.Now().UTC()
		}
		if observed.After(request.ExpiresAt) {
			return nil, ErrRequestExpired
		}
	}

	if !tx.HasMemo(RequestTokenMemo(paymentRequestToken)) {
		return nil, ErrBadMemo
	}

	mint := option.Mint
	if mint == "" {
		mint = v.DefaultMint
	}
	if mint == "" {
		return nil, ErrMissingAssetID
	}

	decimals, ok := tx.DecimalsFor(mint, option.Recipient)
	if !ok {
		return nil, fmt.Errorf("%w: recipient received no tokens of the expected asset", ErrAmountMismatch)
	}
	if decimals != option.Decimals {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDecimalsMismatch, decimals, option.Decimals)
	}

	expected, ok := new(big.Int).SetString(option.Amount, 10)
	if !ok || expected.Sign() <= 0 {
		return nil, fmt.Errorf("%w: malformed option amount %q", ErrInvalidToken, option.Amount)
	}
	delta, ok := tx.Delta(mint, option.Recipient)
	if !ok {
		return nil, fmt.Errorf("%w: recipient received no tokens of the expected asset", ErrAmountMismatch)
	}
	if delta.Cmp(expected) != 0 {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrAmountMismatch, delta, expected)
	}

	chainRef, ok := ledger.ChainRefFromNetwork(option.Network)
	if !ok {
		return nil, fmt.Errorf("%w: option network %q", ErrNoMatchingOption, option.Network)
	}
	payerDID := identity.PayerDID(chainRef, tx.FeePayer)

	v.Log.Info("payment verified", map[string]any{
		"signature": signature,
		"request":   request.ID,
		"option":    option.ID,
		"payer":     payerDID,
	})

	return &VerifiedPayment{
		Request:   request,
		Option:    option,
		PayerDID:  payerDID,
		Signature: signature,
		BlockTime: tx.BlockTime,
	}, nil
}

func selectOption(request *models.PaymentRequest, optionID string) (models.PaymentOption, error) {
	if optionID != "" {
		for _, opt := range request.PaymentOptions {
			if opt.ID == optionID {
				return opt, nil
			}
		}
		return models.PaymentOption{}, fmt.Errorf("%w: option id %q", ErrNoMatchingOption, optionID)
	}
	for _, opt := range request.PaymentOptions {
		if strings.HasPrefix(opt.Network, "solana:") {
			return opt, nil
		}
	}
	return models.PaymentOption{}, ErrNoMatchingOption
}

// RequestTokenMemo is the memo value a payer must attach to the transfer:
// the lowercase hex sha256 of the payment request token.
func RequestTokenMemo(paymentRequestToken string) string {
	sum := sha256.Sum256([]byte(paymentRequestToken))
	return hex.EncodeToString(sum[:])
}
