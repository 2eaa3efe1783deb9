package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"assetgate/internal/claims"
	"assetgate/internal/identity"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/store"
	"assetgate/internal/tokens"
)

// ReceiptClaims is the signed credential attesting a verified payment.
type ReceiptClaims struct {
	PaymentRequestToken string `json:"paymentRequestToken"`
	PaymentOptionID     string `json:"paymentOptionId"`
	PayerDID            string `json:"payerDid"`
	JobID               string `json:"jobId"`
	jwt.RegisteredClaims
}

// ReceiptIssuer turns a verified payment into a signed receipt credential
// plus a short-lived access token. The receipt identity is distinct from
// the request issuer.
type ReceiptIssuer struct {
	Verifier  *Verifier
	Identity  *identity.Identity
	Codec     *tokens.Codec
	Claims    claims.Ledger
	Store     *store.Store
	AccessTTL time.Duration
	ClaimTTL  time.Duration
	Log       logging.Logger
	Metrics   metrics.Recorder
}

// Issue verifies the payment and, exactly once per transaction signature,
// mints a receipt and access token. Replays fail with ErrAlreadyClaimed.
func (ri *ReceiptIssuer) Issue(ctx context.Context, signature, paymentRequestToken, jobID, optionID string) (*models.Receipt, string, error) {
	if ri.Identity == nil {
		return nil, "", identity.ErrIdentityUnavailable
	}

	verified, err := ri.Verifier.Verify(ctx, signature, paymentRequestToken, optionID)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	receiptJWT, err := ri.Identity.SignClaims(ReceiptClaims{
		PaymentRequestToken: paymentRequestToken,
		PaymentOptionID:     verified.Option.ID,
		PayerDID:            verified.PayerDID,
		JobID:               jobID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   ri.Identity.DID,
			Subject:  verified.PayerDID,
			ID:       verified.Request.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("sign receipt: %w", err)
	}

	accessToken, err := ri.Codec.Issue(jobID, "job", ri.AccessTTL)
	if err != nil {
		return nil, "", fmt.Errorf("mint access token: %w", err)
	}

	// The signature is claimed only once both artifacts exist. A signing
	// failure above must leave the payment redeemable on retry.
	ok, err := ri.Claims.Claim(ctx, signature, ri.ClaimTTL)
	if err != nil {
		return nil, "", fmt.Errorf("claims ledger: %w", err)
	}
	if !ok {
		return nil, "", ErrAlreadyClaimed
	}

	receipt := &models.Receipt{
		IssuerDID:       ri.Identity.DID,
		PayerDID:        verified.PayerDID,
		PaymentOptionID: verified.Option.ID,
		Signature:       signature,
		JobID:           jobID,
		IssuedAt:        now,
		JWT:             receiptJWT,
	}

	// The audit row never blocks issuance; the claims ledger is the
	// anti-replay anchor.
	if err := ri.Store.InsertReceipt(ctx, receipt); err != nil {
		ri.Log.Warn("receipt audit insert failed", map[string]any{
			"signature": signature,
			"error":     err.Error(),
		})
	}

	ri.Metrics.IncCounter("receipt_issued", nil)
	ri.Log.Info("receipt issued", map[string]any{
		"signature": signature,
		"job_id":    jobID,
		"payer":     verified.PayerDID,
	})

	return receipt, accessToken, nil
}
