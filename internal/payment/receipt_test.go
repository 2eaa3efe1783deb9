package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"assetgate/internal/claims"
	"assetgate/internal/identity"
	"assetgate/internal/ledger"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/tokens"
)

const receiptSeedHex = "4ccd089b28ff96da9db6c346ec114e0f5b8a319f35aba624da8cf6ed4fb8a6fb"

func newIssuer(t *testing.T, inspector Inspector) (*ReceiptIssuer, *identity.Identity) {
	t.Helper()
	requestID := testIdentity(t)
	receiptID, err := identity.FromHexSeed(receiptSeedHex, testChainRef)
	if err != nil {
		t.Fatalf("receipt identity: %v", err)
	}

	return &ReceiptIssuer{
		Verifier:  newVerifier(requestID, inspector),
		Identity:  receiptID,
		Codec:     tokens.NewCodec("access-secret"),
		Claims:    claims.NewMemoryLedger(),
		AccessTTL: 5 * time.Minute,
		ClaimTTL:  10 * time.Minute,
		Log:       logging.Noop{},
		Metrics:   metrics.Noop{},
	}, requestID
}

func TestIssueReceiptAndAccessToken(t *testing.T) {
	requestID := testIdentity(t)
	signed, _ := testSigner(requestID).Create(models.KindImage, 0)

	inspector := &fakeInspector{txs: map[string]*ledger.Transaction{
		"sig-1": paidTx(signed.Token, "50000"),
	}}
	issuer, _ := newIssuer(t, inspector)

	receipt, accessToken, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", "")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if receipt.JobID != "job-1" || receipt.Signature != "sig-1" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if receipt.IssuerDID == issuer.Verifier.Issuer.DID {
		t.Fatal("receipt must be signed by a distinct identity")
	}

	// The receipt credential verifies against the receipt identity.
	var rc ReceiptClaims
	if err := issuer.Identity.VerifyClaims(receipt.JWT, &rc); err != nil {
		t.Fatalf("receipt credential verify failed: %v", err)
	}
	if rc.PaymentOptionID != "usdc-solana-image" || rc.JobID != "job-1" {
		t.Fatalf("receipt claims = %+v", rc)
	}

	// The access token is a 5 minute HS256 capability for the job.
	claims, err := tokens.NewCodec("access-secret").Verify(accessToken)
	if err != nil {
		t.Fatalf("access token verify failed: %v", err)
	}
	if claims.JobID != "job-1" {
		t.Fatalf("access token jobId = %q", claims.JobID)
	}
	if exp := claims.ExpiresAt.Unix() - claims.IssuedAt.Unix(); exp != 300 {
		t.Fatalf("access token lifetime = %d, want 300", exp)
	}
}

func TestIssueRejectsSignatureReplay(t *testing.T) {
	requestID := testIdentity(t)
	signed, _ := testSigner(requestID).Create(models.KindImage, 0)

	inspector := &fakeInspector{txs: map[string]*ledger.Transaction{
		"sig-1": paidTx(signed.Token, "50000"),
	}}
	issuer, _ := newIssuer(t, inspector)

	if _, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", ""); err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	// Same signature, different job: one real payment must not mint two
	// receipts.
	if _, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-2", ""); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestIssueDoesNotClaimOnMintFailure(t *testing.T) {
	requestID := testIdentity(t)
	signed, _ := testSigner(requestID).Create(models.KindImage, 0)

	inspector := &fakeInspector{txs: map[string]*ledger.Transaction{
		"sig-1": paidTx(signed.Token, "50000"),
	}}
	issuer, _ := newIssuer(t, inspector)

	// An unset access secret makes minting fail after verification.
	issuer.Codec = tokens.NewCodec("")
	_, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", "")
	if err == nil {
		t.Fatal("expected mint failure with empty access secret")
	}
	if errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("mint failure must not report already_claimed, got %v", err)
	}

	// A server-side failure must not consume the payment: once the
	// secret is configured the same signature still redeems.
	issuer.Codec = tokens.NewCodec("access-secret")
	if _, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", ""); err != nil {
		t.Fatalf("retry after mint failure did not redeem: %v", err)
	}
}

func TestIssueDoesNotClaimOnVerificationFailure(t *testing.T) {
	requestID := testIdentity(t)
	signed, _ := testSigner(requestID).Create(models.KindImage, 0)

	tx := paidTx(signed.Token, "49999")
	inspector := &fakeInspector{txs: map[string]*ledger.Transaction{"sig-1": tx}}
	issuer, _ := newIssuer(t, inspector)

	if _, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", ""); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	// A later valid payment with the same signature can still be claimed.
	inspector.txs["sig-1"] = paidTx(signed.Token, "50000")
	if _, _, err := issuer.Issue(context.Background(), "sig-1", signed.Token, "job-1", ""); err != nil {
		t.Fatalf("issue after fixed payment failed: %v", err)
	}
}
