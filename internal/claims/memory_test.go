package claims

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLedgerClaimOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	first, err := ledger.Claim(ctx, "sig-1", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !first {
		t.Fatal("first claim should succeed")
	}

	second, err := ledger.Claim(ctx, "sig-1", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if second {
		t.Fatal("second claim of the same signature should fail")
	}

	other, err := ledger.Claim(ctx, "sig-2", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !other {
		t.Fatal("claim of a different signature should succeed")
	}
}

func TestMemoryLedgerExpiry(t *testing.T) {
	ledger := NewMemoryLedger()
	now := time.Unix(1700000000, 0)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := ledger.Claim(ctx, "sig-1", time.Minute); !ok {
		t.Fatal("first claim should succeed")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := ledger.Claim(ctx, "sig-1", time.Minute); !ok {
		t.Fatal("claim after ttl expiry should succeed again")
	}
}
