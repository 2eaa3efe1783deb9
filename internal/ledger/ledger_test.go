package ledger

import (
	"testing"
	"time"
)

func testTx() *Transaction {
	return &Transaction{
		Signature: "sig",
		Success:   true,
		FeePayer:  "Payer111",
		BlockTime: time.Unix(1700000000, 0).UTC(),
		Memos:     []string{"  ABCDef0123  "},
		Pre: []TokenBalance{
			{Mint: "MintA", Owner: "Recipient1", Amount: "100", Decimals: 6},
		},
		Post: []TokenBalance{
			{Mint: "MintA", Owner: "Recipient1", Amount: "50100", Decimals: 6},
			{Mint: "MintA", Owner: "Sender1", Amount: "0", Decimals: 6},
		},
	}
}

func TestDelta(t *testing.T) {
	tx := testTx()
	delta, ok := tx.Delta("MintA", "Recipient1")
	if !ok {
		t.Fatal("expected delta for recipient")
	}
	if delta.Int64() != 50000 {
		t.Fatalf("delta = %s, want 50000", delta)
	}
}

func TestDeltaNoPreBalance(t *testing.T) {
	tx := testTx()
	tx.Pre = nil
	delta, ok := tx.Delta("MintA", "Recipient1")
	if !ok {
		t.Fatal("expected delta with missing pre balance")
	}
	if delta.Int64() != 50100 {
		t.Fatalf("delta = %s, want 50100", delta)
	}
}

func TestDeltaMissingPostBalance(t *testing.T) {
	tx := testTx()
	if _, ok := tx.Delta("MintA", "Nobody"); ok {
		t.Fatal("expected no delta for unknown owner")
	}
	if _, ok := tx.Delta("OtherMint", "Recipient1"); ok {
		t.Fatal("expected no delta for unknown mint")
	}
}

func TestDecimalsFor(t *testing.T) {
	tx := testTx()
	dec, ok := tx.DecimalsFor("MintA", "Recipient1")
	if !ok || dec != 6 {
		t.Fatalf("decimals = %d ok=%v, want 6 true", dec, ok)
	}
}

func TestHasMemo(t *testing.T) {
	tx := testTx()
	if !tx.HasMemo("abcdef0123") {
		t.Fatal("expected memo match, case-insensitive and trimmed")
	}
	if tx.HasMemo("other") {
		t.Fatal("unexpected memo match")
	}
}

func TestChainRef(t *testing.T) {
	cases := map[string]string{
		"https://api.devnet.solana.com":       chainRefDevnet,
		"https://api.testnet.solana.com":      chainRefTestnet,
		"https://api.mainnet-beta.solana.com": chainRefMainnet,
	}
	for url, want := range cases {
		if got := ChainRef(url); got != want {
			t.Fatalf("ChainRef(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestChainRefFromNetwork(t *testing.T) {
	ref, ok := ChainRefFromNetwork("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	if !ok || ref != "EtWTRABZaYq6iMfeYKouRu166VU2xqa1" {
		t.Fatalf("got %q ok=%v", ref, ok)
	}
	if _, ok := ChainRefFromNetwork("eip155:1"); ok {
		t.Fatal("expected false for non-solana network")
	}
	if _, ok := ChainRefFromNetwork("solana:"); ok {
		t.Fatal("expected false for empty chain ref")
	}
}
