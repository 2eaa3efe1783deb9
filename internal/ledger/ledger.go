// Package ledger reads finalized transactions from the Solana ledger and
// exposes them as balance deltas per (mint, owner) pair. Instruction and
// memo parsing is confined to this package; the payment verifier never
// touches ledger-specific encodings.
package ledger

import (
	"errors"
	"math/big"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrNotConfirmed = errors.New("transaction not confirmed at requested commitment")
)

// TokenBalance is one token account balance observation.
type TokenBalance struct {
	Mint     string
	Owner    string
	Amount   string
	Decimals int
}

// Transaction is the read-only view of an observed ledger transaction.
type Transaction struct {
	Signature string
	Success   bool
	FeePayer  string
	BlockTime time.Time
	Memos     []string
	Pre       []TokenBalance
	Post      []TokenBalance
}

// Delta returns postBalance - preBalance for the given mint and owner.
// The second return is false when no post balance exists for the pair.
// Integer arithmetic only.
func (t *Transaction) Delta(mint, owner string) (*big.Int, bool) {
	post, ok := find(t.Post, mint, owner)
	if !ok {
		return nil, false
	}
	postAmt, ok := new(big.Int).SetString(post.Amount, 10)
	if !ok {
		return nil, false
	}
	preAmt := big.NewInt(0)
	if pre, ok := find(t.Pre, mint, owner); ok {
		if v, ok := new(big.Int).SetString(pre.Amount, 10); ok {
			preAmt = v
		}
	}
	return new(big.Int).Sub(postAmt, preAmt), true
}

// DecimalsFor returns the observed decimals of the (mint, owner) account.
func (t *Transaction) DecimalsFor(mint, owner string) (int, bool) {
	post, ok := find(t.Post, mint, owner)
	if !ok {
		return 0, false
	}
	return post.Decimals, true
}

// HasMemo reports whether the transaction carries memo (case-insensitive,
// trimmed), the binding between a payment and its payment request token.
func (t *Transaction) HasMemo(memo string) bool {
	want := strings.ToLower(strings.TrimSpace(memo))
	for _, m := range t.Memos {
		if strings.ToLower(strings.TrimSpace(m)) == want {
			return true
		}
	}
	return false
}

func find(balances []TokenBalance, mint, owner string) (TokenBalance, bool) {
	for _, b := range balances {
		if b.Mint == mint && b.Owner == owner {
			return b, true
		}
	}
	return TokenBalance{}, false
}

// CAIP-2 chain references for the public Solana clusters.
const (
	chainRefMainnet = "5eykt4UsFv8P8NJdTREpEqAZ4rZDVNHDxxy3j2Gj7hJ"
	chainRefDevnet  = "4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
	chainRefTestnet = "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// ChainRef derives the CAIP-2 chain reference from the configured RPC URL.
func ChainRef(rpcURL string) string {
	u := strings.ToLower(rpcURL)
	switch {
	case strings.Contains(u, "devnet"):
		return chainRefDevnet
	case strings.Contains(u, "testnet"):
		return chainRefTestnet
	default:
		return chainRefMainnet
	}
}

// Network renders the CAIP-2 network identifier for a chain reference.
func Network(chainRef string) string {
	return "solana:" + chainRef
}

// ChainRefFromNetwork extracts the chain reference from a network
// identifier such as "solana:EtWT...". Returns false if the identifier is
// not a Solana network.
func ChainRefFromNetwork(network string) (string, bool) {
	ref, ok := strings.CutPrefix(network, "solana:")
	if !ok || ref == "" {
		return "", false
	}
	return ref, true
}
