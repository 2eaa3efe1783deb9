package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"assetgate/internal/logging"
)

// Inspector fetches transactions at a single configured commitment level
// so every verification sees the same finality guarantee.
type Inspector struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	log        logging.Logger
}

func NewInspector(rpcURL, commitment string, log logging.Logger) *Inspector {
	return &Inspector{
		client:     rpc.New(rpcURL),
		commitment: commitmentType(commitment),
		log:        log,
	}
}

func commitmentType(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// TransactionByID fetches one transaction by signature.
func (i *Inspector) TransactionByID(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding", ErrNotFound)
	}

	maxVersion := uint64(0)
	res, err := i.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     i.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if res == nil || res.Meta == nil {
		return nil, ErrNotFound
	}

	decoded, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	out := &Transaction{
		Signature: signature,
		Success:   res.Meta.Err == nil,
		Pre:       convertBalances(decoded, res.Meta.PreTokenBalances),
		Post:      convertBalances(decoded, res.Meta.PostTokenBalances),
		Memos:     extractMemos(decoded),
	}
	if len(decoded.Message.AccountKeys) > 0 {
		out.FeePayer = decoded.Message.AccountKeys[0].String()
	}
	if res.BlockTime != nil {
		out.BlockTime = res.BlockTime.Time().UTC()
	}

	i.log.Debug("ledger transaction fetched", map[string]any{
		"signature": signature,
		"success":   out.Success,
		"fee_payer": out.FeePayer,
		"memos":     len(out.Memos),
	})
	return out, nil
}

func convertBalances(tx *solana.Transaction, balances []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{Mint: b.Mint.String()}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
			tb.Decimals = int(b.UiTokenAmount.Decimals)
		}
		out = append(out, tb)
	}
	// Some RPC providers omit the owner field; fall back to the account key.
	for idx, b := range balances {
		if out[idx].Owner == "" && int(b.AccountIndex) < len(tx.Message.AccountKeys) {
			out[idx].Owner = tx.Message.AccountKeys[b.AccountIndex].String()
		}
	}
	return out
}

func extractMemos(tx *solana.Transaction) []string {
	var memos []string
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		prog := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if prog.Equals(solana.MemoProgramID) {
			memos = append(memos, string(inst.Data))
		}
	}
	return memos
}
