package execution

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/mr-tron/base58"

	"github.com/newben420/kolt/internal/solana"
)

// closeAccountOpcode is the SPL token program's CloseAccount instruction.
const closeAccountOpcode = 9

// RentRecovery closes emptied SPL token accounts so their rent lamports
// return to the wallet.
type RentRecovery struct {
	wallet *Wallet
	rpc    solana.RPCClient
	logger *log.Logger
}

// NewRentRecovery creates a RentRecovery.
func NewRentRecovery(wallet *Wallet, rpc solana.RPCClient, logger *log.Logger) *RentRecovery {
	if logger == nil {
		logger = log.New(log.Writer(), "[recovery] ", log.LstdFlags)
	}
	return &RentRecovery{wallet: wallet, rpc: rpc, logger: logger}
}

// ReclaimEmptyAccounts finds the wallet's zero-balance token accounts
// and closes them in a single transaction. Best effort: returns true
// when there was nothing to close or the close transaction was
// submitted.
func (r *RentRecovery) ReclaimEmptyAccounts(ctx context.Context) bool {
	accounts, err := r.rpc.GetTokenAccountsByOwner(ctx, r.wallet.PublicKey())
	if err != nil {
		r.logger.Printf("list token accounts: %v", err)
		return false
	}

	var empty []string
	for _, acc := range accounts {
		if acc.Balance == 0 {
			empty = append(empty, acc.Pubkey)
		}
	}
	if len(empty) == 0 {
		return true
	}

	blockhash, err := r.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		r.logger.Printf("get blockhash: %v", err)
		return false
	}

	tx, err := r.buildCloseTransaction(empty, blockhash)
	if err != nil {
		r.logger.Printf("build close transaction: %v", err)
		return false
	}

	sig, err := r.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(tx), false)
	if err != nil {
		r.logger.Printf("submit close transaction: %v", err)
		return false
	}

	r.logger.Printf("closed %d empty token accounts: %s", len(empty), sig)
	return true
}

// buildCloseTransaction assembles and signs a legacy transaction with
// one CloseAccount instruction per account. Account table layout:
// owner (signer, writable), the accounts to close (writable), then the
// token program (readonly).
func (r *RentRecovery) buildCloseTransaction(accounts []string, blockhash string) ([]byte, error) {
	keys := make([][]byte, 0, len(accounts)+2)
	keys = append(keys, r.wallet.pub)
	for _, acc := range accounts {
		raw, err := base58.Decode(acc)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("bad account address %q", acc)
		}
		keys = append(keys, raw)
	}
	program, err := base58.Decode(solana.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("decode token program id: %w", err)
	}
	keys = append(keys, program)
	programIndex := byte(len(keys) - 1)

	hash, err := base58.Decode(blockhash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("bad blockhash %q", blockhash)
	}

	// message header: 1 required signature, 0 readonly signed,
	// 1 readonly unsigned (the program)
	msg := []byte{1, 0, 1}
	msg = encodeCompactU16(msg, len(keys))
	for _, key := range keys {
		msg = append(msg, key...)
	}
	msg = append(msg, hash...)

	msg = encodeCompactU16(msg, len(accounts))
	for i := range accounts {
		msg = append(msg, programIndex)
		// accounts: the token account, rent destination, owner authority
		msg = encodeCompactU16(msg, 3)
		msg = append(msg, byte(i+1), 0, 0)
		msg = encodeCompactU16(msg, 1)
		msg = append(msg, closeAccountOpcode)
	}

	tx := encodeCompactU16(nil, 1)
	tx = append(tx, r.wallet.Sign(msg)...)
	tx = append(tx, msg...)

	if len(tx) != 1+ed25519.SignatureSize+len(msg) {
		return nil, fmt.Errorf("unexpected transaction size %d", len(tx))
	}
	return tx, nil
}
