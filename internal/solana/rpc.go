// Package solana provides a minimal JSON-RPC client for the Solana
// HTTP API, covering the calls the trading path needs.
package solana

import "context"

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	// SendTransaction submits a base64-encoded signed transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, txBase64 string, skipPreflight bool) (string, error)

	// GetBalance retrieves the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetLatestBlockhash retrieves a recent blockhash for transaction
	// assembly.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// GetTokenAccountsByOwner lists the owner's SPL token accounts.
	GetTokenAccountsByOwner(ctx context.Context, owner string) ([]TokenAccount, error)
}

// TokenAccount is one SPL token account held by a wallet.
type TokenAccount struct {
	Pubkey  string
	Mint    string
	Balance float64 // UI amount, decimals applied
}
