// Package execution turns engine decisions into signed Solana
// transactions: a venue HTTP endpoint constructs the order, the local
// wallet signs it, and the RPC client submits it. It also reclaims rent
// from emptied token accounts after positions close.
package execution

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wallet is an ed25519 signing keypair.
type Wallet struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewWalletFromBase58 builds a wallet from a base58-encoded secret key.
// Accepts the standard 64-byte expanded key or a 32-byte seed.
func NewWalletFromBase58(secret string) (*Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("secret key must be %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}

	return &Wallet{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}, nil
}

// PublicKey returns the wallet address in base58.
func (w *Wallet) PublicKey() string {
	return base58.Encode(w.pub)
}

// Sign signs an arbitrary message.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}

// SignTransaction signs a serialized transaction in place. The wire
// format is a compact-u16 signature count, the 64-byte signature slots,
// then the message bytes; the fee payer's signature goes in slot 0.
func (w *Wallet) SignTransaction(serialized []byte) ([]byte, error) {
	sigCount, offset, err := decodeCompactU16(serialized)
	if err != nil {
		return nil, fmt.Errorf("parse signature count: %w", err)
	}
	if sigCount < 1 {
		return nil, fmt.Errorf("transaction has no signature slots")
	}

	msgStart := offset + sigCount*ed25519.SignatureSize
	if len(serialized) < msgStart {
		return nil, fmt.Errorf("transaction truncated: %d bytes, need %d", len(serialized), msgStart)
	}

	signed := make([]byte, len(serialized))
	copy(signed, serialized)
	sig := ed25519.Sign(w.priv, serialized[msgStart:])
	copy(signed[offset:], sig)
	return signed, nil
}

// decodeCompactU16 reads a compact-u16 length prefix, returning the
// value and the number of bytes consumed.
func decodeCompactU16(data []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		b := int(data[i])
		value |= (b & 0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}

// encodeCompactU16 appends a compact-u16 length prefix to dst.
func encodeCompactU16(dst []byte, value int) []byte {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
