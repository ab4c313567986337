package execution

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsValidAddress reports whether s decodes to a 32-byte base58 public
// key.
func IsValidAddress(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 32
}

// IsOnCurve reports whether the address is a point on the ed25519
// curve. Wallet addresses are on-curve; program derived addresses are
// not.
func IsOnCurve(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
