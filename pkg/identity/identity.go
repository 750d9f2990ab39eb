// Package identity holds the keeper's signing identity. The identity is
// constructed once at startup from configuration and threaded explicitly to
// every component that needs it; there is no process-global key material.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/orbitpay/keeper/pkg/contracts"
)

// ErrNoKey is returned when no executor key is configured. This is the one
// misconfiguration that prevents startup: a keeper without an identity
// cannot attribute, sign, or collect rewards for anything it does.
var ErrNoKey = errors.New("identity: executor key not configured")

// Executor is the keeper's signing identity.
type Executor struct {
	priv    ed25519.PrivateKey
	address contracts.Address
}

// FromHexSeed derives an executor identity from a 32-byte hex seed. The
// address is the last 20 bytes of the Keccak-256 digest of the public key,
// matching the ledger's account derivation.
func FromHexSeed(seed string) (*Executor, error) {
	if seed == "" {
		return nil, ErrNoKey
	}
	raw, err := hex.DecodeString(trimHexPrefix(seed))
	if err != nil {
		return nil, fmt.Errorf("identity: decode seed: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}

	priv := ed25519.NewKeyFromSeed(raw)
	pub := priv.Public().(ed25519.PublicKey)

	digest := sha3.NewLegacyKeccak256()
	_, _ = digest.Write(pub)
	sum := digest.Sum(nil)

	return &Executor{
		priv:    priv,
		address: contracts.Address("0x" + hex.EncodeToString(sum[12:])),
	}, nil
}

// Address returns the keeper's ledger address.
func (e *Executor) Address() contracts.Address {
	return e.address
}

// Sign signs a payload for the RPC gateway, returning the hex signature.
func (e *Executor) Sign(payload []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(e.priv, payload)), nil
}

// Verify checks a hex signature against this identity's public key.
func (e *Executor) Verify(payload []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(e.priv.Public().(ed25519.PublicKey), payload, sig)
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
