// Package wallet loads and persists the ed25519 keypair the bot signs
// transactions with, mirroring the Python client's id.json-based wallet
// file: a JSON array of bytes, first 32 used as the seed.
package wallet

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// Wallet wraps a private key and exposes the address everything else
// needs: instruction account metas, balance lookups, rebalancer targets.
type Wallet struct {
	privateKey solana.PrivateKey
}

// FromSecretKey builds a Wallet from a raw secret key. Only the first 32
// bytes are significant: they are used as the seed the keypair is derived
// from, so a 32-byte seed-only array and solana-go's 64-byte seed+pubkey
// form both load the same wallet.
func FromSecretKey(secretKey []byte) (*Wallet, error) {
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes, got %d", len(secretKey))
	}
	derived, err := solana.PrivateKeyFromSeed(secretKey[:32])
	if err != nil {
		return nil, fmt.Errorf("derive keypair from seed: %w", err)
	}
	return &Wallet{privateKey: derived}, nil
}

// Create generates a brand-new random wallet.
func Create() *Wallet {
	return &Wallet{privateKey: solana.NewWallet().PrivateKey}
}

// Load reads a wallet file: a JSON array of ints, as produced by Save.
func Load(filename string) (*Wallet, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read wallet file %s: %w", filename, err)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("parse wallet file %s: %w", filename, err)
	}
	secretKey := make([]byte, len(ints))
	for i, v := range ints {
		secretKey[i] = byte(v)
	}
	return FromSecretKey(secretKey)
}

// Save writes the wallet's secret key to filename as a JSON byte array.
// It refuses to overwrite an existing file unless overwrite is true.
func (w *Wallet) Save(filename string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(filename); err == nil {
			return fmt.Errorf("wallet file %s already exists", filename)
		}
	}
	ints := make([]int, len(w.privateKey))
	for i, b := range w.privateKey {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("marshal wallet secret key: %w", err)
	}
	if err := os.WriteFile(filename, raw, 0600); err != nil {
		return fmt.Errorf("write wallet file %s: %w", filename, err)
	}
	return nil
}

// Address returns the wallet's public key.
func (w *Wallet) Address() solana.PublicKey {
	return w.privateKey.PublicKey()
}

// Sign populates every required signature slot on tx for this wallet.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.Address()) {
			return &w.privateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}
