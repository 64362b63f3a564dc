// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package k1util provides helper functions for working with secp256k1 node keys.
package k1util

import (
	"encoding/hex"
	"os"
	"strings"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	// k1HashLen is the length of secp256k1 signature hash/digest.
	k1HashLen = 32
	// k1SigLen is the [R || S || V] length of secp256k1 signatures.
	k1SigLen = 65
	// k1RecIdx is the recovery id index.
	k1RecIdx = 64

	// compactSigMagicOffset is the compact signature recovery code offset inherited from Bitcoin.
	compactSigMagicOffset = 27
)

// Sign returns a 65 byte [R || S || V] signature of the 32 byte hash where V is 0 or 1.
func Sign(key *k1.PrivateKey, hash []byte) ([]byte, error) {
	if len(hash) != k1HashLen {
		return nil, errors.New("signing hash/digest not 32 bytes", z.Int("len", len(hash)))
	}

	sig := ecdsa.SignCompact(key, hash, true)

	// Move the recovery code from the front to the back.
	recovery := sig[0]
	sig = append(sig[1:], recovery-compactSigMagicOffset-4)

	return sig, nil
}

// Verify65 returns whether the 65 byte signature is valid for the provided hash and public key.
func Verify65(pubkey *k1.PublicKey, hash []byte, sig []byte) (bool, error) {
	recovered, err := Recover(hash, sig)
	if err != nil {
		return false, err
	}

	return pubkey.IsEqual(recovered), nil
}

// Recover returns the public key recovered from the 65 byte [R || S || V] signature.
func Recover(hash []byte, sig []byte) (*k1.PublicKey, error) {
	if len(hash) != k1HashLen {
		return nil, errors.New("signing hash/digest not 32 bytes", z.Int("len", len(hash)))
	} else if len(sig) != k1SigLen {
		return nil, errors.New("signature not 65 bytes", z.Int("len", len(sig)))
	} else if sig[k1RecIdx] > 1 {
		return nil, errors.New("invalid recovery id", z.Int("id", int(sig[k1RecIdx])))
	}

	compact := make([]byte, 0, k1SigLen)
	compact = append(compact, sig[k1RecIdx]+compactSigMagicOffset+4)
	compact = append(compact, sig[:k1RecIdx]...)

	pubkey, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, errors.Wrap(err, "recover signature")
	}

	return pubkey, nil
}

// ParsePubKey returns the public key from its 33 byte compressed or 65 byte uncompressed encoding.
func ParsePubKey(b []byte) (*k1.PublicKey, error) {
	pubkey, err := k1.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key", z.Hex("pubkey", b))
	}

	return pubkey, nil
}

// ToLibP2P returns the key as a libp2p private key used as the p2p identity.
func ToLibP2P(key *k1.PrivateKey) crypto.PrivKey {
	return (*crypto.Secp256k1PrivateKey)(key)
}

// Load returns a private key by reading it from a hex encoded file on disk.
func Load(file string) (*k1.PrivateKey, error) {
	hexStr, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read private key from disk", z.Str("file", file))
	}

	b, err := hex.DecodeString(strings.TrimSpace(string(hexStr)))
	if err != nil {
		return nil, errors.Wrap(err, "decode private key hex")
	}

	return k1.PrivKeyFromBytes(b), nil
}

// Save writes the hex encoded private key to disk.
func Save(key *k1.PrivateKey, file string) error {
	hexStr := hex.EncodeToString(key.Serialize())

	if err := os.WriteFile(file, []byte(hexStr), 0o600); err != nil {
		return errors.Wrap(err, "write private key to disk", z.Str("file", file))
	}

	return nil
}
