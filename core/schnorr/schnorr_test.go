// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package schnorr_test

import (
	"crypto/sha256"
	"testing"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/core/schnorr"
	"github.com/obolnetwork/lockreward/testutil"
)

type signer struct {
	secret *k1.PrivateKey
	nonce  *k1.PrivateKey
}

func newSigners(t *testing.T, n int) ([]signer, []*k1.PublicKey, []*k1.PublicKey) {
	t.Helper()

	var (
		signers []signer
		pubkeys []*k1.PublicKey
		nonces  []*k1.PublicKey
	)
	for range n {
		s := signer{secret: testutil.RandomKey(t), nonce: testutil.RandomKey(t)}
		signers = append(signers, s)
		pubkeys = append(pubkeys, s.secret.PubKey())
		nonces = append(nonces, s.nonce.PubKey())
	}

	return signers, pubkeys, nonces
}

// sign runs a full session where every signer computes its partial in its own session instance.
func sign(t *testing.T, signers []signer, pubkeys, nonces []*k1.PublicKey, msg [32]byte) ([][schnorr.PartialLen]byte, *schnorr.Session) {
	t.Helper()

	var partials [][schnorr.PartialLen]byte
	for i, s := range signers {
		session, err := schnorr.NewSession(pubkeys, msg)
		require.NoError(t, err)
		require.NoError(t, session.SetNonces(nonces))

		partial, err := session.Sign(i, s.secret, s.nonce)
		require.NoError(t, err)
		partials = append(partials, partial)
	}

	session, err := schnorr.NewSession(pubkeys, msg)
	require.NoError(t, err)
	require.NoError(t, session.SetNonces(nonces))

	return partials, session
}

func TestFourOfFour(t *testing.T) {
	for i := 0; i < 8; i++ { // Cover both even and odd Y normalisation.
		signers, pubkeys, nonces := newSigners(t, 4)
		msg := sha256.Sum256([]byte("reward"))

		partials, session := sign(t, signers, pubkeys, nonces, msg)
		for j, partial := range partials {
			require.True(t, session.VerifyPartial(j, partial))
		}

		sig, err := session.Combine(partials)
		require.NoError(t, err)
		require.Len(t, sig, schnorr.SigLen)

		require.True(t, schnorr.Verify(pubkeys, msg, sig))
		require.False(t, schnorr.Verify(pubkeys, sha256.Sum256([]byte("other")), sig))

		reordered := []*k1.PublicKey{pubkeys[1], pubkeys[0], pubkeys[2], pubkeys[3]}
		require.False(t, schnorr.Verify(reordered, msg, sig))
	}
}

func TestTamperedPartial(t *testing.T) {
	signers, pubkeys, nonces := newSigners(t, 4)
	msg := sha256.Sum256([]byte("reward"))

	partials, session := sign(t, signers, pubkeys, nonces, msg)
	partials[2][31] ^= 0x01

	require.False(t, session.VerifyPartial(2, partials[2]))
	_, err := session.Combine(partials)
	require.ErrorContains(t, err, "invalid partial signature")

	// Swapped partials also fail.
	partials[2][31] ^= 0x01
	partials[0], partials[1] = partials[1], partials[0]
	_, err = session.Combine(partials)
	require.Error(t, err)
}

func TestSessionErrors(t *testing.T) {
	signers, pubkeys, nonces := newSigners(t, 2)
	msg := sha256.Sum256([]byte("reward"))

	_, err := schnorr.NewSession(nil, msg)
	require.ErrorContains(t, err, "no public keys")

	session, err := schnorr.NewSession(pubkeys, msg)
	require.NoError(t, err)

	_, err = session.Sign(0, signers[0].secret, signers[0].nonce)
	require.ErrorContains(t, err, "nonces not set")

	require.ErrorContains(t, session.SetNonces(nonces[:1]), "nonce count mismatch")
	require.NoError(t, session.SetNonces(nonces))

	_, err = session.Sign(1, signers[0].secret, signers[0].nonce)
	require.ErrorContains(t, err, "secret does not match signer key")

	_, err = session.Sign(0, signers[0].secret, signers[1].nonce)
	require.ErrorContains(t, err, "nonce does not match signer nonce")

	_, err = session.Sign(2, signers[0].secret, signers[0].nonce)
	require.ErrorContains(t, err, "signer index out of range")

	_, err = session.Combine(nil)
	require.ErrorContains(t, err, "partial count mismatch")

	require.False(t, schnorr.Verify(pubkeys, msg, make([]byte, 10)))
}
