// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package schnorr implements a two round n-of-n Schnorr signing session producing 64 byte
// x-only signatures over an aggregate key. Keys are aggregated with per key coefficients and
// the aggregate key and combined nonce are normalised to even Y.
package schnorr

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	// SigLen is the length of a signature.
	SigLen = 64
	// PartialLen is the length of a partial signature.
	PartialLen = 32
)

var (
	tagKeyList   = []byte("LockReward/keylist")
	tagKeyCoeff  = []byte("LockReward/keycoeff")
	tagChallenge = []byte("BIP0340/challenge")
)

// AggregateKey is an aggregated public key.
type AggregateKey struct {
	// Point is the even Y aggregate point.
	Point k1.JacobianPoint
	// Coeffs are the per key coefficients in key order.
	Coeffs []k1.ModNScalar
	// Negated is true if the sum of weighted keys had odd Y and was negated.
	Negated bool
}

// XOnly returns the 32 byte x coordinate of the aggregate key.
func (k AggregateKey) XOnly() [32]byte {
	return *k.Point.X.Bytes()
}

// AggregateKeys aggregates the public keys in order.
func AggregateKeys(pubkeys []*k1.PublicKey) (AggregateKey, error) {
	if len(pubkeys) == 0 {
		return AggregateKey{}, errors.New("no public keys")
	}

	var list []byte
	for _, pubkey := range pubkeys {
		list = append(list, pubkey.SerializeCompressed()...)
	}
	listHash := chainhash.TaggedHash(tagKeyList, list)

	var (
		sum    k1.JacobianPoint
		coeffs = make([]k1.ModNScalar, len(pubkeys))
	)
	for i, pubkey := range pubkeys {
		coeffHash := chainhash.TaggedHash(tagKeyCoeff, listHash[:], pubkey.SerializeCompressed())
		coeffs[i].SetBytes((*[32]byte)(coeffHash))

		var p, weighted k1.JacobianPoint
		pubkey.AsJacobian(&p)
		k1.ScalarMultNonConst(&coeffs[i], &p, &weighted)
		sum = addPoints(sum, weighted)
	}

	sum.ToAffine()
	if isInfinity(sum) {
		return AggregateKey{}, errors.New("aggregate key at infinity")
	}

	var negated bool
	if sum.Y.IsOdd() {
		sum.Y.Negate(1).Normalize()
		negated = true
	}

	return AggregateKey{Point: sum, Coeffs: coeffs, Negated: negated}, nil
}

// NewSession returns a signing session of the ordered keys over the 32 byte message.
func NewSession(pubkeys []*k1.PublicKey, msg [32]byte) (*Session, error) {
	key, err := AggregateKeys(pubkeys)
	if err != nil {
		return nil, err
	}

	return &Session{
		pubkeys: pubkeys,
		key:     key,
		msg:     msg,
	}, nil
}

// Session is a signing session. Nonces must be set before signing.
type Session struct {
	pubkeys []*k1.PublicKey
	key     AggregateKey
	msg     [32]byte

	nonces    []k1.JacobianPoint
	r         k1.JacobianPoint
	negNonces bool
	challenge k1.ModNScalar
}

// Key returns the aggregate key of the session.
func (s *Session) Key() AggregateKey {
	return s.key
}

// SetNonces sets the public nonces in key order and computes the combined nonce and challenge.
func (s *Session) SetNonces(nonces []*k1.PublicKey) error {
	if len(nonces) != len(s.pubkeys) {
		return errors.New("nonce count mismatch", z.Int("nonces", len(nonces)), z.Int("keys", len(s.pubkeys)))
	}

	var sum k1.JacobianPoint
	points := make([]k1.JacobianPoint, len(nonces))
	for i, nonce := range nonces {
		nonce.AsJacobian(&points[i])
		sum = addPoints(sum, points[i])
	}

	sum.ToAffine()
	if isInfinity(sum) {
		return errors.New("combined nonce at infinity")
	}

	s.negNonces = sum.Y.IsOdd()
	if s.negNonces {
		sum.Y.Negate(1).Normalize()
	}

	s.nonces = points
	s.r = sum
	s.challenge = challenge(*sum.X.Bytes(), s.key.XOnly(), s.msg)

	return nil
}

// Sign returns the partial signature of the signer at index using its secret key and nonce.
func (s *Session) Sign(index int, secret, nonce *k1.PrivateKey) ([PartialLen]byte, error) {
	if s.nonces == nil {
		return [PartialLen]byte{}, errors.New("nonces not set")
	} else if index < 0 || index >= len(s.pubkeys) {
		return [PartialLen]byte{}, errors.New("signer index out of range", z.Int("index", index))
	} else if !secret.PubKey().IsEqual(s.pubkeys[index]) {
		return [PartialLen]byte{}, errors.New("secret does not match signer key")
	}

	var noncePub k1.JacobianPoint
	nonce.PubKey().AsJacobian(&noncePub)
	noncePub.ToAffine()
	if !noncePub.X.Equals(&s.nonces[index].X) || !noncePub.Y.Equals(&s.nonces[index].Y) {
		return [PartialLen]byte{}, errors.New("nonce does not match signer nonce")
	}

	k := nonce.Key
	if s.negNonces {
		k.Negate()
	}

	x := secret.Key
	if s.key.Negated {
		x.Negate()
	}

	// s_i = k_i + e*a_i*x_i
	var partial k1.ModNScalar
	partial.Mul2(&s.challenge, &s.key.Coeffs[index]).Mul(&x).Add(&k)

	return partial.Bytes(), nil
}

// VerifyPartial returns true if the partial signature of the signer at index is valid.
func (s *Session) VerifyPartial(index int, partial [PartialLen]byte) bool {
	if s.nonces == nil || index < 0 || index >= len(s.pubkeys) {
		return false
	}

	var sc k1.ModNScalar
	if overflow := sc.SetBytes(&partial); overflow != 0 {
		return false
	}

	// s_i*G == R_i + e*a_i*P_i, with R_i and P_i negated as the combined values were.
	var lhs k1.JacobianPoint
	k1.ScalarBaseMultNonConst(&sc, &lhs)

	r := s.nonces[index]
	if s.negNonces {
		r.Y.Negate(1).Normalize()
	}

	var p k1.JacobianPoint
	s.pubkeys[index].AsJacobian(&p)
	if s.key.Negated {
		p.Y.Negate(1).Normalize()
	}

	var ea k1.ModNScalar
	ea.Mul2(&s.challenge, &s.key.Coeffs[index])

	var eaP k1.JacobianPoint
	k1.ScalarMultNonConst(&ea, &p, &eaP)
	rhs := addPoints(r, eaP)

	lhs.ToAffine()
	rhs.ToAffine()

	return lhs.X.Equals(&rhs.X) && lhs.Y.Equals(&rhs.Y)
}

// Combine verifies all partial signatures in key order and returns the aggregate signature.
func (s *Session) Combine(partials [][PartialLen]byte) ([]byte, error) {
	if s.nonces == nil {
		return nil, errors.New("nonces not set")
	} else if len(partials) != len(s.pubkeys) {
		return nil, errors.New("partial count mismatch", z.Int("partials", len(partials)), z.Int("keys", len(s.pubkeys)))
	}

	var sum k1.ModNScalar
	for i, partial := range partials {
		if !s.VerifyPartial(i, partial) {
			return nil, errors.New("invalid partial signature", z.Int("index", i))
		}

		var sc k1.ModNScalar
		sc.SetBytes(&partial)
		sum.Add(&sc)
	}

	sig := make([]byte, 0, SigLen)
	sig = append(sig, s.r.X.Bytes()[:]...)
	sb := sum.Bytes()
	sig = append(sig, sb[:]...)

	return sig, nil
}

// Verify returns true if sig is a valid signature of msg by the aggregate of the ordered keys.
func Verify(pubkeys []*k1.PublicKey, msg [32]byte, sig []byte) bool {
	key, err := AggregateKeys(pubkeys)
	if err != nil {
		return false
	}

	return VerifyXOnly(key.Point, msg, sig)
}

// VerifyXOnly returns true if sig is a valid signature of msg by the even Y key point.
func VerifyXOnly(key k1.JacobianPoint, msg [32]byte, sig []byte) bool {
	if len(sig) != SigLen {
		return false
	}

	var rx k1.FieldVal
	if overflow := rx.SetByteSlice(sig[:32]); overflow {
		return false
	}

	var sc k1.ModNScalar
	if overflow := sc.SetByteSlice(sig[32:]); overflow {
		return false
	}

	key.ToAffine()
	e := challenge(*rx.Bytes(), *key.X.Bytes(), msg)

	// R = s*G - e*X
	var sG, eX, r k1.JacobianPoint
	k1.ScalarBaseMultNonConst(&sc, &sG)
	e.Negate()
	k1.ScalarMultNonConst(&e, &key, &eX)
	k1.AddNonConst(&sG, &eX, &r)

	r.ToAffine()
	if isInfinity(r) || r.Y.IsOdd() {
		return false
	}

	return r.X.Equals(&rx)
}

func challenge(rx, px, msg [32]byte) k1.ModNScalar {
	h := chainhash.TaggedHash(tagChallenge, rx[:], px[:], msg[:])

	var e k1.ModNScalar
	e.SetBytes((*[32]byte)(h))

	return e
}

func addPoints(a, b k1.JacobianPoint) k1.JacobianPoint {
	var resp k1.JacobianPoint
	k1.AddNonConst(&a, &b, &resp)

	return resp
}

func isInfinity(p k1.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}
