// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package chain provides base chain script helpers and extracts node registrations and
// lock-reward markers from blocks.
package chain

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/txscript"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/core"
)

// P2PKHScript returns the pay-to-pubkey-hash script of the key id.
func P2PKHScript(keyID [20]byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyID[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic("build p2pkh script: " + err.Error()) // Only fails for oversized scripts.
	}

	return script
}

// PubKeyScript returns the pay-to-pubkey-hash script of the compressed public key.
func PubKeyScript(pubkey []byte) []byte {
	var keyID [20]byte
	copy(keyID[:], btcutil.Hash160(pubkey))

	return P2PKHScript(keyID)
}

// BurnScript returns the script of the burn destination.
func BurnScript(params core.Params) []byte {
	return P2PKHScript(params.BurnPubKeyHash)
}

// KeyID returns the key id of a pay-to-pubkey-hash script.
func KeyID(script []byte) ([20]byte, bool) {
	var resp [20]byte
	if !txscript.IsPayToPubKeyHash(script) {
		return resp, false
	}

	copy(resp[:], script[3:23])

	return resp, true
}

// Address returns the base58check address of the key id.
func Address(params core.Params, keyID [20]byte) string {
	return base58.CheckEncode(keyID[:], params.AddressVersion)
}

// MarkerScript returns the lock-reward marker script: a payment to the marker address
// followed by an OP_RETURN carrying the registration string.
func MarkerScript(params core.Params, payload string) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData([]byte(payload)).
		Script()
	if err != nil {
		return nil, errors.Wrap(err, "build marker script")
	}

	return append(P2PKHScript(params.MarkerPubKeyHash), script...), nil
}

// MarkerPayload returns the registration string of a marker script.
func MarkerPayload(params core.Params, script []byte) (string, bool) {
	prefix := P2PKHScript(params.MarkerPubKeyHash)
	if !bytes.HasPrefix(script, prefix) {
		return "", false
	}

	return nullData(script[len(prefix):])
}

// NullDataScript returns an OP_RETURN script carrying the data.
func NullDataScript(data []byte) ([]byte, error) {
	script, err := txscript.NullDataScript(data)
	if err != nil {
		return nil, errors.Wrap(err, "build null data script")
	}

	return script, nil
}

// nullData returns the single data push following OP_RETURN.
func nullData(script []byte) (string, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return "", false
	}

	if !tokenizer.Next() || tokenizer.Data() == nil {
		return "", false
	}
	data := tokenizer.Data()

	if tokenizer.Next() || tokenizer.Err() != nil {
		return "", false
	}

	return string(data), true
}
