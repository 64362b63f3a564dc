// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p

import (
	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/obolnetwork/lockreward/app/errors"
)

// PeerName returns a short human friendly name of the peer.
func PeerName(p peer.ID) string {
	s := p.String()
	if len(s) <= 6 {
		return s
	}

	return s[len(s)-6:]
}

// PeerIDFromKey returns the peer ID of the public key.
func PeerIDFromKey(pubkey *k1.PublicKey) (peer.ID, error) {
	p2pPubkey, err := libp2pcrypto.UnmarshalSecp256k1PublicKey(pubkey.SerializeCompressed())
	if err != nil {
		return "", errors.Wrap(err, "convert pubkey")
	}

	id, err := peer.IDFromPublicKey(p2pPubkey)
	if err != nil {
		return "", errors.Wrap(err, "p2p id from pubkey")
	}

	return id, nil
}

// PeerIDToKey returns the public key of the peer ID.
func PeerIDToKey(p peer.ID) (*k1.PublicKey, error) {
	pk, err := p.ExtractPublicKey()
	if err != nil {
		return nil, errors.Wrap(err, "extract pubkey")
	}

	raw, err := pk.Raw()
	if err != nil {
		return nil, errors.Wrap(err, "raw pubkey")
	}

	resp, err := k1.ParsePubKey(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse pubkey")
	}

	return resp, nil
}
