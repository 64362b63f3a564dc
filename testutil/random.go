// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

//nolint:gosec
package testutil

import (
	"fmt"
	"math/rand"
	"net"
	"testing"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/core"
)

// RandomHash returns a random 32 byte hash.
func RandomHash() core.Hash {
	var resp core.Hash
	_, _ = rand.Read(resp[:])

	return resp
}

// RandomOutpoint returns a random node funding reference.
func RandomOutpoint() core.Outpoint {
	return core.Outpoint{
		Hash:  RandomHash(),
		Index: uint32(rand.Intn(8)),
	}
}

// RandomKeyID returns a random hash160.
func RandomKeyID() [20]byte {
	var resp [20]byte
	_, _ = rand.Read(resp[:])

	return resp
}

// RandomRecord returns a random confirmed node record of the tier.
func RandomRecord(tier core.Tier, registration, lifetime int64) core.NodeRecord {
	op := RandomOutpoint()
	addr := fmt.Sprintf("S%x", RandomKeyID())
	ownerKeyID := RandomKeyID()

	return core.NodeRecord{
		Outpoint:           op,
		Tier:               tier,
		RegistrationHeight: registration,
		ExpiryHeight:       registration + lifetime,
		Collateral:         core.BurnCollateral{Amount: core.Amount(tier) * 100_000 * core.Coin},
		CollateralAddress:  addr,
		OwnerScript:        append([]byte{0x76, 0xa9, 0x14}, append(ownerKeyID[:], 0x88, 0xac)...),
		MetadataID:         core.MetadataIDFor(addr, op),
	}
}

// RandomKey returns a random secp256k1 private key.
func RandomKey(t *testing.T) *k1.PrivateKey {
	t.Helper()

	key, err := k1.GeneratePrivateKey()
	require.NoError(t, err)

	return key
}

// AvailableAddr returns an available local tcp address.
func AvailableAddr(t *testing.T) *net.TCPAddr {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()

	addr, err := net.ResolveTCPAddr(l.Addr().Network(), l.Addr().String())
	require.NoError(t, err)

	return addr
}

// CreateHost returns a libp2p host with the key as identity listening on addr.
func CreateHost(t *testing.T, key *k1.PrivateKey, addr *net.TCPAddr) host.Host {
	t.Helper()

	addrs, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", addr.IP, addr.Port))
	require.NoError(t, err)

	h, err := libp2p.New(libp2p.Identity(k1util.ToLibP2P(key)), libp2p.ListenAddrs(addrs))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.Close()
	})

	return h
}
