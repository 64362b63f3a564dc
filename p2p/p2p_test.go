// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/p2p"
	"github.com/obolnetwork/lockreward/testutil"
)

type echo struct {
	Value int64 `json:"value"`
}

func TestSendReceive(t *testing.T) {
	var (
		protocolID  = protocol.ID("test")
		errNegative = errors.New("negative value")
		ctx         = context.Background()
		server      = testutil.CreateHost(t, testutil.RandomKey(t), testutil.AvailableAddr(t))
		client      = testutil.CreateHost(t, testutil.RandomKey(t), testutil.AvailableAddr(t))
	)

	client.Peerstore().AddAddrs(server.ID(), server.Addrs(), peerstore.PermanentAddrTTL)

	// Register the server handler that either:
	//  - Errors if the value is negative
	//  - Echos the request if the value is even
	//  - Returns nothing if the value is odd
	p2p.RegisterHandler("server", server, protocolID,
		func() any { return new(echo) },
		func(_ context.Context, peerID peer.ID, req any) (any, bool, error) {
			require.Equal(t, client.ID(), peerID)
			msg, ok := req.(*echo)
			require.True(t, ok)

			if msg.Value < 0 {
				return nil, false, errNegative
			} else if msg.Value%2 == 0 {
				return msg, true, nil
			}

			return nil, false, nil
		},
	)

	sendReceive := func(value int64) (echo, error) {
		var resp echo
		err := p2p.SendReceive(ctx, client, server.ID(), echo{Value: value}, &resp, protocolID)

		return resp, err
	}

	t.Run("server error", func(t *testing.T) {
		_, err := sendReceive(-1)
		require.ErrorContains(t, err, "no response")
	})

	t.Run("ok", func(t *testing.T) {
		resp, err := sendReceive(100)
		require.NoError(t, err)
		require.EqualValues(t, 100, resp.Value)
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := sendReceive(101)
		require.ErrorContains(t, err, "no response")
	})

	t.Run("send", func(t *testing.T) {
		received := make(chan int64, 1)
		p2p.RegisterHandler("server", server, "oneway",
			func() any { return new(echo) },
			func(_ context.Context, _ peer.ID, req any) (any, bool, error) {
				received <- req.(*echo).Value
				return nil, false, nil
			},
		)

		require.NoError(t, p2p.Send(ctx, client, "oneway", server.ID(), echo{Value: 7}))
		require.EqualValues(t, 7, <-received)
	})
}

func TestConfig(t *testing.T) {
	key := testutil.RandomKey(t)
	id, err := p2p.PeerIDFromKey(key.PubKey())
	require.NoError(t, err)

	pubkey, err := p2p.PeerIDToKey(id)
	require.NoError(t, err)
	require.True(t, pubkey.IsEqual(key.PubKey()))

	cfg := p2p.Config{
		TCPAddrs: []string{"127.0.0.1:3610"},
		Peers:    []string{fmt.Sprintf("/ip4/127.0.0.1/tcp/3611/p2p/%s", id)},
	}

	addrs, err := cfg.Multiaddrs()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.Equal(t, "/ip4/127.0.0.1/tcp/3610", addrs[0].String())

	infos, err := cfg.PeerAddrInfos()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, id, infos[0].ID)

	_, err = p2p.Config{TCPAddrs: []string{":3610"}}.Multiaddrs()
	require.ErrorContains(t, err, "IP not specified")

	_, err = p2p.ParseAddrInfo("/ip4/127.0.0.1/tcp/3611")
	require.Error(t, err)
}
