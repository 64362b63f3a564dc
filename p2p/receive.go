// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

const handlerTimeout = 10 * time.Second

// HandlerFunc abstracts the handler logic that processes a received json message
// and returns a response or false or an error.
type HandlerFunc func(ctx context.Context, peerID peer.ID, req any) (any, bool, error)

// RegisterHandler registers a json request and response handler for the provided protocol.
// - The zeroReq function returns a pointer to a zero request to unmarshal into.
// - The handlerFunc is called with the unmarshalled request and returns either a response or false or an error.
// - The marshalled response is sent back if present.
// - The stream is always closed before returning.
func RegisterHandler(logTopic string, tcpNode host.Host, protoID protocol.ID,
	zeroReq func() any, handlerFunc HandlerFunc,
) {
	tcpNode.SetStreamHandler(protoID, func(s network.Stream) {
		t0 := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		ctx = log.WithTopic(ctx, logTopic)
		ctx = log.WithCtx(ctx,
			z.Str("peer", PeerName(s.Conn().RemotePeer())),
			z.Str("protocol", string(protoID)),
		)
		defer cancel()
		defer s.Close()

		b, err := io.ReadAll(io.LimitReader(s, maxMsgSize))
		if isReset(err) {
			return
		} else if err != nil {
			log.Error(ctx, "LibP2P read request", err, z.Any("duration", time.Since(t0)))
			return
		}

		networkRXCounter.WithLabelValues(string(protoID)).Add(float64(len(b)))

		req := zeroReq()
		if err := json.Unmarshal(b, req); err != nil {
			log.Warn(ctx, "LibP2P unmarshal request", err)
			return
		}

		resp, ok, err := handlerFunc(ctx, s.Conn().RemotePeer(), req)
		if err != nil {
			log.Debug(ctx, "LibP2P handle stream error", z.Err(err), z.Any("duration", time.Since(t0)))
			return
		} else if !ok {
			return
		}

		b, err = json.Marshal(resp)
		if err != nil {
			log.Error(ctx, "LibP2P marshal response", err)
			return
		}

		if _, err := s.Write(b); isReset(err) {
			return
		} else if err != nil {
			log.Error(ctx, "LibP2P write response", err)
			return
		}

		networkTXCounter.WithLabelValues(string(protoID)).Add(float64(len(b)))
	})
}
