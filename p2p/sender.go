// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package p2p

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	senderHysteresis = 3
	senderBuffer     = senderHysteresis + 1
	maxMsgSize       = 1 << 20
)

// SendFunc is an abstract function responsible for sending libp2p messages.
type SendFunc func(context.Context, host.Host, protocol.ID, peer.ID, any) error

var (
	_ SendFunc = Send
	_ SendFunc = new(Sender).SendAsync
)

type peerState struct {
	failing bool
	buffer  []error
}

// Sender provides an API for sending libp2p messages, both synchronous and asynchronous.
// It also provides log filtering for async sending, mitigating
// error storms when peers are down.
type Sender struct {
	states sync.Map // map[peer.ID]peerState
}

// addResult adds the result of sending a p2p message to the internal state and possibly logs a status change.
func (s *Sender) addResult(ctx context.Context, peerID peer.ID, err error) {
	var state peerState
	if val, ok := s.states.Load(peerID); ok {
		state = val.(peerState)
	}

	state.buffer = append(state.buffer, err)
	if len(state.buffer) > senderBuffer { // Trim buffer
		state.buffer = state.buffer[len(state.buffer)-senderBuffer:]
	}

	failure := err != nil
	success := !failure

	if success && state.failing {
		// See if we have senderHysteresis successes i.o.t. change state to success.
		full := len(state.buffer) == senderBuffer
		oldestFailure := state.buffer[0] != nil
		othersSuccess := true
		for i := 1; i < len(state.buffer); i++ {
			if state.buffer[i] != nil {
				othersSuccess = false
				break
			}
		}

		if full && oldestFailure && othersSuccess {
			state.failing = false
			log.Info(ctx, "P2P sending recovered", z.Str("peer", PeerName(peerID)))
		}
	} else if failure && (len(state.buffer) == 1 || !state.failing) {
		// First attempt failed or state changed to failing
		log.Warn(ctx, "P2P sending failing", err, z.Str("peer", PeerName(peerID)))
		state.failing = true
	}

	s.states.Store(peerID, state) // Racy if two results for the same peer are added concurrently, which isn't critical.
}

// SendAsync sends a libp2p message asynchronously and returns nil. It logs results on state change
// (success to/from failure). It implements SendFunc.
func (s *Sender) SendAsync(parent context.Context, tcpNode host.Host, protoID protocol.ID, peerID peer.ID, msg any) error {
	go func() {
		// Clone the context since parent context may be closed soon.
		ctx := log.CopyFields(context.Background(), parent)
		err := Send(ctx, tcpNode, protoID, peerID, msg)
		s.addResult(ctx, peerID, err)
	}()

	return nil
}

// Send sends a json encoded libp2p message synchronously. It implements SendFunc.
func Send(ctx context.Context, tcpNode host.Host, protoID protocol.ID, peerID peer.ID, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	s, err := tcpNode.NewStream(ctx, peerID, protoID)
	if err != nil {
		sendErrorCounter.WithLabelValues(string(protoID)).Inc()
		return errors.Wrap(err, "new stream", z.Str("protocol", string(protoID)))
	}

	if _, err = s.Write(b); err != nil {
		sendErrorCounter.WithLabelValues(string(protoID)).Inc()
		_ = s.Reset()

		return errors.Wrap(err, "write message")
	}

	networkTXCounter.WithLabelValues(string(protoID)).Add(float64(len(b)))

	if err := s.Close(); err != nil {
		return errors.Wrap(err, "close stream")
	}

	return nil
}

// SendReceive sends a json request to the peer and decodes the response into resp.
// It returns an error if the peer closes the stream without a response.
func SendReceive(ctx context.Context, tcpNode host.Host, peerID peer.ID, req, resp any, protoID protocol.ID) error {
	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	s, err := tcpNode.NewStream(ctx, peerID, protoID)
	if err != nil {
		sendErrorCounter.WithLabelValues(string(protoID)).Inc()
		return errors.Wrap(err, "new stream", z.Str("protocol", string(protoID)))
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if _, err = s.Write(b); err != nil {
		_ = s.Reset()
		return errors.Wrap(err, "write request")
	}

	if err := s.CloseWrite(); err != nil {
		return errors.Wrap(err, "close write")
	}

	networkTXCounter.WithLabelValues(string(protoID)).Add(float64(len(b)))

	b, err = io.ReadAll(io.LimitReader(s, maxMsgSize))
	if err != nil {
		return errors.Wrap(err, "read response")
	} else if len(b) == 0 {
		return errors.New("peer errored, no response")
	}

	networkRXCounter.WithLabelValues(string(protoID)).Add(float64(len(b)))

	if err := json.Unmarshal(b, resp); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}

	return nil
}

// isReset returns true if the stream was reset by the peer.
func isReset(err error) bool {
	return errors.Is(err, network.ErrReset)
}
