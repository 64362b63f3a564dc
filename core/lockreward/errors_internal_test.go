// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

func TestDoSScore(t *testing.T) {
	err := newDoS(dosBadSig, "invalid signature", z.Str("signer", "0a0b:1"))
	require.Equal(t, dosBadSig, DoSScore(err))
	require.Equal(t, "invalid signature", err.Error())
	require.Len(t, z.Fields(err), 1)

	// Scores survive wrapping and fields accumulate.
	wrapped := errors.Wrap(err, "handle commitment", z.I64("reward_height", 44))
	require.Equal(t, dosBadSig, DoSScore(wrapped))
	require.Len(t, z.Fields(wrapped), 2)

	require.Zero(t, DoSScore(errors.New("signer metadata not matured")))
	require.Zero(t, DoSScore(nil))
}
