// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package errors_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

func TestIs(t *testing.T) {
	errExpired := errors.New("node expired")

	errUnknown := errors.New("unknown signer", z.Str("signer", "0a0b:1"))
	errCommit := errors.Wrap(errUnknown, "check commitment")
	errHandle := errors.Wrap(errCommit, "handle message", z.Str("type", "commitment"))

	require.True(t, errors.Is(errCommit, errUnknown))
	require.True(t, errors.Is(errHandle, errUnknown))
	require.False(t, errors.Is(errUnknown, errCommit))
	require.False(t, errors.Is(errHandle, errExpired))
	require.Equal(t, "handle message: check commitment: unknown signer", errHandle.Error())

	errRead := errors.Wrap(io.EOF, "read snapshot")
	require.True(t, errors.Is(errRead, io.EOF))
	require.False(t, errors.Is(io.EOF, errRead))
}

func TestAs(t *testing.T) {
	err := errors.Wrap(rejection{score: 20}, "handle partial", z.I64("reward_height", 44))

	var rej rejection
	require.True(t, errors.As(err, &rej))
	require.Equal(t, 20, rej.score)
	require.Len(t, z.Fields(err), 1)
}

type rejection struct {
	score int
}

func (rejection) Error() string {
	return "rejected"
}

func TestSentinel(t *testing.T) {
	sentinel := errors.NewSentinel("no candidate")

	err := errors.Wrap(sentinel, "resolve", z.I64("height", 41))
	require.True(t, errors.Is(err, sentinel))
	require.Equal(t, "resolve: no candidate", err.Error())
	require.Len(t, z.Fields(err), 1)
}

func TestWrapKeepsFields(t *testing.T) {
	err := errors.New("inner", z.Str("tier", "BIG"))
	err = errors.Wrap(err, "outer", z.I64("height", 10))

	require.Len(t, z.Fields(err), 2)
}
