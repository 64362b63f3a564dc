// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward

import (
	"go.uber.org/zap"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

const (
	// dosMalformed is the penalty for malformed or out of window messages.
	dosMalformed = 10
	// dosBadSig is the penalty for invalid signatures and unknown signers.
	dosBadSig = 20
)

// dosError is a rejected message carrying the misbehaviour score of its sender.
type dosError struct {
	err   error
	score int
}

func (e dosError) Error() string {
	return e.err.Error()
}

func (e dosError) Unwrap() error {
	return e.err
}

// Fields returns the structured fields of the wrapped error.
func (e dosError) Fields() []z.Field {
	return z.Fields(e.err)
}

// Stack returns the stack trace of the wrapped error.
func (e dosError) Stack() zap.Field {
	if s, ok := e.err.(interface{ Stack() zap.Field }); ok { //nolint:errorlint
		return s.Stack()
	}

	return zap.Skip()
}

// newDoS returns a new rejection error with the misbehaviour score.
func newDoS(score int, msg string, fields ...z.Field) error {
	return dosError{
		err:   errors.New(msg, fields...),
		score: score,
	}
}

// DoSScore returns the misbehaviour score of a rejection error or 0.
func DoSScore(err error) int {
	var dosErr dosError
	if !errors.As(err, &dosErr) {
		return 0
	}

	return dosErr.score
}
