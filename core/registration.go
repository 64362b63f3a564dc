// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

// SchnorrSigLen is the length of an aggregate x-only Schnorr signature.
const SchnorrSigLen = 64

// Registration is an aggregate lock-reward attestation embedded on chain.
type Registration struct {
	RewardHeight int64
	Tier         Tier
	Sig          []byte
	SignerRanks  []int
}

// String returns the registration string "height;tier;base58(sig);r1;...;rN".
func (r Registration) String() string {
	fields := make([]string, 0, 3+len(r.SignerRanks))
	fields = append(fields,
		strconv.FormatInt(r.RewardHeight, 10),
		strconv.Itoa(int(r.Tier)),
		base58.Encode(r.Sig),
	)
	for _, rank := range r.SignerRanks {
		fields = append(fields, strconv.Itoa(rank))
	}

	return strings.Join(fields, ";")
}

// ParseRegistration parses a registration string expecting exactly groupSize signer ranks.
func ParseRegistration(s string, groupSize int) (Registration, error) {
	fields := strings.Split(s, ";")
	if len(fields) != 3+groupSize {
		return Registration{}, errors.New("invalid registration field count",
			z.Int("fields", len(fields)), z.Int("expect", 3+groupSize))
	}

	height, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Registration{}, errors.Wrap(err, "parse registration height")
	}

	tier, err := strconv.Atoi(fields[1])
	if err != nil {
		return Registration{}, errors.Wrap(err, "parse registration tier")
	}

	sig, err := base58.Decode(fields[2])
	if err != nil {
		return Registration{}, errors.Wrap(err, "decode registration signature")
	} else if len(sig) != SchnorrSigLen {
		return Registration{}, errors.New("invalid registration signature length", z.Int("len", len(sig)))
	}

	ranks := make([]int, 0, groupSize)
	for _, field := range fields[3:] {
		rank, err := strconv.Atoi(field)
		if err != nil {
			return Registration{}, errors.Wrap(err, "parse signer rank")
		} else if rank <= 0 {
			return Registration{}, errors.New("invalid signer rank", z.Int("rank", rank))
		}
		ranks = append(ranks, rank)
	}

	return Registration{
		RewardHeight: height,
		Tier:         Tier(tier),
		Sig:          sig,
		SignerRanks:  ranks,
	}, nil
}
