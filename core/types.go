// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/z"
)

// ErrNotFound is returned by a component when a resource is not found.
var ErrNotFound = errors.NewSentinel("not found")

// Coin is the number of base units in one coin.
const Coin Amount = 100_000_000

// Amount is a value in base units.
type Amount int64

// Tier enumerates the node size classes.
type Tier int

const (
	// Tier enums MUST not change, they are part of the registration string.

	TierUnknown Tier = 0
	TierLIL     Tier = 1
	TierMID     Tier = 5
	TierBIG     Tier = 10
)

// AllTiers returns the valid tiers in payout order.
func AllTiers() []Tier {
	return []Tier{TierBIG, TierMID, TierLIL}
}

func (t Tier) Valid() bool {
	return t == TierLIL || t == TierMID || t == TierBIG
}

func (t Tier) String() string {
	switch t {
	case TierLIL:
		return "lil"
	case TierMID:
		return "mid"
	case TierBIG:
		return "big"
	default:
		return "unknown"
	}
}

// Hash is a 32 byte block or transaction hash.
type Hash = chainhash.Hash

// Outpoint is the funding reference of a node: the burn transaction output.
type Outpoint struct {
	Hash  Hash
	Index uint32
}

// String returns the outpoint as "<hash>-<index>".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s-%d", o.Hash, o.Index)
}

// IsZero returns true if the outpoint is the zero value.
func (o Outpoint) IsZero() bool {
	return o == Outpoint{}
}

// Bytes returns the 36 byte encoding: hash followed by the little-endian index.
func (o Outpoint) Bytes() []byte {
	b := make([]byte, 0, chainhash.HashSize+4)
	b = append(b, o.Hash[:]...)

	return binary.LittleEndian.AppendUint32(b, o.Index)
}

// Compare returns an integer comparing two outpoints by hash bytes then index.
func (o Outpoint) Compare(other Outpoint) int {
	if c := bytes.Compare(o.Hash[:], other.Hash[:]); c != 0 {
		return c
	}

	switch {
	case o.Index < other.Index:
		return -1
	case o.Index > other.Index:
		return 1
	default:
		return 0
	}
}

func (o Outpoint) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outpoint) UnmarshalText(b []byte) error {
	op, err := ParseOutpoint(string(b))
	if err != nil {
		return err
	}
	*o = op

	return nil
}

// ParseOutpoint parses an outpoint from "<hash>-<index>".
func ParseOutpoint(s string) (Outpoint, error) {
	hashStr, idxStr, ok := strings.Cut(s, "-")
	if !ok {
		return Outpoint{}, errors.New("invalid outpoint format", z.Str("outpoint", s))
	}

	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return Outpoint{}, errors.Wrap(err, "parse outpoint hash", z.Str("outpoint", s))
	}

	idx, err := strconv.ParseUint(idxStr, 10, 32)
	if err != nil {
		return Outpoint{}, errors.Wrap(err, "parse outpoint index", z.Str("outpoint", s))
	}

	return Outpoint{Hash: *hash, Index: uint32(idx)}, nil
}

// CollateralKind enumerates the kinds of node collateral.
type CollateralKind int

const (
	CollateralUnknown CollateralKind = 0
	CollateralBurn    CollateralKind = 1
)

func (k CollateralKind) String() string {
	if k == CollateralBurn {
		return "burn"
	}

	return "unknown"
}

// Collateral is the collateral backing a node. BurnCollateral is the only kind.
type Collateral interface {
	Kind() CollateralKind
	Value() Amount
	isCollateral()
}

// BurnCollateral is collateral provably destroyed by a burn transaction.
type BurnCollateral struct {
	Amount Amount
}

func (BurnCollateral) Kind() CollateralKind { return CollateralBurn }
func (c BurnCollateral) Value() Amount      { return c.Amount }
func (BurnCollateral) isCollateral()        {}

// NewCollateral returns the collateral of the provided kind.
func NewCollateral(kind CollateralKind, amount Amount) (Collateral, error) {
	if kind != CollateralBurn {
		return nil, errors.New("unsupported collateral kind", z.Int("kind", int(kind)))
	}

	return BurnCollateral{Amount: amount}, nil
}

// NodeRecord is a confirmed or staged collateralized node.
type NodeRecord struct {
	Outpoint           Outpoint
	Tier               Tier
	RegistrationHeight int64
	ExpiryHeight       int64
	Collateral         Collateral
	CollateralAddress  string
	OwnerScript        []byte
	BackupAddress      string
	MetadataID         string
	LastPaidHeight     int64
	Rank               int
}

// LiveAt returns true if the node is registered and not yet expired at the height.
func (r NodeRecord) LiveAt(height int64) bool {
	return r.RegistrationHeight <= height && height <= r.ExpiryHeight
}

// Verify returns an error if the record violates its invariants.
func (r NodeRecord) Verify() error {
	if r.Outpoint.IsZero() {
		return errors.New("zero outpoint")
	} else if !r.Tier.Valid() {
		return errors.New("invalid tier", z.Int("tier", int(r.Tier)))
	} else if r.ExpiryHeight <= r.RegistrationHeight {
		return errors.New("expiry not after registration",
			z.I64("registration", r.RegistrationHeight), z.I64("expiry", r.ExpiryHeight))
	}

	return nil
}

// MetadataIDFor returns the metadata directory identifier of a node.
func MetadataIDFor(collateralAddress string, op Outpoint) string {
	s := op.String()
	if len(s) > 16 {
		s = s[:16]
	}

	return collateralAddress + "-" + s
}

// recordJSON is the json encoding of a NodeRecord.
type recordJSON struct {
	Outpoint           Outpoint       `json:"outpoint"`
	Tier               Tier           `json:"tier"`
	RegistrationHeight int64          `json:"registration_height"`
	ExpiryHeight       int64          `json:"expiry_height"`
	CollateralKind     CollateralKind `json:"collateral_kind"`
	CollateralAmount   Amount         `json:"collateral_amount"`
	CollateralAddress  string         `json:"collateral_address"`
	OwnerScript        []byte         `json:"owner_script"`
	BackupAddress      string         `json:"backup_address,omitempty"`
	MetadataID         string         `json:"metadata_id"`
	LastPaidHeight     int64          `json:"last_paid_height"`
	Rank               int            `json:"rank"`
}

func (r NodeRecord) MarshalJSON() ([]byte, error) {
	resp := recordJSON{
		Outpoint:           r.Outpoint,
		Tier:               r.Tier,
		RegistrationHeight: r.RegistrationHeight,
		ExpiryHeight:       r.ExpiryHeight,
		CollateralAddress:  r.CollateralAddress,
		OwnerScript:        r.OwnerScript,
		BackupAddress:      r.BackupAddress,
		MetadataID:         r.MetadataID,
		LastPaidHeight:     r.LastPaidHeight,
		Rank:               r.Rank,
	}
	if r.Collateral != nil {
		resp.CollateralKind = r.Collateral.Kind()
		resp.CollateralAmount = r.Collateral.Value()
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal node record")
	}

	return b, nil
}

func (r *NodeRecord) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "unmarshal node record")
	}

	collateral, err := NewCollateral(raw.CollateralKind, raw.CollateralAmount)
	if err != nil {
		return err
	}

	*r = NodeRecord{
		Outpoint:           raw.Outpoint,
		Tier:               raw.Tier,
		RegistrationHeight: raw.RegistrationHeight,
		ExpiryHeight:       raw.ExpiryHeight,
		Collateral:         collateral,
		CollateralAddress:  raw.CollateralAddress,
		OwnerScript:        raw.OwnerScript,
		BackupAddress:      raw.BackupAddress,
		MetadataID:         raw.MetadataID,
		LastPaidHeight:     raw.LastPaidHeight,
		Rank:               raw.Rank,
	}

	return nil
}

// Window is a statement window: a run of Size heights starting at Start.
type Window struct {
	Start int64 `json:"start"`
	Size  int64 `json:"size"`
}

// End returns the first height after the window.
func (w Window) End() int64 {
	return w.Start + w.Size
}

// Contains returns true if the height is within the window.
func (w Window) Contains(height int64) bool {
	return w.Start <= height && height < w.End()
}

// TxIn is a transaction input with its resolved previous output script.
type TxIn struct {
	PrevOut    Outpoint
	PrevScript []byte
}

// TxOut is a transaction output.
type TxOut struct {
	Value  Amount
	Script []byte
}

// Tx is a base chain transaction.
type Tx struct {
	Hash    Hash
	Inputs  []TxIn
	Outputs []TxOut
}

// Block is a base chain block.
type Block struct {
	Height int64
	Hash   Hash
	Txs    []Tx
}

// Meta is a metadata directory entry of a node.
type Meta struct {
	// PubKey is the 33 byte compressed secp256k1 node key.
	PubKey []byte
	// Addr is the node's multiaddr used for liveness checks.
	Addr string
	// Height is the height of the last metadata update.
	Height int64
	// History contains prior keys, oldest first, including the current key.
	History []MetaKey
}

// MetaKey is a historical metadata public key.
type MetaKey struct {
	PubKey []byte
	Height int64
}
