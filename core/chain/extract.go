// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package chain

import (
	"bytes"

	"github.com/obolnetwork/lockreward/core"
)

// Marker is a lock-reward marker output found in a block.
type Marker struct {
	TxHash  core.Hash
	Height  int64
	Payload string
	// SenderScript is the previous output script of the marker transaction's first input.
	SenderScript []byte
}

// ExtractNodeRecords returns the node registrations of the block. A registration is a
// burn of a tier collateral amount from a pay-to-pubkey-hash owner. An OP_RETURN output
// directly following the burn carries the optional backup address.
func ExtractNodeRecords(params core.Params, block core.Block) []core.NodeRecord {
	burn := BurnScript(params)

	var resp []core.NodeRecord
	for _, tx := range block.Txs {
		if len(tx.Inputs) == 0 {
			continue
		}

		owner := tx.Inputs[0].PrevScript
		keyID, ok := KeyID(owner)
		if !ok {
			continue
		}

		for i, out := range tx.Outputs {
			if !bytes.Equal(out.Script, burn) {
				continue
			}

			tier := params.TierForCollateral(out.Value)
			if tier == core.TierUnknown {
				continue
			}

			var backup string
			if i+1 < len(tx.Outputs) {
				backup, _ = nullData(tx.Outputs[i+1].Script)
			}

			op := core.Outpoint{Hash: tx.Hash, Index: uint32(i)}
			addr := Address(params, keyID)
			resp = append(resp, core.NodeRecord{
				Outpoint:           op,
				Tier:               tier,
				RegistrationHeight: block.Height,
				ExpiryHeight:       block.Height + params.Lifetime,
				Collateral:         core.BurnCollateral{Amount: out.Value},
				CollateralAddress:  addr,
				OwnerScript:        bytes.Clone(owner),
				BackupAddress:      backup,
				MetadataID:         core.MetadataIDFor(addr, op),
			})
		}
	}

	return resp
}

// ExtractMarkers returns the lock-reward marker outputs of the block.
func ExtractMarkers(params core.Params, block core.Block) []Marker {
	var resp []Marker
	for _, tx := range block.Txs {
		for _, out := range tx.Outputs {
			payload, ok := MarkerPayload(params, out.Script)
			if !ok {
				continue
			}

			var sender []byte
			if len(tx.Inputs) > 0 {
				sender = tx.Inputs[0].PrevScript
			}

			resp = append(resp, Marker{
				TxHash:       tx.Hash,
				Height:       block.Height,
				Payload:      payload,
				SenderScript: sender,
			})
		}
	}

	return resp
}
