// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package rpcchain adapts a base chain JSON-RPC node to the chain and registrar interfaces.
package rpcchain

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/chain"
)

// Config is the JSON-RPC connection config.
type Config struct {
	Host string
	User string
	Pass string
	TLS  bool
}

// New returns a new JSON-RPC chain client.
func New(config Config, params core.Params) (*Client, error) {
	cl, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         config.Host,
		User:         config.User,
		Pass:         config.Pass,
		HTTPPostMode: true,
		DisableTLS:   !config.TLS,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new rpc client", z.Str("host", config.Host))
	}

	return &Client{cl: cl, params: params}, nil
}

// Client implements core.Chain and core.Registrar over JSON-RPC.
type Client struct {
	cl     *rpcclient.Client
	params core.Params
}

// TipHeight returns the height of the best block.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	height, err := c.cl.GetBlockCount()
	if err != nil {
		return 0, errors.Wrap(err, "get block count")
	}

	return height, nil
}

// BlockByHeight returns the block at the height. Only the first input of each transaction has
// its previous output script resolved since that identifies the sender.
func (c *Client) BlockByHeight(ctx context.Context, height int64) (core.Block, error) {
	if err := ctx.Err(); err != nil {
		return core.Block{}, err
	}

	hash, err := c.cl.GetBlockHash(height)
	if err != nil {
		return core.Block{}, errors.Wrap(err, "get block hash", z.I64("height", height))
	}

	block, err := c.cl.GetBlock(hash)
	if err != nil {
		return core.Block{}, errors.Wrap(err, "get block", z.I64("height", height))
	}

	resp := core.Block{Height: height, Hash: *hash}
	for _, tx := range block.Transactions {
		ctx := log.WithCtx(ctx, z.Str("tx", tx.TxHash().String()))

		resp.Txs = append(resp.Txs, c.toCoreTx(ctx, tx))
	}

	return resp, nil
}

func (c *Client) toCoreTx(ctx context.Context, tx *wire.MsgTx) core.Tx {
	resp := core.Tx{Hash: tx.TxHash()}

	for i, in := range tx.TxIn {
		coreIn := core.TxIn{PrevOut: core.Outpoint{
			Hash:  in.PreviousOutPoint.Hash,
			Index: in.PreviousOutPoint.Index,
		}}

		if i == 0 && !isCoinbase(in) {
			script, err := c.prevScript(in.PreviousOutPoint)
			if err != nil {
				log.Debug(ctx, "Previous output not resolved", z.Err(err))
			} else {
				coreIn.PrevScript = script
			}
		}

		resp.Inputs = append(resp.Inputs, coreIn)
	}

	for _, out := range tx.TxOut {
		resp.Outputs = append(resp.Outputs, core.TxOut{
			Value:  core.Amount(out.Value),
			Script: out.PkScript,
		})
	}

	return resp
}

func (c *Client) prevScript(op wire.OutPoint) ([]byte, error) {
	tx, err := c.cl.GetRawTransaction(&op.Hash)
	if err != nil {
		return nil, errors.Wrap(err, "get raw transaction")
	}

	outs := tx.MsgTx().TxOut
	if int(op.Index) >= len(outs) {
		return nil, errors.New("previous output index out of range")
	}

	return outs[op.Index].PkScript, nil
}

// Register funds, signs and sends a transaction paying the marker output carrying the registration.
func (c *Client) Register(ctx context.Context, reg core.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	script, err := chain.MarkerScript(c.params, reg.String())
	if err != nil {
		return err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(int64(c.params.MarkerValue), script))

	funded, err := c.cl.FundRawTransaction(tx, btcjson.FundRawTransactionOpts{}, nil)
	if err != nil {
		return errors.Wrap(err, "fund marker transaction")
	}

	signed, complete, err := c.cl.SignRawTransactionWithWallet(funded.Transaction)
	if err != nil {
		return errors.Wrap(err, "sign marker transaction")
	} else if !complete {
		return errors.New("marker transaction not fully signed")
	}

	txHash, err := c.cl.SendRawTransaction(signed, false)
	if err != nil {
		return errors.Wrap(err, "send marker transaction")
	}

	log.Info(ctx, "Lock-reward registration sent",
		z.Str("tx", txHash.String()), z.I64("reward_height", reg.RewardHeight))

	return nil
}

// Close shuts down the client.
func (c *Client) Close() {
	c.cl.Shutdown()
}

func isCoinbase(in *wire.TxIn) bool {
	return in.PreviousOutPoint.Index == wire.MaxPrevOutIndex && in.PreviousOutPoint.Hash == (chainhash.Hash{})
}
