// Package bitcoinrpc wraps the Bitcoin Core JSON-RPC client surface the
// facade needs: chain info, raw transaction lookups, UTXO listing, fee
// estimation, and broadcast, per SPEC_FULL.md §6.A.
package bitcoinrpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Config holds the RPC endpoint and credentials for a Bitcoin Core node.
type Config struct {
	Host         string
	User         string
	Pass         string
	DisableTLS   bool
	HTTPPostMode bool
}

// Client wraps rpcclient.Client with the narrow operation set BitStable
// needs, so the facade and tests can depend on an interface instead of the
// concrete btcd client.
type Client struct {
	rpc *rpcclient.Client
}

// Dial connects to a Bitcoin Core node at cfg's host with cfg's credentials
// and TLS setting, always in HTTP POST mode; cfg.HTTPPostMode is not read.
func Dial(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: dial: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// BlockchainInfo is the subset of getblockchaininfo BitStable consumes.
type BlockchainInfo struct {
	Chain  string
	Blocks int64
}

// GetBlockchainInfo returns the node's current chain and tip height.
func (c *Client) GetBlockchainInfo() (*BlockchainInfo, error) {
	info, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: getblockchaininfo: %w", err)
	}
	return &BlockchainInfo{Chain: info.Chain, Blocks: info.Blocks}, nil
}

// RawTransactionInfo is the subset of getrawtransaction (verbose) BitStable
// consumes to confirm escrow funding.
type RawTransactionInfo struct {
	Txid          string
	Confirmations uint64
	Vout          []TxOut
}

// TxOut is one transaction output's value and script.
type TxOut struct {
	ValueSats int64
	PkScript  []byte
}

// GetRawTransactionInfo fetches a transaction's outputs and confirmation
// depth, used by fund_vault_escrow to verify on-chain funding.
func (c *Client) GetRawTransactionInfo(txid chainhash.Hash) (*RawTransactionInfo, error) {
	verbose, err := c.rpc.GetRawTransactionVerbose(&txid)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: getrawtransaction: %w", err)
	}
	outs := make([]TxOut, len(verbose.Vout))
	for i, vout := range verbose.Vout {
		script, decodeErr := hexDecode(vout.ScriptPubKey.Hex)
		if decodeErr != nil {
			return nil, fmt.Errorf("bitcoinrpc: decode scriptPubKey: %w", decodeErr)
		}
		outs[i] = TxOut{
			ValueSats: int64(vout.Value * 1e8),
			PkScript:  script,
		}
	}
	return &RawTransactionInfo{
		Txid:          verbose.Txid,
		Confirmations: uint64(verbose.Confirmations),
		Vout:          outs,
	}, nil
}

// ListUnspent returns the node wallet's unspent outputs. No code in this
// repository calls it; the transaction builders do not gather fee inputs.
func (c *Client) ListUnspent() ([]btcjson.ListUnspentResult, error) {
	unspent, err := c.rpc.ListUnspent()
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: listunspent: %w", err)
	}
	return unspent, nil
}

// EstimateSmartFee estimates the fee rate needed for confirmation within
// targetBlocks, returned as the node reports it (BTC/kvB).
func (c *Client) EstimateSmartFee(targetBlocks int64) (float64, error) {
	result, err := c.rpc.EstimateSmartFee(targetBlocks, nil)
	if err != nil {
		return 0, fmt.Errorf("bitcoinrpc: estimatesmartfee: %w", err)
	}
	if result.FeeRate == nil {
		return 0, fmt.Errorf("bitcoinrpc: no fee estimate available for %d blocks", targetBlocks)
	}
	return *result.FeeRate, nil
}

// SendRawTransaction broadcasts tx and returns its txid.
func (c *Client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	hash, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: sendrawtransaction: %w", err)
	}
	return hash, nil
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
