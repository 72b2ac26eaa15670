package custody

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"bitstable/vault"
)

// rbfSequence marks an input as replace-by-fee eligible per BIP-125 (any
// sequence below 0xfffffffe).
const rbfSequence = wire.MaxTxInSequenceNum - 2

var errNoRemainder = errors.New("custody: no positive remainder to pay the owner")

// PendingTransaction wraps a constructed transaction together with the
// bookkeeping the facade needs to hand it to the Bitcoin node client and
// mark it pending, per §4.2's "broadcast hand-off".
type PendingTransaction struct {
	Tx           *wire.MsgTx
	PrevOutValue int64
	PrevOutPkScript []byte
	Broadcast    bool
}

// BuildLiquidationTx constructs the liquidation transaction spending the
// escrow's funding UTXO, per §4.2:
//   - input: the escrow UTXO, RBF-enabled.
//   - output 1: liquidator receives seizedSats.
//   - output 2: protocol fee = 1% of debtBTC in sats, omitted if zero.
//   - output 3: remainder (if positive) back to the owner.
func (m *Manager) BuildLiquidationTx(id vault.ID, liquidatorPkScript, ownerPkScript, protocolPkScript []byte, seizedSats uint64, debtBTC float64) (*PendingTransaction, error) {
	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.Funded {
		return nil, ErrNotFunded
	}

	txid, err := chainhash.NewHashFromStr(e.FundingTxid)
	if err != nil {
		return nil, fmt.Errorf("custody: parsing funding txid: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(wire.NewOutPoint(txid, e.FundingVout), nil, nil)
	in.Sequence = rbfSequence
	tx.AddTxIn(in)

	if seizedSats > e.CollateralAmountSats {
		seizedSats = e.CollateralAmountSats
	}
	tx.AddTxOut(wire.NewTxOut(int64(seizedSats), liquidatorPkScript))

	protocolFeeSats := uint64(debtBTC * protocolFeeRate * 1e8)
	if protocolFeeSats > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(protocolFeeSats), protocolPkScript))
	}

	spent := seizedSats + protocolFeeSats
	if e.CollateralAmountSats > spent {
		remainder := e.CollateralAmountSats - spent
		tx.AddTxOut(wire.NewTxOut(int64(remainder), ownerPkScript))
	}

	prevOutScript, err := escrowPkScript(e, m.params)
	if err != nil {
		return nil, err
	}
	return &PendingTransaction{
		Tx:              tx,
		PrevOutValue:    int64(e.CollateralAmountSats),
		PrevOutPkScript: prevOutScript,
	}, nil
}

// BuildClosureTx constructs the closure transaction: one input, one output
// paying the owner collateral - closureFeeSats, per §4.2.
func (m *Manager) BuildClosureTx(id vault.ID, ownerPkScript []byte) (*PendingTransaction, error) {
	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.Funded {
		return nil, ErrNotFunded
	}
	if e.CollateralAmountSats <= closureFeeSats {
		return nil, errNoRemainder
	}

	txid, err := chainhash.NewHashFromStr(e.FundingTxid)
	if err != nil {
		return nil, fmt.Errorf("custody: parsing funding txid: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(txid, e.FundingVout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(e.CollateralAmountSats-closureFeeSats), ownerPkScript))

	prevOutScript, err := escrowPkScript(e, m.params)
	if err != nil {
		return nil, err
	}
	return &PendingTransaction{
		Tx:              tx,
		PrevOutValue:    int64(e.CollateralAmountSats),
		PrevOutPkScript: prevOutScript,
	}, nil
}

func escrowPkScript(e *Escrow, params *chaincfg.Params) ([]byte, error) {
	addr, err := p2wshAddress(e.RedeemScript, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// SignProtocolSlot fills the protocol's signature into the witness stack for
// a pending transaction's single input, computing a BIP-143 P2WSH sighash
// over the redeem script and the recorded prevout value. The owner's slot is
// left nil for the caller to fill, per §4.2's "owner's slot is filled by the
// caller".
func (m *Manager) SignProtocolSlot(pending *PendingTransaction, escrow *Escrow, protocolKey *btcec.PrivateKey) error {
	sigHashes := txscript.NewTxSigHashes(pending.Tx, txscript.NewCannedPrevOutputFetcher(pending.PrevOutPkScript, pending.PrevOutValue))
	sigHash, err := txscript.CalcWitnessSigHash(escrow.RedeemScript, sigHashes, txscript.SigHashAll, pending.Tx, 0, pending.PrevOutValue)
	if err != nil {
		return fmt.Errorf("custody: computing witness sighash: %w", err)
	}

	sig := ecdsa.Sign(protocolKey, sigHash)
	sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

	pending.Tx.TxIn[0].Witness = wire.TxWitness{
		nil, // OP_0
		sigBytes,
		nil, // owner signature slot, filled by the caller
		escrow.RedeemScript,
	}
	return nil
}

// FillOwnerSlot fills the owner's signature into witness index 2 of an
// already protocol-signed pending transaction.
func FillOwnerSlot(pending *PendingTransaction, ownerSig []byte) error {
	if len(pending.Tx.TxIn) == 0 || len(pending.Tx.TxIn[0].Witness) < 4 {
		return errors.New("custody: transaction is not protocol-signed yet")
	}
	pending.Tx.TxIn[0].Witness[2] = ownerSig
	return nil
}

// BuildAnchorTx constructs a transaction with a single OP_RETURN output
// carrying `merkle_root || block_height || system_cr` as ASCII, spending
// fundingUTXO and returning any change to changePkScript, per §6.A's
// proof-of-reserves anchor.
func BuildAnchorTx(fundingTxid chainhash.Hash, fundingVout uint32, fundingSats int64, changePkScript []byte, merkleRoot string, blockHeight uint64, systemCR float64) (*wire.MsgTx, error) {
	payload := fmt.Sprintf("%s|%d|%.8f", merkleRoot, blockHeight, systemCR)
	if len(payload) > txscript.MaxDataCarrierSize {
		return nil, fmt.Errorf("custody: anchor payload exceeds OP_RETURN size limit")
	}

	opReturnScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData([]byte(payload)).
		Script()
	if err != nil {
		return nil, fmt.Errorf("custody: building OP_RETURN script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingTxid, fundingVout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))

	const anchorFeeSats = 1000
	if fundingSats > anchorFeeSats {
		tx.AddTxOut(wire.NewTxOut(fundingSats-anchorFeeSats, changePkScript))
	}
	return tx, nil
}
