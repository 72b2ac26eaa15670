// Package custody implements the Bitcoin custody layer (C4): 2-of-3
// multisig escrow creation, funding verification, and liquidation/closure
// transaction construction and signing.
package custody

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/btcutil"

	"bitstable/vault"
)

var (
	// ErrInsufficientCollateral is returned when a funding candidate's
	// value is below the escrow's recorded collateral amount.
	ErrInsufficientCollateral = errors.New("custody: funding amount below collateral_amount")
	// ErrAlreadyFunded is returned when a funding txid is already recorded.
	ErrAlreadyFunded = errors.New("custody: escrow already funded")
	// ErrNotFunded is returned when a transaction build requires a funded
	// escrow that has not yet recorded a funding output.
	ErrNotFunded = errors.New("custody: escrow has no recorded funding output")
	// ErrEscrowNotFound is returned when a lookup by vault id misses.
	ErrEscrowNotFound = errors.New("custody: escrow not found")
)

// protocolFeeRate is the fixed 1% of debt_btc protocol fee applied to
// liquidation transactions, per §4.2.
const protocolFeeRate = 0.01

// closureFeeSats is the fixed fee subtracted from the owner's payout on a
// closure transaction, per §4.2.
const closureFeeSats = 10_000

// Escrow is the per-vault 2-of-3 multisig escrow contract (C4).
type Escrow struct {
	VaultID                 vault.ID
	OwnerPubKey              []byte // 33-byte compressed secp256k1
	DelegatePubKey1          []byte
	DelegatePubKey2          []byte
	CollateralAmountSats     uint64
	RedeemScript             []byte
	MultisigAddress          string
	FundingTxid              string
	FundingVout              uint32
	Funded                   bool
	LiquidationThresholdPrice float64
	CreatedAt                time.Time
}

// Store is the narrow persistence shape the custody layer depends on.
type Store interface {
	GetEscrow(id vault.ID) (*Escrow, error)
	PutEscrow(e *Escrow) error
}

// Manager is the custody layer (C4). Like the vault manager it is
// single-writer; the facade serializes calls across component boundaries.
type Manager struct {
	store       Store
	params      *chaincfg.Params
	protocolKey *btcec.PublicKey
}

// NewManager constructs a custody manager for the given network. protocolKey
// is stored on the manager but not read by the transaction builders:
// BuildLiquidationTx takes the protocol-fee output script as a parameter.
func NewManager(store Store, params *chaincfg.Params, protocolKey *btcec.PublicKey) *Manager {
	return &Manager{store: store, params: params, protocolKey: protocolKey}
}

// buildRedeemScript constructs the canonical 2-of-3 multisig redeem script
// `<2> <pk1> <pk2> <pk3> <3> OP_CHECKMULTISIG` named in §6.A.
func buildRedeemScript(pk1, pk2, pk3 []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(pk1)
	builder.AddData(pk2)
	builder.AddData(pk3)
	builder.AddOp(txscript.OP_3)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// CreateEscrow builds the 2-of-3 witness script over {owner, delegate1,
// delegate2}, derives its segwit (P2WSH) address, and persists the contract
// with no on-chain action taken yet, per §4.2.
func (m *Manager) CreateEscrow(id vault.ID, ownerPub, delegate1, delegate2 []byte, collateralSats uint64, liquidationThresholdPrice float64) (*Escrow, error) {
	redeemScript, err := buildRedeemScript(ownerPub, delegate1, delegate2)
	if err != nil {
		return nil, fmt.Errorf("custody: building redeem script: %w", err)
	}
	addr, err := p2wshAddress(redeemScript, m.params)
	if err != nil {
		return nil, fmt.Errorf("custody: deriving multisig address: %w", err)
	}

	e := &Escrow{
		VaultID:                   id,
		OwnerPubKey:               append([]byte(nil), ownerPub...),
		DelegatePubKey1:           append([]byte(nil), delegate1...),
		DelegatePubKey2:           append([]byte(nil), delegate2...),
		CollateralAmountSats:      collateralSats,
		RedeemScript:              redeemScript,
		MultisigAddress:           addr.EncodeAddress(),
		LiquidationThresholdPrice: liquidationThresholdPrice,
		CreatedAt:                 time.Now().UTC(),
	}
	if err := m.store.PutEscrow(e); err != nil {
		return nil, err
	}
	return e, nil
}

func p2wshAddress(redeemScript []byte, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	hash := sha256Sum(redeemScript)
	return btcutil.NewAddressWitnessScriptHash(hash[:], params)
}

// Get returns the escrow for vault id.
func (m *Manager) Get(id vault.ID) (*Escrow, error) {
	e, err := m.store.GetEscrow(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrEscrowNotFound
	}
	return e, nil
}

// VerifyFunding accepts a candidate output as the escrow's funding UTXO only
// if amountSats is at least the escrow's recorded collateral amount.
func (m *Manager) VerifyFunding(id vault.ID, txid string, vout uint32, amountSats uint64) (*Escrow, error) {
	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Funded {
		return nil, ErrAlreadyFunded
	}
	if amountSats < e.CollateralAmountSats {
		return nil, ErrInsufficientCollateral
	}
	e.FundingTxid = txid
	e.FundingVout = vout
	e.Funded = true
	if err := m.store.PutEscrow(e); err != nil {
		return nil, err
	}
	return e, nil
}
