// Package facade implements the protocol facade (C12): the single
// transactional coordinator composing the oracle, custody, vault, ledger,
// liquidation, redemption, stability pool, stability controller, and
// proof-of-reserves components behind four primary entry points, per §4.10.
//
// Within one facade call the ordering price-fetch, CR check, state
// mutation, on-chain broadcast is strictly sequential; the facade itself
// is the only place that sees more than one component at a time.
package facade

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"bitstable/bitcoinrpc"
	"bitstable/controller"
	"bitstable/currency"
	"bitstable/custody"
	"bitstable/ledger"
	"bitstable/liquidation"
	"bitstable/observability"
	"bitstable/oracle"
	"bitstable/redemption"
	"bitstable/reserves"
	"bitstable/stabilitypool"
	"bitstable/storage"
	"bitstable/vault"
)

// Facade is the C12 protocol facade. A nil BitcoinClient is valid: on-chain
// verification/broadcast steps are then skipped, matching SPEC_FULL.md's
// optional Bitcoin node client.
type Facade struct {
	Vaults        *vault.Manager
	Custody       *custody.Manager
	Oracle        *oracle.Aggregator
	Registry      *currency.Registry
	Ledger        *ledger.Ledger
	Liquidations  *liquidation.Engine
	Redemptions   *redemption.Engine
	Pool          *stabilitypool.Pool
	Controllers   *controller.PortfolioManager
	Reserves      *reserves.System
	BitcoinClient *bitcoinrpc.Client   // optional
	ProtocolKey   *btcec.PrivateKey    // optional; signs the protocol witness slot before broadcast
	Audit         *storage.AuditMirror // optional; mirrors mutating entry points for operator queries

	pending map[string]*custody.PendingTransaction
}

// New wires every C3-C11 component into one facade. audit is optional: a nil
// mirror leaves vault/liquidation/redemption events unrecorded, matching the
// nil-BitcoinClient pattern for optional facade dependencies.
func New(
	vaults *vault.Manager,
	custodyMgr *custody.Manager,
	agg *oracle.Aggregator,
	registry *currency.Registry,
	stableLedger *ledger.Ledger,
	liquidations *liquidation.Engine,
	redemptions *redemption.Engine,
	pool *stabilitypool.Pool,
	controllers *controller.PortfolioManager,
	reserveSystem *reserves.System,
	btc *bitcoinrpc.Client,
	audit *storage.AuditMirror,
) *Facade {
	return &Facade{
		Vaults:        vaults,
		Custody:       custodyMgr,
		Oracle:        agg,
		Registry:      registry,
		Ledger:        stableLedger,
		Liquidations:  liquidations,
		Redemptions:   redemptions,
		Pool:          pool,
		Controllers:   controllers,
		Reserves:      reserveSystem,
		BitcoinClient: btc,
		Audit:         audit,
		pending:       map[string]*custody.PendingTransaction{},
	}
}

// SetProtocolKey wires the protocol's own signing key, used to fill the
// protocol witness slot on liquidation/closure transactions before
// broadcast. A nil key (the default) leaves that slot unsigned, matching
// §4.2's "owner's slot is filled by the caller" when the facade has no
// operator-held key to sign with.
func (f *Facade) SetProtocolKey(key *btcec.PrivateKey) {
	f.ProtocolKey = key
}

func holderKey(pubKey []byte) string {
	return hex.EncodeToString(pubKey)
}

func pendingKey(id vault.ID) string {
	return hex.EncodeToString(id[:])
}

// worstCurrency returns the debt currency with the lowest per-currency
// collateral ratio, the one execute-time seizure math is run against when a
// caller names no currency explicitly.
func worstCurrency(v *vault.Vault, rates *currency.Table, registry *currency.Registry) (currency.Code, error) {
	var (
		worst   currency.Code
		worstCR = -1.0
		haveAny bool
	)
	for _, c := range v.Debts.Currencies() {
		if _, ok := registry.Get(c); !ok {
			continue
		}
		ratio, err := v.CollateralRatio(c, rates)
		if err != nil {
			return "", err
		}
		if !haveAny || ratio < worstCR {
			worst, worstCR, haveAny = c, ratio, true
		}
	}
	if !haveAny {
		return "", fmt.Errorf("facade: vault %x carries no registered debt currency", v.ID)
	}
	return worst, nil
}

// OpenVault is the primary C12 entry point: fetch consensus price (C3), C5
// creates the vault, C4 creates the escrow at liquidation_threshold_price =
// price * liquidation_threshold, and C6 mints the initial stable balance.
func (f *Facade) OpenVault(ctx context.Context, owner, delegate1, delegate2 []byte, collateralSats uint64, amount float64, c currency.Code) (*vault.Vault, *custody.Escrow, error) {
	start := time.Now()
	metrics := observability.FacadeMetrics()

	rates, err := f.Oracle.GetConsensusPrices(ctx)
	if err != nil {
		metrics.ObserveOracleRound("rejected")
		metrics.ObserveVaultOp("open", "error", time.Since(start))
		return nil, nil, fmt.Errorf("facade: open_vault: consensus price: %w", err)
	}
	metrics.ObserveOracleRound("accepted")

	v, err := f.Vaults.CreateVault(owner, collateralSats, c, amount, rates)
	if err != nil {
		metrics.ObserveVaultOp("open", "error", time.Since(start))
		return nil, nil, fmt.Errorf("facade: open_vault: create vault: %w", err)
	}

	cfg, err := f.Registry.MustEnabled(c)
	if err != nil {
		metrics.ObserveVaultOp("open", "error", time.Since(start))
		return nil, nil, err
	}
	btcPrice, err := rates.BTCPriceIn(c)
	if err != nil {
		metrics.ObserveVaultOp("open", "error", time.Since(start))
		return nil, nil, err
	}
	liquidationThresholdPrice := btcPrice * cfg.LiquidationThreshold

	escrow, err := f.Custody.CreateEscrow(v.ID, owner, delegate1, delegate2, collateralSats, liquidationThresholdPrice)
	if err != nil {
		metrics.ObserveVaultOp("open", "error", time.Since(start))
		return nil, nil, fmt.Errorf("facade: open_vault: create escrow: %w", err)
	}

	if f.Ledger != nil {
		f.Ledger.Mint(holderKey(owner), c, amount, v.ID, time.Now().UTC())
	}

	if f.Audit != nil {
		if err := f.Audit.RecordVaultEvent(pendingKey(v.ID), "open", string(c), amount, btcPrice, time.Now().UTC()); err != nil {
			metrics.ObserveVaultOp("open", "error", time.Since(start))
			return nil, nil, fmt.Errorf("facade: open_vault: audit: %w", err)
		}
	}

	metrics.ObserveVaultOp("open", "ok", time.Since(start))
	return v, escrow, nil
}

// FundVaultEscrow is the primary C12 entry point for recording on-chain
// funding. When a Bitcoin client is configured, the output value is
// verified on-chain before C4 records the funding.
func (f *Facade) FundVaultEscrow(ctx context.Context, id vault.ID, txid string, vout uint32, amountSats uint64) (*custody.Escrow, error) {
	metrics := observability.FacadeMetrics()
	start := time.Now()
	if f.BitcoinClient != nil {
		hash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			metrics.ObserveVaultOp("fund", "error", time.Since(start))
			return nil, fmt.Errorf("facade: fund_vault_escrow: parse txid: %w", err)
		}
		info, err := f.BitcoinClient.GetRawTransactionInfo(*hash)
		if err != nil {
			metrics.ObserveVaultOp("fund", "error", time.Since(start))
			return nil, fmt.Errorf("facade: fund_vault_escrow: verify on-chain: %w", err)
		}
		if int(vout) >= len(info.Vout) {
			metrics.ObserveVaultOp("fund", "error", time.Since(start))
			return nil, fmt.Errorf("facade: fund_vault_escrow: vout %d out of range", vout)
		}
		if uint64(info.Vout[vout].ValueSats) < amountSats {
			metrics.ObserveVaultOp("fund", "error", time.Since(start))
			return nil, fmt.Errorf("facade: fund_vault_escrow: on-chain output %d sats below claimed %d sats", info.Vout[vout].ValueSats, amountSats)
		}
	}

	escrow, err := f.Custody.VerifyFunding(id, txid, vout, amountSats)
	if err != nil {
		metrics.ObserveVaultOp("fund", "error", time.Since(start))
		return nil, fmt.Errorf("facade: fund_vault_escrow: %w", err)
	}
	metrics.ObserveVaultOp("fund", "ok", time.Since(start))
	return escrow, nil
}

// LiquidateVault is the primary C12 entry point: fetch price, confirm C4/C5
// eligibility, C5 transitions state, C4 builds and signs the liquidation
// tx, and (if a Bitcoin client is configured) broadcasts it.
func (f *Facade) LiquidateVault(ctx context.Context, id vault.ID, liquidator, liquidatorPkScript, ownerPkScript, protocolPkScript []byte) (*vault.Vault, *custody.PendingTransaction, error) {
	start := time.Now()
	metrics := observability.FacadeMetrics()
	var c currency.Code

	fail := func(err error) (*vault.Vault, *custody.PendingTransaction, error) {
		metrics.ObserveVaultOp("liquidate", "error", time.Since(start))
		if c != "" {
			metrics.ObserveLiquidation(string(c), "error")
		}
		return nil, nil, err
	}

	rates, err := f.Oracle.GetConsensusPrices(ctx)
	if err != nil {
		metrics.ObserveOracleRound("rejected")
		return fail(fmt.Errorf("facade: liquidate_vault: consensus price: %w", err))
	}
	metrics.ObserveOracleRound("accepted")

	v, err := f.Vaults.Get(id)
	if err != nil {
		return fail(err)
	}

	escrow, err := f.Custody.Get(id)
	if err != nil {
		return fail(fmt.Errorf("facade: liquidate_vault: escrow lookup: %w", err))
	}
	if !escrow.Funded {
		return fail(fmt.Errorf("facade: liquidate_vault: escrow for vault %x is unfunded", id))
	}

	c, err = worstCurrency(v, rates, f.Registry)
	if err != nil {
		return fail(err)
	}

	record, err := f.Liquidations.Execute(v, c, liquidator, rates)
	if err != nil {
		return fail(fmt.Errorf("facade: liquidate_vault: execute: %w", err))
	}

	updated, err := f.Vaults.LiquidateVault(id, liquidator, rates)
	if err != nil {
		return fail(fmt.Errorf("facade: liquidate_vault: transition: %w", err))
	}

	seizedSats := uint64(record.Seized * 1e8)
	pending, err := f.Custody.BuildLiquidationTx(id, liquidatorPkScript, ownerPkScript, protocolPkScript, seizedSats, record.DebtCovered)
	if err != nil {
		return fail(fmt.Errorf("facade: liquidate_vault: build tx: %w", err))
	}

	if f.ProtocolKey != nil {
		if err := f.Custody.SignProtocolSlot(pending, escrow, f.ProtocolKey); err != nil {
			return fail(fmt.Errorf("facade: liquidate_vault: sign protocol slot: %w", err))
		}
	}

	if f.BitcoinClient != nil {
		txHash, err := f.BitcoinClient.SendRawTransaction(pending.Tx)
		if err != nil {
			metrics.ObserveBroadcast("liquidation", "error")
			return fail(fmt.Errorf("facade: liquidate_vault: broadcast: %w", err))
		}
		_ = txHash
		pending.Broadcast = true
		metrics.ObserveBroadcast("liquidation", "ok")
	}
	f.pending[pendingKey(id)] = pending

	if f.Audit != nil {
		if err := f.Audit.RecordLiquidation(pendingKey(id), holderKey(liquidator), record.Seized, record.Bonus, time.Now().UTC()); err != nil {
			return fail(fmt.Errorf("facade: liquidate_vault: audit: %w", err))
		}
	}

	metrics.ObserveLiquidation(string(c), "ok")
	metrics.ObserveVaultOp("liquidate", "ok", time.Since(start))
	return updated, pending, nil
}

// CloseVault is the primary C12 entry point: C5 closes the vault, C4 builds
// the closure transaction, and (if a Bitcoin client is configured) it is
// broadcast.
func (f *Facade) CloseVault(ctx context.Context, id vault.ID, owner, ownerPkScript []byte) (*custody.PendingTransaction, error) {
	start := time.Now()
	metrics := observability.FacadeMetrics()

	if _, err := f.Vaults.CloseVault(id, owner); err != nil {
		metrics.ObserveVaultOp("close", "error", time.Since(start))
		return nil, fmt.Errorf("facade: close_vault: %w", err)
	}

	pending, err := f.Custody.BuildClosureTx(id, ownerPkScript)
	if err != nil {
		metrics.ObserveVaultOp("close", "error", time.Since(start))
		return nil, fmt.Errorf("facade: close_vault: build tx: %w", err)
	}

	if f.ProtocolKey != nil {
		escrow, err := f.Custody.Get(id)
		if err != nil {
			metrics.ObserveVaultOp("close", "error", time.Since(start))
			return nil, fmt.Errorf("facade: close_vault: escrow lookup: %w", err)
		}
		if err := f.Custody.SignProtocolSlot(pending, escrow, f.ProtocolKey); err != nil {
			metrics.ObserveVaultOp("close", "error", time.Since(start))
			return nil, fmt.Errorf("facade: close_vault: sign protocol slot: %w", err)
		}
	}

	if f.BitcoinClient != nil {
		if _, err := f.BitcoinClient.SendRawTransaction(pending.Tx); err != nil {
			metrics.ObserveBroadcast("closure", "error")
			metrics.ObserveVaultOp("close", "error", time.Since(start))
			return nil, fmt.Errorf("facade: close_vault: broadcast: %w", err)
		}
		pending.Broadcast = true
		metrics.ObserveBroadcast("closure", "ok")
	}
	f.pending[pendingKey(id)] = pending

	metrics.ObserveVaultOp("close", "ok", time.Since(start))
	return pending, nil
}

// PendingTransactionFor returns the most recently built pending transaction
// for id, if any, and whether it has been broadcast.
func (f *Facade) PendingTransactionFor(id vault.ID) (*custody.PendingTransaction, bool) {
	p, ok := f.pending[pendingKey(id)]
	return p, ok
}

// Redeem composes oracle price discovery with the redemption engine and
// ledger, satisfying a direct BTC-for-stable swap (C8) against the
// lowest-CR vault in the requested currency and burning the redeemer's
// ledger balance by the same amount.
func (f *Facade) Redeem(ctx context.Context, redeemer []byte, c currency.Code, stableAmount float64) (*redemption.Record, error) {
	metrics := observability.FacadeMetrics()

	rates, err := f.Oracle.GetConsensusPrices(ctx)
	if err != nil {
		metrics.ObserveOracleRound("rejected")
		metrics.ObserveRedemption(string(c), "error")
		return nil, fmt.Errorf("facade: redeem: consensus price: %w", err)
	}
	metrics.ObserveOracleRound("accepted")

	record, err := f.Redemptions.Redeem(redeemer, c, stableAmount, rates)
	if err != nil {
		metrics.ObserveRedemption(string(c), "error")
		return nil, fmt.Errorf("facade: redeem: %w", err)
	}
	if f.Ledger != nil {
		if _, err := f.Ledger.Burn(holderKey(redeemer), c, stableAmount); err != nil {
			metrics.ObserveRedemption(string(c), "error")
			return nil, fmt.Errorf("facade: redeem: ledger burn: %w", err)
		}
	}

	if f.Audit != nil {
		if err := f.Audit.RecordRedemption(pendingKey(record.VaultID), string(c), record.Stable, record.Fee, time.Now().UTC()); err != nil {
			metrics.ObserveRedemption(string(c), "error")
			return nil, fmt.Errorf("facade: redeem: audit: %w", err)
		}
	}

	metrics.ObserveRedemption(string(c), "ok")
	return record, nil
}

// AbsorbLiquidationIntoPool routes a completed liquidation's uncovered debt
// and seized collateral into the stability pool (C9) for pro-rata
// absorption by depositors.
func (f *Facade) AbsorbLiquidationIntoPool(id vault.ID, liquidatedDebt map[currency.Code]float64, collateralBTC float64, now time.Time) (*stabilitypool.Liquidation, error) {
	if f.Pool == nil {
		return nil, nil
	}
	return f.Pool.AbsorbLiquidation(pendingKey(id), liquidatedDebt, collateralBTC, now)
}

// RebalancePortfolios runs the stability controller (C10) across every
// registered holder and returns the resulting mint/burn intents.
func (f *Facade) RebalancePortfolios(balances map[string]controller.HolderBalance, rates *currency.Table) []controller.PendingAction {
	if f.Controllers == nil {
		return nil
	}
	return f.Controllers.ProcessRebalancing(balances, rates)
}

// GenerateReserveCommitment snapshots every vault under management,
// refreshes consensus prices, and builds a proof-of-reserves commitment
// (C11) over the snapshot. It does not build or broadcast an OP_RETURN
// anchor transaction for the Merkle root; the commitment's AnchorTxid stays
// empty unless set through reserves.System.SetAnchorTxid.
func (f *Facade) GenerateReserveCommitment(ctx context.Context, blockHeight uint64, now time.Time) (*reserves.Commitment, error) {
	vaults, err := f.Vaults.List()
	if err != nil {
		return nil, fmt.Errorf("facade: reserve commitment: list vaults: %w", err)
	}
	rates, err := f.Oracle.GetConsensusPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("facade: reserve commitment: consensus price: %w", err)
	}
	commitment, err := f.Reserves.GenerateCommitment(vaults, rates, blockHeight, now)
	if err != nil {
		return nil, err
	}
	observability.FacadeMetrics().SetReserveCR(commitment.SystemCR)
	return commitment, nil
}
