package custody

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"bitstable/vault"
)

type memStore struct {
	escrows map[vault.ID]*Escrow
}

func newMemStore() *memStore {
	return &memStore{escrows: map[vault.ID]*Escrow{}}
}

func (s *memStore) GetEscrow(id vault.ID) (*Escrow, error) {
	return s.escrows[id], nil
}

func (s *memStore) PutEscrow(e *Escrow) error {
	s.escrows[e.VaultID] = e
	return nil
}

func compressedKey(t *testing.T) []byte {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey().SerializeCompressed()
}

func TestCreateEscrowDerivesP2WSHAddress(t *testing.T) {
	m := NewManager(newMemStore(), &chaincfg.TestNet3Params, nil)
	var id vault.ID
	id[0] = 1

	e, err := m.CreateEscrow(id, compressedKey(t), compressedKey(t), compressedKey(t), 10_000_000, 90000)
	require.NoError(t, err)
	require.NotEmpty(t, e.MultisigAddress)
	require.NotEmpty(t, e.RedeemScript)
	require.False(t, e.Funded)
}

func TestVerifyFundingRejectsUnderfunded(t *testing.T) {
	m := NewManager(newMemStore(), &chaincfg.TestNet3Params, nil)
	var id vault.ID
	id[0] = 2

	_, err := m.CreateEscrow(id, compressedKey(t), compressedKey(t), compressedKey(t), 10_000_000, 90000)
	require.NoError(t, err)

	_, err = m.VerifyFunding(id, "aa", 0, 5_000_000)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestBuildClosureTxAppliesFixedFee(t *testing.T) {
	m := NewManager(newMemStore(), &chaincfg.TestNet3Params, nil)
	var id vault.ID
	id[0] = 3

	e, err := m.CreateEscrow(id, compressedKey(t), compressedKey(t), compressedKey(t), 10_000_000, 90000)
	require.NoError(t, err)

	funded, err := m.VerifyFunding(id, "11", 0, e.CollateralAmountSats)
	require.NoError(t, err)
	require.True(t, funded.Funded)

	ownerScript := []byte{0x00, 0x14}
	pending, err := m.BuildClosureTx(id, ownerScript)
	require.NoError(t, err)
	require.Len(t, pending.Tx.TxOut, 1)
	require.Equal(t, int64(10_000_000-closureFeeSats), pending.Tx.TxOut[0].Value)
}

func TestBuildLiquidationTxOrdersOutputs(t *testing.T) {
	m := NewManager(newMemStore(), &chaincfg.TestNet3Params, nil)
	var id vault.ID
	id[0] = 4

	e, err := m.CreateEscrow(id, compressedKey(t), compressedKey(t), compressedKey(t), 10_000_000, 90000)
	require.NoError(t, err)
	_, err = m.VerifyFunding(id, "22", 0, e.CollateralAmountSats)
	require.NoError(t, err)

	liqScript := []byte{0x00, 0x14, 0x01}
	protoScript := []byte{0x00, 0x14, 0x02}
	ownerScript := []byte{0x00, 0x14, 0x03}

	pending, err := m.BuildLiquidationTx(id, liqScript, ownerScript, protoScript, 9_000_000, 0.05)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(pending.Tx.TxOut), 2)
	require.Equal(t, int64(9_000_000), pending.Tx.TxOut[0].Value)
	require.True(t, pending.Tx.TxIn[0].Sequence < 0xfffffffe)
}

func TestBuildAnchorTxCarriesCommitmentPayload(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 7

	tx, err := BuildAnchorTx(txid, 0, 50_000, []byte{0x00, 0x14}, "deadbeef", 800000, 1.85)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)
	require.Zero(t, tx.TxOut[0].Value)
	require.Equal(t, int64(49_000), tx.TxOut[1].Value)
}

func TestBuildAnchorTxOmitsChangeWhenDust(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 8

	tx, err := BuildAnchorTx(txid, 0, 500, []byte{0x00, 0x14}, "deadbeef", 800000, 1.85)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
}
