package storage

import (
	"encoding/hex"
	"encoding/json"

	"bitstable/custody"
	"bitstable/vault"
)

// VaultStore adapts Store to vault.Store, persisting each vault as JSON
// under its hex-encoded id in the "vaults" tree.
type VaultStore struct {
	store *Store
}

// NewVaultStore wraps store as a vault.Store.
func NewVaultStore(store *Store) *VaultStore {
	return &VaultStore{store: store}
}

func vaultKey(id vault.ID) string {
	return hex.EncodeToString(id[:])
}

// GetVault implements vault.Store.
func (s *VaultStore) GetVault(id vault.ID) (*vault.Vault, error) {
	var v vault.Vault
	if err := s.store.Get(TreeVaults, vaultKey(id), &v); err != nil {
		if err == ErrNotFound {
			return nil, vault.ErrVaultNotFound
		}
		return nil, err
	}
	return &v, nil
}

// PutVault implements vault.Store.
func (s *VaultStore) PutVault(v *vault.Vault) error {
	return s.store.Put(TreeVaults, vaultKey(v.ID), v)
}

// ListVaults implements vault.Store.
func (s *VaultStore) ListVaults() ([]*vault.Vault, error) {
	var out []*vault.Vault
	err := s.store.ForEach(TreeVaults, func(_ string, data []byte) error {
		v := &vault.Vault{}
		if err := json.Unmarshal(data, v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// DeleteVault implements vault.Store.
func (s *VaultStore) DeleteVault(id vault.ID) error {
	return s.store.Delete(TreeVaults, vaultKey(id))
}

// EscrowStore adapts Store to custody.Store, persisting escrows under the
// "settlements" tree (escrows are the custody side of a settlement).
type EscrowStore struct {
	store *Store
}

// NewEscrowStore wraps store as a custody.Store.
func NewEscrowStore(store *Store) *EscrowStore {
	return &EscrowStore{store: store}
}

// GetEscrow implements custody.Store.
func (s *EscrowStore) GetEscrow(id vault.ID) (*custody.Escrow, error) {
	var e custody.Escrow
	if err := s.store.Get(TreeSettlements, vaultKey(id), &e); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// PutEscrow implements custody.Store.
func (s *EscrowStore) PutEscrow(e *custody.Escrow) error {
	return s.store.Put(TreeSettlements, vaultKey(e.VaultID), e)
}
