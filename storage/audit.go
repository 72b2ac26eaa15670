package storage

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// VaultEvent is one row of the queryable audit mirror: every vault
// lifecycle mutation, denormalized for operator dashboards and incident
// review (the bbolt trees are the source of truth; this mirror is
// derivative and may be rebuilt from them).
type VaultEvent struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	VaultID   string    `gorm:"index;size:64"`
	Kind      string    `gorm:"size:32;index"`
	Currency  string    `gorm:"size:8"`
	Amount    float64
	Price     float64
	CreatedAt time.Time `gorm:"index"`
}

// LiquidationEvent mirrors one executed liquidation for audit queries.
type LiquidationEvent struct {
	ID          uuid.UUID `gorm:"type:text;primaryKey"`
	VaultID     string    `gorm:"index;size:64"`
	Liquidator  string    `gorm:"size:128;index"`
	SeizedBTC   float64
	BonusBTC    float64
	CreatedAt   time.Time `gorm:"index"`
}

// RedemptionEvent mirrors one completed redemption for audit queries.
type RedemptionEvent struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	VaultID   string    `gorm:"index;size:64"`
	Currency  string    `gorm:"size:8"`
	Stable    float64
	Fee       float64
	CreatedAt time.Time `gorm:"index"`
}

// AutoMigrate performs schema migration for the audit mirror.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&VaultEvent{}, &LiquidationEvent{}, &RedemptionEvent{})
}

// OpenSQLiteAudit opens (or creates) a sqlite-backed audit mirror at path,
// the default single-node deployment target.
func OpenSQLiteAudit(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenPostgresAudit opens the same audit mirror schema against a Postgres
// DSN, for operators running a clustered deployment where the mirror must
// survive the loss of any single node.
func OpenPostgresAudit(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AuditMirror records domain events into the gorm-backed mirror for
// operator querying, kept alongside (not instead of) the bbolt trees.
type AuditMirror struct {
	db *gorm.DB
}

// NewAuditMirror wraps an already-migrated *gorm.DB.
func NewAuditMirror(db *gorm.DB) *AuditMirror {
	return &AuditMirror{db: db}
}

// RecordVaultEvent appends one vault lifecycle row.
func (m *AuditMirror) RecordVaultEvent(vaultID, kind, currency string, amount, price float64, at time.Time) error {
	return m.db.Create(&VaultEvent{
		ID:        uuid.New(),
		VaultID:   vaultID,
		Kind:      kind,
		Currency:  currency,
		Amount:    amount,
		Price:     price,
		CreatedAt: at,
	}).Error
}

// RecordLiquidation appends one liquidation row.
func (m *AuditMirror) RecordLiquidation(vaultID, liquidator string, seizedBTC, bonusBTC float64, at time.Time) error {
	return m.db.Create(&LiquidationEvent{
		ID:         uuid.New(),
		VaultID:    vaultID,
		Liquidator: liquidator,
		SeizedBTC:  seizedBTC,
		BonusBTC:   bonusBTC,
		CreatedAt:  at,
	}).Error
}

// RecordRedemption appends one redemption row.
func (m *AuditMirror) RecordRedemption(vaultID, currency string, stable, fee float64, at time.Time) error {
	return m.db.Create(&RedemptionEvent{
		ID:        uuid.New(),
		VaultID:   vaultID,
		Currency:  currency,
		Stable:    stable,
		Fee:       fee,
		CreatedAt: at,
	}).Error
}

// VaultEventsSince queries every vault event recorded at or after since, in
// ascending timestamp order.
func (m *AuditMirror) VaultEventsSince(since time.Time) ([]VaultEvent, error) {
	var out []VaultEvent
	err := m.db.Where("created_at >= ?", since).Order("created_at asc").Find(&out).Error
	return out, err
}

// LiquidationsSince queries every liquidation recorded at or after since, in
// ascending timestamp order.
func (m *AuditMirror) LiquidationsSince(since time.Time) ([]LiquidationEvent, error) {
	var out []LiquidationEvent
	err := m.db.Where("created_at >= ?", since).Order("created_at asc").Find(&out).Error
	return out, err
}

// RedemptionsSince queries every redemption recorded at or after since, in
// ascending timestamp order.
func (m *AuditMirror) RedemptionsSince(since time.Time) ([]RedemptionEvent, error) {
	var out []RedemptionEvent
	err := m.db.Where("created_at >= ?", since).Order("created_at asc").Find(&out).Error
	return out, err
}
