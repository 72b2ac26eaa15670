// Package reserves implements proof-of-reserves (C11): a binary Merkle
// commitment over every vault's state, sibling-path inclusion proofs, and
// fraud-proof verification against a claimed minimum collateral ratio.
package reserves

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bitstable/currency"
	"bitstable/vault"
)

// ErrVaultNotInSnapshot is returned when a proof is requested for a vault
// absent from the snapshot a commitment was built from.
var ErrVaultNotInSnapshot = errors.New("reserves: vault not found in snapshot")

// ErrNoBTCPrice is returned when fraud-proof validation lacks a BTC/USD
// oracle price to recompute collateral value.
var ErrNoBTCPrice = errors.New("reserves: missing BTC/USD oracle price")

const maxCommitmentHistory = 10_000

// VaultLeaf is one vault's anonymized state as it enters the Merkle tree.
// OwnerHash hides the owner's pubkey behind a SHA-256d digest; nothing else
// about the vault is obscured.
type VaultLeaf struct {
	VaultID        vault.ID
	OwnerHash      string
	CollateralSats uint64
	Debts          map[currency.Code]float64
	Timestamp      time.Time
}

// Commitment is one round's system-wide proof-of-reserves record.
type Commitment struct {
	MerkleRoot         string
	BlockHeight         uint64
	Timestamp            time.Time
	TotalVaults          int
	TotalCollateralSats  uint64
	TotalDebtUSD         float64
	SystemCR             float64
	AnchorTxid           string
}

// MerkleProof is a sibling-path inclusion proof for one leaf.
type MerkleProof struct {
	Leaf       VaultLeaf
	ProofPath  []string
	MerkleRoot string
	BlockHeight uint64
}

// FraudType names the category of claimed protocol violation.
type FraudType int

const (
	// FraudUnderCollateralized claims the vault's CR is below its currency's
	// minimum required ratio.
	FraudUnderCollateralized FraudType = iota
)

// FraudProof is a third party's claim that a committed vault violates a
// collateralization invariant, to be checked against fresh oracle prices.
type FraudProof struct {
	MerkleProof      MerkleProof
	OraclePrices     map[currency.Code]float64
	ViolationType    FraudType
	MinimumRequiredCR float64
}

// FraudSubmission is the supplemented audit record for a fraud-proof
// submission, per SPEC_FULL.md §C.4.
type FraudSubmission struct {
	Submitter     string
	VaultID       vault.ID
	CommitmentRoot string
	Upheld        bool
	CalculatedCR  float64
	SubmittedAt   time.Time
}

// System accumulates commitments and serves proofs and fraud checks over
// them (C11).
type System struct {
	mu                sync.Mutex
	current           *Commitment
	history           []Commitment
	lastSnapshot      []VaultLeaf
	verificationCache map[string]MerkleProof
	fraudSubmissions  []FraudSubmission
}

// New constructs an empty proof-of-reserves system.
func New() *System {
	return &System{verificationCache: map[string]MerkleProof{}}
}

// sha256d is the double SHA-256 used throughout the commitment hashing, per
// §4.9.
func sha256d(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

func hashHex(data []byte) string {
	return hex.EncodeToString(sha256d(data))
}

func hashOwner(ownerPubKey []byte) string {
	return hashHex(ownerPubKey)
}

// ToLeaf converts a vault into its anonymized Merkle-tree leaf.
func ToLeaf(v *vault.Vault, now time.Time) VaultLeaf {
	debts := map[currency.Code]float64{}
	for _, c := range v.Debts.Currencies() {
		debts[c] = v.Debts.Get(c)
	}
	return VaultLeaf{
		VaultID:        v.ID,
		OwnerHash:      hashOwner(v.Owner),
		CollateralSats: v.CollateralSats,
		Debts:          debts,
		Timestamp:      now,
	}
}

// hashLeaf computes leaf = hash(vault_id || hash(owner_pubkey) ||
// collateral_sats || debts_json || timestamp), per §3's Commitment leaf
// definition.
func hashLeaf(leaf VaultLeaf) string {
	debtsJSON, _ := json.Marshal(leaf.Debts)
	var buf []byte
	buf = append(buf, leaf.VaultID[:]...)
	buf = append(buf, []byte(leaf.OwnerHash)...)
	buf = append(buf, []byte(strconv.FormatUint(leaf.CollateralSats, 10))...)
	buf = append(buf, debtsJSON...)
	buf = append(buf, []byte(strconv.FormatInt(leaf.Timestamp.Unix(), 10))...)
	return hashHex(buf)
}

func combine(left, right string) string {
	return hashHex([]byte(left + right))
}

// buildMerkleTree builds a binary Merkle tree bottom-up over leaves,
// duplicating the last hash at odd levels, per §4.9.
func buildMerkleTree(leaves []VaultLeaf) string {
	if len(leaves) == 0 {
		return fmt.Sprintf("%064d", 0)
	}
	hashes := make([]string, len(leaves))
	for i, leaf := range leaves {
		hashes[i] = hashLeaf(leaf)
	}
	for len(hashes) > 1 {
		var next []string
		for i := 0; i < len(hashes); i += 2 {
			left := hashes[i]
			right := left
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}
			next = append(next, combine(left, right))
		}
		hashes = next
	}
	return hashes[0]
}

func buildProofPath(index int, leaves []VaultLeaf) []string {
	hashes := make([]string, len(leaves))
	for i, leaf := range leaves {
		hashes[i] = hashLeaf(leaf)
	}
	var path []string
	cur := index
	for len(hashes) > 1 {
		var sibling int
		if cur%2 == 0 {
			sibling = cur + 1
			if sibling >= len(hashes) {
				sibling = cur
			}
		} else {
			sibling = cur - 1
		}
		path = append(path, hashes[sibling])

		var next []string
		for i := 0; i < len(hashes); i += 2 {
			left := hashes[i]
			right := left
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}
			next = append(next, combine(left, right))
		}
		cur /= 2
		hashes = next
	}
	return path
}

// GenerateCommitment builds a Merkle commitment over vaults and stores it
// as the current/history commitment, per §4.9.
func (s *System) GenerateCommitment(vaults []*vault.Vault, rates *currency.Table, blockHeight uint64, now time.Time) (*Commitment, error) {
	leaves := make([]VaultLeaf, len(vaults))
	var totalSats uint64
	var totalDebtUSD float64
	var totalCollateralValueUSD float64
	for i, v := range vaults {
		leaves[i] = ToLeaf(v, now)
		totalSats += v.CollateralSats
		debtUSD, err := v.Debts.TotalInUSD(rates)
		if err == nil {
			totalDebtUSD += debtUSD
		}
		collUSD, err := v.CollateralValueUSD(rates)
		if err == nil {
			totalCollateralValueUSD += collUSD
		}
	}

	root := buildMerkleTree(leaves)

	systemCR := 0.0
	if totalDebtUSD > 0 {
		systemCR = totalCollateralValueUSD / totalDebtUSD
	}

	commitment := &Commitment{
		MerkleRoot:          root,
		BlockHeight:         blockHeight,
		Timestamp:           now,
		TotalVaults:         len(vaults),
		TotalCollateralSats: totalSats,
		TotalDebtUSD:        totalDebtUSD,
		SystemCR:            systemCR,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = commitment
	s.lastSnapshot = leaves
	s.history = append(s.history, *commitment)
	if len(s.history) > maxCommitmentHistory {
		s.history = s.history[1:]
	}
	return commitment, nil
}

// SetAnchorTxid records the Bitcoin OP_RETURN transaction id that anchored
// the current commitment's root on-chain.
func (s *System) SetAnchorTxid(txid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.AnchorTxid = txid
	}
}

// GenerateProof returns a sibling-path inclusion proof for id against the
// most recent commitment's snapshot.
func (s *System) GenerateProof(id vault.ID) (*MerkleProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, leaf := range s.lastSnapshot {
		if leaf.VaultID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrVaultNotInSnapshot
	}

	path := buildProofPath(idx, s.lastSnapshot)
	root := buildMerkleTree(s.lastSnapshot)
	var height uint64
	if s.current != nil {
		height = s.current.BlockHeight
	}
	proof := MerkleProof{
		Leaf:        s.lastSnapshot[idx],
		ProofPath:   path,
		MerkleRoot:  root,
		BlockHeight: height,
	}
	s.verificationCache[hex.EncodeToString(id[:])] = proof
	return &proof, nil
}

// VerifyProof recomputes the sibling path from proof.Leaf and checks it
// reaches proof.MerkleRoot, per §4.9.
func VerifyProof(proof MerkleProof) bool {
	current := hashLeaf(proof.Leaf)
	for _, sibling := range proof.ProofPath {
		current = combine(current, sibling)
	}
	return current == proof.MerkleRoot
}

// ValidateFraudProof checks fraudProof's Merkle inclusion, recomputes the
// vault's collateral ratio from fresh oracle prices, and returns whether
// the claimed under-collateralization is upheld, per §4.9.
func (s *System) ValidateFraudProof(submitter string, fraudProof FraudProof, now time.Time) (bool, float64, error) {
	if !VerifyProof(fraudProof.MerkleProof) {
		return false, 0, nil
	}

	leaf := fraudProof.MerkleProof.Leaf
	btcPrice, ok := fraudProof.OraclePrices[currency.USD]
	if !ok {
		return false, 0, ErrNoBTCPrice
	}

	// OraclePrices holds the BTC price in each currency, so debt in c is
	// converted to USD at btc_price[USD] / btc_price[c].
	var totalDebtUSD float64
	for c, debt := range leaf.Debts {
		price, ok := fraudProof.OraclePrices[c]
		if !ok || price <= 0 {
			continue
		}
		totalDebtUSD += debt * btcPrice / price
	}

	collateralBTC := float64(leaf.CollateralSats) / 1e8
	collateralValueUSD := collateralBTC * btcPrice

	calculatedCR := 0.0
	upheld := false
	if totalDebtUSD > 0 {
		calculatedCR = collateralValueUSD / totalDebtUSD
		upheld = calculatedCR < fraudProof.MinimumRequiredCR
	} else {
		calculatedCR = 1e18 // effectively infinite; never under-collateralized.
	}

	s.mu.Lock()
	root := ""
	if s.current != nil {
		root = s.current.MerkleRoot
	}
	s.fraudSubmissions = append(s.fraudSubmissions, FraudSubmission{
		Submitter:      submitter,
		VaultID:        leaf.VaultID,
		CommitmentRoot: root,
		Upheld:         upheld,
		CalculatedCR:   calculatedCR,
		SubmittedAt:    now,
	})
	s.mu.Unlock()

	return upheld, calculatedCR, nil
}

// FraudSubmissions returns every fraud-proof submission recorded so far,
// the supplemented audit trail of SPEC_FULL.md §C.4.
func (s *System) FraudSubmissions() []FraudSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FraudSubmission, len(s.fraudSubmissions))
	copy(out, s.fraudSubmissions)
	return out
}

// Current returns the most recently generated commitment, if any.
func (s *System) Current() (*Commitment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	c := *s.current
	return &c, true
}

// History returns every retained commitment, oldest first.
func (s *System) History() []Commitment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Commitment, len(s.history))
	copy(out, s.history)
	return out
}

// Stats summarizes the system's commitment activity.
type Stats struct {
	TotalCommitments int
	AverageVaultCount float64
	CurrentSystemCR   float64
}

// Statistics reports aggregate proof-of-reserves activity.
func (s *System) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg float64
	if len(s.history) > 0 {
		var total int
		for _, c := range s.history {
			total += c.TotalVaults
		}
		avg = float64(total) / float64(len(s.history))
	}
	var cr float64
	if s.current != nil {
		cr = s.current.SystemCR
	}
	return Stats{
		TotalCommitments:  len(s.history),
		AverageVaultCount: avg,
		CurrentSystemCR:   cr,
	}
}
