package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bitstable/reserves"
)

func TestExportCommitmentHistoryWritesNonEmptyFile(t *testing.T) {
	commitments := []reserves.Commitment{
		{
			MerkleRoot:          "abc123",
			BlockHeight:         800_000,
			Timestamp:           time.Unix(1_700_000_000, 0).UTC(),
			TotalVaults:         3,
			TotalCollateralSats: 15_000_000,
			TotalDebtUSD:        120_000,
			SystemCR:            1.55,
			AnchorTxid:          "deadbeef",
		},
		{
			MerkleRoot:          "def456",
			BlockHeight:         800_100,
			Timestamp:           time.Unix(1_700_003_600, 0).UTC(),
			TotalVaults:         4,
			TotalCollateralSats: 16_000_000,
			TotalDebtUSD:        130_000,
			SystemCR:            1.52,
		},
	}

	path := filepath.Join(t.TempDir(), "commitments.parquet")
	require.NoError(t, ExportCommitmentHistory(commitments, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportCommitmentHistoryAcceptsEmptyInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, ExportCommitmentHistory(nil, path))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
