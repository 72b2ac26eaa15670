package storage

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"bitstable/reserves"
)

// commitmentRow is the columnar schema for exported reserve commitments.
type commitmentRow struct {
	MerkleRoot          string  `parquet:"name=merkle_root, type=BYTE_ARRAY, convertedtype=UTF8"`
	BlockHeight         int64   `parquet:"name=block_height, type=INT64"`
	TimestampUnix       int64   `parquet:"name=timestamp_unix, type=INT64"`
	TotalVaults         int32   `parquet:"name=total_vaults, type=INT32"`
	TotalCollateralSats int64   `parquet:"name=total_collateral_sats, type=INT64"`
	TotalDebtUSD        float64 `parquet:"name=total_debt_usd, type=DOUBLE"`
	SystemCR            float64 `parquet:"name=system_cr, type=DOUBLE"`
	AnchorTxid          string  `parquet:"name=anchor_txid, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportCommitmentHistory writes commitments to path as a columnar parquet
// file, one row per commitment, for long-horizon proof-of-reserves analysis
// outside the operational store.
func ExportCommitmentHistory(commitments []reserves.Commitment, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("storage: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(commitmentRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("storage: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, c := range commitments {
		row := &commitmentRow{
			MerkleRoot:          c.MerkleRoot,
			BlockHeight:         int64(c.BlockHeight),
			TimestampUnix:       c.Timestamp.Unix(),
			TotalVaults:         int32(c.TotalVaults),
			TotalCollateralSats: int64(c.TotalCollateralSats),
			TotalDebtUSD:        c.TotalDebtUSD,
			SystemCR:            c.SystemCR,
			AnchorTxid:          c.AnchorTxid,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("storage: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("storage: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storage: close parquet file: %w", err)
	}
	return nil
}
