package parsers

import (
	"context"
	"fmt"
	"io"
	"time"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/errors"
)

// StreamingConfig holds configuration for batched parsing
type StreamingConfig struct {
	BatchSize        int
	ReportProgress   bool
	ProgressInterval int
}

// DefaultStreamingConfig returns a default streaming configuration
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		BatchSize:        1000,
		ReportProgress:   true,
		ProgressInterval: 10000,
	}
}

// Validate checks the streaming configuration
func (c *StreamingConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.ReportProgress && c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %d", c.ProgressInterval)
	}
	return nil
}

// ProgressReport contains information about parsing progress for
// long-running operations.
type ProgressReport struct {
	ProcessedRecords int
	ValidRecords     int
	ErrorCount       int
	ElapsedTime      time.Duration
}

// ProgressCallback is called periodically to report parsing progress
type ProgressCallback func(*ProgressReport)

// ReceiptBatchCallback receives one batch of parsed goods receipts. An
// error stops parsing.
type ReceiptBatchCallback func([]*models.GoodsReceipt) error

// StreamingReceiptParser parses goods receipt exports in batches so a full
// movement history never has to be held in memory.
type StreamingReceiptParser struct {
	*ReferenceParser
	config *StreamingConfig
}

// NewStreamingReceiptParser creates a new streaming receipt parser
func NewStreamingReceiptParser(config *ReferenceParserConfig, streamConfig *StreamingConfig) (*StreamingReceiptParser, error) {
	if streamConfig == nil {
		streamConfig = DefaultStreamingConfig()
	}
	if err := streamConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "streaming", streamConfig.BatchSize, err)
	}

	parser, err := NewReferenceParser(config)
	if err != nil {
		return nil, err
	}

	return &StreamingReceiptParser{
		ReferenceParser: parser,
		config:          streamConfig,
	}, nil
}

// ParseReceiptsStream parses goods receipts from r, handing them to
// callback in batches of the configured size. The final batch may be
// smaller.
func (s *StreamingReceiptParser) ParseReceiptsStream(
	ctx context.Context,
	r io.Reader,
	file string,
	callback ReceiptBatchCallback,
	progressCallback ProgressCallback,
) (*ParseStats, error) {
	startTime := time.Now()
	batch := make([]*models.GoodsReceipt, 0, s.config.BatchSize)
	processed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := callback(batch); err != nil {
			return fmt.Errorf("batch callback error: %w", err)
		}
		batch = make([]*models.GoodsReceipt, 0, s.config.BatchSize)
		return nil
	}

	stats, err := s.parseReceipts(ctx, r, file, func(g *models.GoodsReceipt) error {
		batch = append(batch, g)
		processed++

		if s.config.ReportProgress && progressCallback != nil && processed%s.config.ProgressInterval == 0 {
			progressCallback(&ProgressReport{
				ProcessedRecords: processed,
				ValidRecords:     processed,
				ElapsedTime:      time.Since(startTime),
			})
		}

		if len(batch) >= s.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}

	if s.config.ReportProgress && progressCallback != nil && stats != nil {
		progressCallback(&ProgressReport{
			ProcessedRecords: stats.RecordsParsed,
			ValidRecords:     stats.RecordsValid,
			ErrorCount:       stats.ErrorCount,
			ElapsedTime:      time.Since(startTime),
		})
	}

	s.logParsed("goods receipts", stats, err)
	return stats, err
}

// ParseReceiptsFileStream streams goods receipts from a file
func (s *StreamingReceiptParser) ParseReceiptsFileStream(
	ctx context.Context,
	path string,
	callback ReceiptBatchCallback,
	progressCallback ProgressCallback,
) (*ParseStats, error) {
	file, err := s.OpenFile(path)
	if err != nil {
		return NewParseStats(path), err
	}
	defer file.Close()
	return s.ParseReceiptsStream(ctx, file, path, callback, progressCallback)
}
