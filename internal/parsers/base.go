// Package parsers loads reference data and extraction output from files.
//
// Purchase order headers, purchase order lines and goods receipts arrive as
// CSV exports from the ERP. Column names vary between exports, so every
// canonical column accepts a list of aliases. Bad rows are collected with
// their file position; whether a bad row stops the file or is skipped is
// controlled by ParseConfig.
//
// Parser Types:
//   - ReferenceParser: purchase order headers, lines and goods receipts
//   - StreamingReceiptParser: goods receipts delivered in batches
//   - DecodeRecords: JSON extraction records, one object, an array or JSON lines
//   - DecodeRules: YAML validator rule sets
//
// Example usage:
//
//	parser, err := NewReferenceParser(nil)
//	lines, stats, err := parser.ParseLinesFile(ctx, "po_lines.csv")
//	if stats.HasErrors() {
//		fmt.Println(errors.FormatParseErrorsForUser(stats.Errors))
//	}
package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool

	// ContinueOnError skips bad rows instead of failing the file
	ContinueOnError bool
	// MaxErrors stops parsing after this many bad rows; zero means no limit
	MaxErrors int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
		ContinueOnError:  true,
		MaxErrors:        100,
	}
}

// Validate checks the parse configuration
func (c *ParseConfig) Validate() error {
	switch c.Delimiter {
	case 0, '"', '\r', '\n', utf8.RuneError:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "delimiter", string(c.Delimiter),
			fmt.Errorf("delimiter cannot be %q", c.Delimiter))
	}
	if c.Comment != 0 && c.Comment == c.Delimiter {
		return errors.ConfigurationError(errors.CodeConfigConflict, "comment", string(c.Comment),
			fmt.Errorf("comment character cannot equal the delimiter"))
	}
	if c.MaxErrors < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_errors", c.MaxErrors,
			fmt.Errorf("max errors cannot be negative"))
	}
	return nil
}

// ColumnSpec names a canonical column and the header names accepted for it
type ColumnSpec struct {
	Name     string
	Aliases  []string
	Required bool
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"continue_on_error": config.ContinueOnError,
		"max_errors":        config.MaxErrors,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	// Columns maps canonical column names to their index in the file
	Columns map[string]int
	ctx     context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		Columns:   make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a header by name, or -1 if not found.
// Matching ignores case, spaces and hyphens.
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}
	want := headerKey(name)
	for header, index := range pc.HeaderMap {
		if headerKey(header) == want {
			return index
		}
	}
	return -1
}

// Location returns the error location of a column on the current line
func (pc *ParseContext) Location(column, value string) *errors.ParseContext {
	return &errors.ParseContext{
		File:   pc.File,
		Line:   pc.LineNumber,
		Column: column,
		Value:  value,
	}
}

func headerKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// OpenFile opens a file for parsing
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open file")

		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeUnexpectedError, filePath, err)
	}
	return file, nil
}

// NewReader returns a csv.Reader configured from the parse configuration
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // Variable number of fields
	reader.ReuseRecord = false
	return reader
}

// ReadHeaders reads the header row and resolves every column spec against it
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, columns []ColumnSpec) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			bp.logger.WithField("file", parseCtx.File).Error("File is empty or contains no data")
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithSuggestion("Ensure the file contains header and data rows")
		}

		bp.logger.WithError(err).Error("Failed to read header row")
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.File,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber, _ = reader.FieldPos(0)
	parseCtx.Headers = make([]string, len(headers))
	parseCtx.HeaderMap = make(map[string]int, len(headers))
	for i, header := range headers {
		parseCtx.Headers[i] = strings.TrimPrefix(strings.TrimSpace(header), "\ufeff")
		parseCtx.HeaderMap[parseCtx.Headers[i]] = i
	}

	var required []string
	var missing bool
	for _, col := range columns {
		index := -1
		for _, name := range append([]string{col.Name}, col.Aliases...) {
			if index = parseCtx.GetColumnIndex(name); index >= 0 {
				break
			}
		}
		if col.Required {
			required = append(required, col.Name)
		}
		if index < 0 {
			missing = missing || col.Required
			continue
		}
		parseCtx.Columns[col.Name] = index
	}

	if missing {
		// Report canonical names for columns that were found through an alias
		present := make([]string, 0, len(parseCtx.Columns))
		for name := range parseCtx.Columns {
			present = append(present, name)
		}
		bp.logger.WithFields(logger.Fields{
			"file":              parseCtx.File,
			"required_headers":  required,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")
		return errors.MissingColumnError(parseCtx.File, required, present)
	}

	bp.logger.WithFields(logger.Fields{
		"file":    parseCtx.File,
		"headers": parseCtx.Headers,
	}).Debug("Successfully read headers")
	return nil
}

// ReadRecord reads the next non-empty record. io.EOF marks the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			bp.logger.Debug("Record reading cancelled by context")
			return nil, errors.InternalError(
				errors.CodeUnexpectedError,
				"csv_parsing",
				parseCtx.ctx.Err(),
			)
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		if err != nil {
			line := parseCtx.LineNumber + 1
			if perr, ok := err.(*csv.ParseError); ok {
				line = perr.Line
			}
			bp.logger.WithError(err).WithField("line_number", line).Warn("Failed to read CSV record")
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, line, "", "", err).
				WithSuggestion("Check quoting on this line; a stray quote often swallows the rest of the file")
		}

		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		for i, field := range record {
			column := bp.columnName(parseCtx, i)
			if bp.config.MaxFieldSize > 0 && len(field) > bp.config.MaxFieldSize {
				return nil, errors.ParseError(
					errors.CodeInvalidData,
					parseCtx.File,
					parseCtx.LineNumber,
					column,
					field[:50]+"...",
					fmt.Errorf("field size limit exceeded"),
				).WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
			}
			if bp.config.ValidateEncoding && !utf8.ValidString(field) {
				return nil, errors.ParseError(
					errors.CodeInvalidFormat,
					parseCtx.File,
					parseCtx.LineNumber,
					column,
					"",
					fmt.Errorf("invalid UTF-8 encoding detected"),
				).WithSuggestion("Save the file in UTF-8 encoding and try again")
			}
		}

		return record, nil
	}
}

func (bp *BaseParser) columnName(parseCtx *ParseContext, index int) string {
	if index < len(parseCtx.Headers) {
		return parseCtx.Headers[index]
	}
	return fmt.Sprintf("field_%d", index)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of a canonical column. Columns
// that the file does not carry, and short rows, read as empty.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, column string) string {
	index, ok := parseCtx.Columns[column]
	if !ok || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// rowFunc turns one record into a value. Returning an *errors.EnhancedParseError
// rejects the row; any other error aborts the file.
type rowFunc func(record []string, parseCtx *ParseContext) error

// parse drives the read loop shared by every CSV file type
func (bp *BaseParser) parse(ctx context.Context, r io.Reader, file string, columns []ColumnSpec, row rowFunc) (*ParseStats, error) {
	stats := NewParseStats(file)
	parseCtx := NewParseContext(ctx, file)
	collector := errors.NewParseErrorCollector(bp.config.MaxErrors, bp.config.ContinueOnError)

	reader := bp.NewReader(r)
	if err := bp.ReadHeaders(reader, parseCtx, columns); err != nil {
		return stats, err
	}

	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.TotalLines = parseCtx.LineNumber
			return stats, err
		}
		stats.RecordsParsed++

		err = row(record, parseCtx)
		if err == nil {
			stats.RecordsValid++
			continue
		}

		perr, ok := err.(*errors.EnhancedParseError)
		if !ok {
			stats.TotalLines = parseCtx.LineNumber
			return stats, err
		}
		stats.AddError(perr)
		if !collector.Add(perr) {
			stats.TotalLines = parseCtx.LineNumber
			bp.logger.WithFields(logger.Fields{
				"file":        file,
				"line_number": perr.Location.Line,
				"errors":      stats.ErrorCount,
			}).Warn("Stopping parse after row error")
			if !bp.config.ContinueOnError {
				return stats, perr
			}
			return stats, collector.GetSummary()
		}
	}

	stats.TotalLines = parseCtx.LineNumber
	bp.logger.WithFields(logger.Fields{
		"file":    file,
		"records": stats.RecordsParsed,
		"valid":   stats.RecordsValid,
		"errors":  stats.ErrorCount,
	}).Debug("Parsed file")
	return stats, nil
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*errors.EnhancedParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string) *ParseStats {
	return &ParseStats{
		File:   file,
		Errors: make([]*errors.EnhancedParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *errors.EnhancedParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}
