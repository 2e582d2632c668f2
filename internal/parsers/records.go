package parsers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/errors"
)

// DecodeRecords reads extraction records from r. The input may be a single
// JSON object, a JSON array of objects, or a stream of objects such as JSON
// lines. file names the source in errors.
func DecodeRecords(r io.Reader, file string) ([]*models.IngestionRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("Provide at least one extraction record")
	}
	if err != nil {
		return nil, errors.FileError(errors.CodeUnexpectedError, file, err)
	}

	dec := json.NewDecoder(br)

	if first == '[' {
		var records []*models.IngestionRecord
		if err := dec.Decode(&records); err != nil {
			return nil, decodeError(file, 1, err)
		}
		for i, rec := range records {
			if rec == nil {
				return nil, decodeError(file, i+1, fmt.Errorf("record is null"))
			}
		}
		return records, nil
	}

	var records []*models.IngestionRecord
	for n := 1; ; n++ {
		rec := &models.IngestionRecord{}
		err := dec.Decode(rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, decodeError(file, n, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LoadRecordsFile reads extraction records from a file, or from standard
// input when path is "-".
func LoadRecordsFile(path string) ([]*models.IngestionRecord, error) {
	if path == "-" {
		return DecodeRecords(os.Stdin, "stdin")
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeUnexpectedError, path, err)
	}
	defer file.Close()

	return DecodeRecords(file, path)
}

func peekNonSpace(br *bufio.Reader) (rune, error) {
	for {
		r, _, err := br.ReadRune()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(r) && r != '\ufeff' {
			return r, br.UnreadRune()
		}
	}
}

func decodeError(file string, record int, err error) *errors.ReconcilerError {
	rerr := errors.Wrap(err, errors.CategoryParse, errors.CodeInvalidFormat,
		fmt.Sprintf("invalid extraction record %d in %s", record, file)).
		WithContext("file", file).
		WithContext("record", record)

	if syntaxErr, ok := err.(*json.SyntaxError); ok {
		rerr.WithContext("offset", syntaxErr.Offset)
	}
	if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
		rerr.WithContext("field", typeErr.Field)
	}
	return rerr.WithSuggestion("Each record must be a JSON object with invoice_number, vendor_name, total_amount, currency and line_items")
}
