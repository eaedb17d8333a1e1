package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/faucetdb/kevd/internal/sqlident"
)

// ErrNoHeader is returned when the feed does not contain a header row.
var ErrNoHeader = errors.New("feed has no header row")

// Record is one feed row keyed by header name. Values are trimmed; a field
// missing from a short row is the empty string.
type Record map[string]string

// Feed is a parsed CSV document.
type Feed struct {
	Header  []string
	Records []Record
}

// ParseFile parses the CSV document stored at path.
func ParseFile(path string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV document with a header row. Blank lines are skipped and
// every header name must be a valid, unique SQL identifier.
func Parse(r io.Reader) (*Feed, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if err := sqlident.ValidateColumnNames(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	feed := &Feed{Header: header}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if blank(fields) {
			continue
		}
		rec := make(Record, len(header))
		for i, name := range header {
			if i < len(fields) {
				rec[name] = sqlident.SanitizeValue(strings.TrimSpace(fields[i]))
			} else {
				rec[name] = ""
			}
		}
		feed.Records = append(feed.Records, rec)
	}
	return feed, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
