// Package catalog loads the KEV feed into the relational store and serves
// read queries over the loaded table.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/feed"
	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/schema"
)

// ErrEmptyFeed is returned when the feed has a header but no records. The
// existing table is left untouched.
var ErrEmptyFeed = errors.New("feed contains no records")

// StagingSuffix is appended to the catalog table name for the table a
// drifted feed is loaded into before it replaces the live one.
const StagingSuffix = "_next"

// Stage identifies the refresh step that failed.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
	StageSchema   Stage = "schema"
	StageStore    Stage = "store"
)

// IngestionError reports a failed refresh and the stage it failed in.
type IngestionError struct {
	Stage Stage
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("catalog refresh failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Source downloads the feed into a local file and returns its path.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// LoaderConfig controls how the feed is written to the store.
type LoaderConfig struct {
	Table     string
	BatchSize int
	Timeout   time.Duration // zero means no bound
}

// Status describes the outcome of the most recent refresh.
type Status struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	RecordCount int       `json:"record_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loader replaces the catalog table with the current feed contents.
// Refreshes are serialized.
type Loader struct {
	conn   connector.Connector
	source Source
	cfg    LoaderConfig
	logger *slog.Logger

	mu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// NewLoader creates a Loader writing to cfg.Table through conn.
func NewLoader(conn connector.Connector, source Source, cfg LoaderConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Loader{
		conn:   conn,
		source: source,
		cfg:    cfg,
		logger: logger.With("component", "loader", "table", cfg.Table),
	}
}

// Status returns the outcome of the most recent refresh.
func (l *Loader) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

// Refresh downloads the feed and replaces the catalog table with its
// records, returning the number of records stored. Once started, a refresh
// runs to completion even if ctx is cancelled; it is bounded only by the
// configured timeout. Errors are *IngestionError values.
func (l *Loader) Refresh(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	l.logger.Info("catalog refresh started")

	path, n, err := l.refresh(ctx)

	if path != "" {
		if err == nil {
			if rmErr := os.Remove(path); rmErr != nil {
				l.logger.Warn("failed to remove feed file", "path", path, "error", rmErr)
			}
		} else {
			l.logger.Error("keeping feed file for inspection", "path", path)
		}
	}

	l.statusMu.Lock()
	l.status.LastAttempt = start
	if err != nil {
		l.status.LastError = err.Error()
	} else {
		l.status.LastSuccess = start
		l.status.RecordCount = n
		l.status.LastError = ""
	}
	l.statusMu.Unlock()

	if err != nil {
		l.logger.Error("catalog refresh failed", "error", err, "duration", time.Since(start))
		return 0, err
	}
	l.logger.Info("catalog refresh complete", "records", n, "duration", time.Since(start))
	return n, nil
}

func (l *Loader) refresh(ctx context.Context) (string, int, error) {
	path, err := l.source.Fetch(ctx)
	if err != nil {
		return "", 0, &IngestionError{Stage: StageFetch, Err: err}
	}

	f, err := feed.ParseFile(path)
	if err != nil {
		return path, 0, &IngestionError{Stage: StageParse, Err: err}
	}
	l.logger.Debug("feed parsed", "columns", len(f.Header), "records", len(f.Records))

	if len(f.Records) == 0 {
		return path, 0, &IngestionError{Stage: StageValidate, Err: ErrEmptyFeed}
	}

	def := model.TableSchema{
		Name:    l.cfg.Table,
		Columns: schema.InferColumns(f.Header, f.Records[0]),
	}
	existing, err := l.conn.TableColumns(ctx, def.Name)
	if err != nil {
		return path, 0, &IngestionError{Stage: StageSchema, Err: err}
	}
	if len(existing) > 0 && !schema.SameColumns(existing, def.Columns) {
		l.logger.Info("feed columns changed, rebuilding table",
			"old_columns", len(existing), "new_columns", len(def.Columns))
		if err := l.rebuild(ctx, def, f.Records); err != nil {
			return path, 0, err
		}
		return path, len(f.Records), nil
	}

	if err := l.conn.CreateTable(ctx, def); err != nil {
		return path, 0, &IngestionError{Stage: StageSchema, Err: err}
	}
	if err := l.replaceRows(ctx, def, f.Records); err != nil {
		return path, 0, &IngestionError{Stage: StageStore, Err: err}
	}
	return path, len(f.Records), nil
}

// rebuild loads records into a staging table with the new column set and
// swaps it in only once every row is committed. On failure the current
// table is left as it was.
func (l *Loader) rebuild(ctx context.Context, def model.TableSchema, records []feed.Record) error {
	staging := def
	staging.Name = def.Name + StagingSuffix

	if err := l.conn.DropTable(ctx, staging.Name); err != nil {
		return &IngestionError{Stage: StageSchema, Err: err}
	}
	if err := l.conn.CreateTable(ctx, staging); err != nil {
		return &IngestionError{Stage: StageSchema, Err: err}
	}
	if err := l.replaceRows(ctx, staging, records); err != nil {
		if dropErr := l.conn.DropTable(ctx, staging.Name); dropErr != nil {
			l.logger.Warn("failed to drop staging table", "table", staging.Name, "error", dropErr)
		}
		return &IngestionError{Stage: StageStore, Err: err}
	}
	if err := l.conn.SwapTable(ctx, staging.Name, def.Name); err != nil {
		return &IngestionError{Stage: StageSchema, Err: err}
	}
	return nil
}

// replaceRows deletes every row and inserts records in batches, all in one
// transaction.
func (l *Loader) replaceRows(ctx context.Context, def model.TableSchema, records []feed.Record) (err error) {
	deleteSQL, err := l.conn.BuildDeleteAll(ctx, def.Name)
	if err != nil {
		return err
	}

	tx, err := l.conn.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, deleteSQL); err != nil {
		return fmt.Errorf("clear table: %w", err)
	}

	names := def.ColumnNames()
	batch := l.batchSize(len(names))
	for start := 0; start < len(records); start += batch {
		end := min(start+batch, len(records))
		rows := make([][]interface{}, 0, end-start)
		for _, rec := range records[start:end] {
			row := make([]interface{}, len(def.Columns))
			for i, col := range def.Columns {
				row[i] = schema.Coerce(col.Type, rec[col.Name])
			}
			rows = append(rows, row)
		}

		query, args, buildErr := l.conn.BuildInsert(ctx, connector.InsertRequest{
			Table:   def.Name,
			Columns: names,
			Rows:    rows,
		})
		if buildErr != nil {
			err = buildErr
			return err
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert records %d-%d: %w", start+1, end, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// batchSize returns the number of rows per INSERT for a table of cols
// columns, honoring the driver's bind parameter limit.
func (l *Loader) batchSize(cols int) int {
	n := l.cfg.BatchSize
	if byParams := l.conn.MaxParameters() / cols; byParams < n {
		n = byParams
	}
	return max(n, 1)
}
