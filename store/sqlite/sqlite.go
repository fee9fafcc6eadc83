/*
Package sqlite provides a SQLite-backed implementation of the fiscal stores.

PURPOSE:
  Persists the append-only sale log, shift snapshots and immutable cortes.
  Implements fiscal.Store and fiscal.BulkSealer.

APPEND-ONLY ENFORCEMENT:
  - sales.doc_json is written once and never updated
  - the only UPDATE on sales sets sealed_by WHERE sealed_by IS NULL
  - cortes are INSERT-only; sequence and shift_id are UNIQUE, so a second
    corte for the same shift is rejected with fiscal.ErrCorteExists

KEY TABLES:
  sales:  one row per sale; indexed columns plus the full record as JSON
  shifts: opening snapshot per shift; at most one open shift per register
  cortes: Z-reports as JSON
  meta:   the log revision counter used as memo key

INDEXES:
  - idx_sales_at:        range reports (hot path)
  - idx_sales_unsealed:  shift close (register + sealed_by)
  - idx_sales_sealed_by: corte backfill
  - idx_shifts_open:     one open shift per register (partial unique)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Bulk seal runs in one transaction.

USAGE:
  store, err := sqlite.New("./data/fiscal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - fiscal/store.go: Interface definitions
  - fiscal/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// Store implements the fiscal storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ fiscal.Store      = (*Store)(nil)
	_ fiscal.BulkSealer = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sales (append-only log)
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL DEFAULT '',
		at_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		kind TEXT NOT NULL,
		sealed_by TEXT,
		doc_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_at
		ON sales(at_ns);
	CREATE INDEX IF NOT EXISTS idx_sales_unsealed
		ON sales(register_id, at_ns) WHERE sealed_by IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sales_sealed_by
		ON sales(sealed_by) WHERE sealed_by IS NOT NULL;

	-- Shifts (opening snapshot is written once)
	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL,
		operator_json TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		opening_json TEXT NOT NULL,
		closed_by TEXT,
		closed_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_open
		ON shifts(register_id) WHERE closed_by IS NULL;

	-- Cortes (immutable Z-reports)
	CREATE TABLE IF NOT EXISTS cortes (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		shift_id TEXT UNIQUE,
		closed_at TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		doc_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Log revision
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO meta (key, value) VALUES ('revision', 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func bumpRevision(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx, "UPDATE meta SET value = value + 1 WHERE key = 'revision'")
	return err
}

// =============================================================================
// SALE LOG (fiscal.SaleStore interface)
// =============================================================================

// AppendSale adds a sale to the log.
func (s *Store) AppendSale(ctx context.Context, sale fiscal.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("failed to encode sale: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, register_id, at_ns, status, kind, sealed_by, doc_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID,
		sale.RegisterID,
		sale.At.UnixNano(),
		sale.Status,
		sale.Kind,
		nullString(string(sale.SealedBy)),
		string(doc),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fiscal.ErrDuplicateSale
		}
		return fmt.Errorf("failed to append sale: %w", err)
	}
	if err := bumpRevision(ctx, tx); err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	return tx.Commit()
}

const saleColumns = `doc_json, sealed_by`

func scanSale(rows interface{ Scan(...any) error }) (fiscal.Sale, error) {
	var (
		sale     fiscal.Sale
		doc      string
		sealedBy sql.NullString
	)
	if err := rows.Scan(&doc, &sealedBy); err != nil {
		return sale, fmt.Errorf("failed to scan sale: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &sale); err != nil {
		return sale, fmt.Errorf("failed to decode sale: %w", err)
	}
	// The column is authoritative; doc_json is never rewritten.
	sale.SealedBy = fiscal.ClosureID(sealedBy.String)
	return sale, nil
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]fiscal.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []fiscal.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, id fiscal.SaleID) (fiscal.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fiscal.Sale{}, fiscal.ErrSaleNotFound
	}
	return sale, err
}

func (s *Store) LoadUnsealed(ctx context.Context, registerID string) ([]fiscal.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySales(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE register_id = ? AND sealed_by IS NULL
		ORDER BY at_ns ASC, rowid ASC`, registerID)
}

func (s *Store) LoadByIDs(ctx context.Context, ids []fiscal.SaleID) ([]fiscal.Sale, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := inClause(ids)
	return s.querySales(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE id IN (`+placeholders+`)
		ORDER BY at_ns ASC, rowid ASC`, args...)
}

func (s *Store) LoadSealedBy(ctx context.Context, closure fiscal.ClosureID) ([]fiscal.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySales(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE sealed_by = ?
		ORDER BY at_ns ASC, rowid ASC`, closure)
}

func (s *Store) LoadRange(ctx context.Context, from, to time.Time) ([]fiscal.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySales(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE at_ns >= ? AND at_ns <= ?
		ORDER BY at_ns ASC, rowid ASC`, from.UnixNano(), to.UnixNano())
}

// EachInRange streams rows through fn. fn must not write to the store.
func (s *Store) EachInRange(ctx context.Context, from, to time.Time, fn func(fiscal.Sale) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE at_ns >= ? AND at_ns <= ?
		ORDER BY at_ns ASC, rowid ASC`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return err
		}
		if err := fn(sale); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) CountRange(ctx context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sales WHERE at_ns >= ? AND at_ns <= ?",
		from.UnixNano(), to.UnixNano(),
	).Scan(&n)
	return n, err
}

func (s *Store) Revision(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rev int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'revision'").Scan(&rev)
	return rev, err
}

// =============================================================================
// SEALING (fiscal.Sealer, fiscal.BulkSealer)
// =============================================================================

func sealOne(ctx context.Context, db execer, id fiscal.SaleID, closure fiscal.ClosureID) (int64, error) {
	res, err := db.ExecContext(ctx,
		"UPDATE sales SET sealed_by = ? WHERE id = ? AND sealed_by IS NULL", closure, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Seal sets sealed_by if absent.
func (s *Store) Seal(ctx context.Context, id fiscal.SaleID, closure fiscal.ClosureID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := sealOne(ctx, s.db, id, closure)
	if err != nil {
		return false, fmt.Errorf("failed to seal sale: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales WHERE id = ?", id).Scan(&exists); err != nil {
			return false, err
		}
		if exists == 0 {
			return false, fiscal.ErrSaleNotFound
		}
		return false, nil
	}
	if err := bumpRevision(ctx, s.db); err != nil {
		return true, fmt.Errorf("failed to bump revision: %w", err)
	}
	return true, nil
}

// SealBatch seals every id in one transaction. Unknown IDs roll back the batch.
func (s *Store) SealBatch(ctx context.Context, ids []fiscal.SaleID, closure fiscal.ClosureID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders, args := inClause(ids)
	var known int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sales WHERE id IN ("+placeholders+")", args...,
	).Scan(&known); err != nil {
		return 0, fmt.Errorf("failed to check sales: %w", err)
	}
	if known != len(uniqueIDs(ids)) {
		return 0, fiscal.ErrSaleNotFound
	}

	sealed := 0
	for _, id := range ids {
		n, err := sealOne(ctx, tx, id, closure)
		if err != nil {
			return 0, fmt.Errorf("failed to seal sale %s: %w", id, err)
		}
		sealed += int(n)
	}
	if sealed > 0 {
		if err := bumpRevision(ctx, tx); err != nil {
			return 0, fmt.Errorf("failed to bump revision: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seal: %w", err)
	}
	return sealed, nil
}

// =============================================================================
// SHIFTS (fiscal.ShiftStore interface)
// =============================================================================

func (s *Store) OpenShift(ctx context.Context, sh fiscal.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operatorJSON, _ := json.Marshal(sh.Operator)
	openingJSON, err := json.Marshal(sh.Opening)
	if err != nil {
		return fmt.Errorf("failed to encode opening: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, register_id, operator_json, opened_at, opening_json)
		VALUES (?, ?, ?, ?, ?)`,
		sh.ID, sh.RegisterID, string(operatorJSON),
		sh.OpenedAt.UTC().Format(time.RFC3339Nano), string(openingJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fiscal.ErrShiftAlreadyOpen
		}
		return fmt.Errorf("failed to open shift: %w", err)
	}
	return nil
}

func (s *Store) CurrentShift(ctx context.Context, registerID string) (fiscal.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sh           fiscal.Shift
		operatorJSON string
		openedAt     string
		openingJSON  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, register_id, operator_json, opened_at, opening_json
		FROM shifts WHERE register_id = ? AND closed_by IS NULL`, registerID,
	).Scan(&sh.ID, &sh.RegisterID, &operatorJSON, &openedAt, &openingJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fiscal.Shift{}, fiscal.ErrShiftNotOpen
	}
	if err != nil {
		return fiscal.Shift{}, fmt.Errorf("failed to load shift: %w", err)
	}

	json.Unmarshal([]byte(operatorJSON), &sh.Operator)
	if err := json.Unmarshal([]byte(openingJSON), &sh.Opening); err != nil {
		return fiscal.Shift{}, fmt.Errorf("failed to decode opening: %w", err)
	}
	sh.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
	return sh, nil
}

// CloseShift is a compare-and-set on closed_by.
func (s *Store) CloseShift(ctx context.Context, id fiscal.ShiftID, closure fiscal.ClosureID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE shifts SET closed_by = ?, closed_at = ? WHERE id = ? AND closed_by IS NULL",
		closure, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to close shift: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fiscal.ErrShiftNotOpen
	}
	return nil
}

// =============================================================================
// CORTES (fiscal.CorteStore interface)
// =============================================================================

func (s *Store) SaveCorte(ctx context.Context, c fiscal.Corte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode corte: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cortes (id, sequence, shift_id, closed_at, schema_version, doc_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Sequence, nullString(string(c.ShiftID)),
		c.ClosedAt.UTC().Format(time.RFC3339Nano), c.SchemaVersion, string(doc),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fiscal.ErrCorteExists
		}
		return fmt.Errorf("failed to save corte: %w", err)
	}
	return nil
}

func scanCorte(row interface{ Scan(...any) error }) (fiscal.Corte, error) {
	var (
		c   fiscal.Corte
		doc string
	)
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, fiscal.ErrCorteNotFound
		}
		return c, fmt.Errorf("failed to scan corte: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return c, fmt.Errorf("failed to decode corte: %w", err)
	}
	return c, nil
}

func (s *Store) GetCorte(ctx context.Context, id fiscal.ClosureID) (fiscal.Corte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanCorte(s.db.QueryRowContext(ctx, "SELECT doc_json FROM cortes WHERE id = ?", id))
}

func (s *Store) FindCorteByShift(ctx context.Context, shiftID fiscal.ShiftID) (fiscal.Corte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanCorte(s.db.QueryRowContext(ctx, "SELECT doc_json FROM cortes WHERE shift_id = ?", shiftID))
}

func (s *Store) ListCortes(ctx context.Context, limit int) ([]fiscal.Corte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_json FROM cortes ORDER BY sequence DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cortes: %w", err)
	}
	defer rows.Close()

	var cortes []fiscal.Corte
	for rows.Next() {
		c, err := scanCorte(rows)
		if err != nil {
			return nil, err
		}
		cortes = append(cortes, c)
	}
	return cortes, rows.Err()
}

func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(sequence) FROM cortes").Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	return last.Int64 + 1, nil
}

// ImportCorte stores a corte decoded from a legacy export. Imported cortes
// are detached from shifts; one without a correlative gets the next one.
func (s *Store) ImportCorte(ctx context.Context, c fiscal.Corte) (fiscal.Corte, error) {
	c.ShiftID = ""
	if c.Sequence <= 0 {
		seq, err := s.NextSequence(ctx)
		if err != nil {
			return fiscal.Corte{}, err
		}
		c.Sequence = seq
	}
	if c.ID == "" {
		c.ID = fiscal.ClosureIDFor(c.Sequence)
	}
	if err := s.SaveCorte(ctx, c); err != nil {
		return fiscal.Corte{}, err
	}
	return c, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func uniqueIDs(ids []fiscal.SaleID) map[fiscal.SaleID]struct{} {
	set := make(map[fiscal.SaleID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func inClause(ids []fiscal.SaleID) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
