// internal/adapters/out/db/cart_storage_pg.go
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	dbcommon "cartengine/internal/adapters/out/db/common"
	cartdom "cartengine/internal/domain/cart"
)

// ConflictPolicy decides what a stale write does when the stored version no
// longer matches the version the caller read.
type ConflictPolicy string

const (
	// ConflictLastWriteWins silently overwrites (default).
	ConflictLastWriteWins ConflictPolicy = "last_write_wins"
	// ConflictReject fails the write with cart.ErrVersionConflict.
	ConflictReject ConflictPolicy = "reject"
)

func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.TrimSpace(strings.ToLower(raw))) {
	case "", ConflictLastWriteWins:
		return ConflictLastWriteWins, nil
	case ConflictReject:
		return ConflictReject, nil
	}
	return "", fmt.Errorf("cart_storage_pg: unknown conflict policy %q", raw)
}

// Schema is the relational shape of a cart record. One row per
// (identifier, instance); payloads are jsonb documents, version is a
// strictly increasing write counter.
const Schema = `
CREATE TABLE IF NOT EXISTS carts (
    identifier  TEXT        NOT NULL,
    instance    TEXT        NOT NULL,
    items       JSONB       NOT NULL DEFAULT '[]'::jsonb,
    conditions  JSONB       NOT NULL DEFAULT '[]'::jsonb,
    metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
    version     BIGINT      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (identifier, instance)
);
`

// Options tunes the relational backend.
type Options struct {
	// LockForUpdate takes a row lock (SELECT ... FOR UPDATE) for the
	// duration of a write transaction.
	LockForUpdate bool
	// ConflictPolicy applies when the caller supplied an expected version.
	ConflictPolicy ConflictPolicy
}

// CartStoragePG implements cart.Storage, cart.Versioned and
// cart.Transactional on PostgreSQL.
type CartStoragePG struct {
	DB   *sql.DB
	opts Options
}

func NewCartStoragePG(db *sql.DB, opts Options) *CartStoragePG {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = ConflictLastWriteWins
	}
	return &CartStoragePG{DB: db, opts: opts}
}

// EnsureSchema creates the carts table when missing.
func (s *CartStoragePG) EnsureSchema(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, Schema)
	return err
}

// ----------------------------
// Transaction support
// ----------------------------

// txGuardKey carries per-transaction write state: the version check runs
// and the counter bumps once per transaction, not once per column.
type txGuardKey struct{}

type txGuard struct {
	bumped map[string]bool
}

func guardFromCtx(ctx context.Context) *txGuard {
	g, _ := ctx.Value(txGuardKey{}).(*txGuard)
	return g
}

// WithinTransaction runs fn inside one database transaction. Port calls
// made through the returned context share the transaction, and the version
// counter advances once for the whole batch. A nested call joins the
// transaction already carried by ctx.
func (s *CartStoragePG) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.check(); err != nil {
		return err
	}
	if dbcommon.TxFromCtx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	tctx := dbcommon.CtxWithTx(ctx, tx)
	tctx = context.WithValue(tctx, txGuardKey{}, &txGuard{bumped: map[string]bool{}})

	if err := fn(tctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Lock implements cart.Locking: it takes the record's row lock for the
// rest of the surrounding transaction, so concurrent read-modify-write
// cycles on the same key serialize before their first read. A missing row
// locks nothing; creation races are resolved by the insert-on-conflict in
// the write path. No-op outside a transaction or with locking disabled.
func (s *CartStoragePG) Lock(ctx context.Context, identifier, instance string) error {
	if !s.opts.LockForUpdate || dbcommon.TxFromCtx(ctx) == nil {
		return nil
	}
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	row := runner.QueryRowContext(ctx,
		`SELECT version FROM carts WHERE identifier = $1 AND instance = $2 FOR UPDATE`,
		id, inst,
	)
	_, err = versionFromRow(row)
	return err
}

// ----------------------------
// Storage implementation
// ----------------------------

func (s *CartStoragePG) GetItems(ctx context.Context, identifier, instance string) ([]cartdom.ItemRecord, error) {
	var out []cartdom.ItemRecord
	if err := s.getColumn(ctx, identifier, instance, "items", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartStoragePG) PutItems(ctx context.Context, identifier, instance string, items []cartdom.ItemRecord) error {
	if items == nil {
		items = []cartdom.ItemRecord{}
	}
	return s.putColumn(ctx, identifier, instance, "items", items)
}

func (s *CartStoragePG) GetConditions(ctx context.Context, identifier, instance string) ([]cartdom.ConditionRecord, error) {
	var out []cartdom.ConditionRecord
	if err := s.getColumn(ctx, identifier, instance, "conditions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartStoragePG) PutConditions(ctx context.Context, identifier, instance string, conds []cartdom.ConditionRecord) error {
	if conds == nil {
		conds = []cartdom.ConditionRecord{}
	}
	return s.putColumn(ctx, identifier, instance, "conditions", conds)
}

func (s *CartStoragePG) GetMetadata(ctx context.Context, identifier, instance string) (map[string]any, error) {
	var out map[string]any
	if err := s.getColumn(ctx, identifier, instance, "metadata", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CartStoragePG) PutMetadata(ctx context.Context, identifier, instance string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return s.putColumn(ctx, identifier, instance, "metadata", metadata)
}

func (s *CartStoragePG) Has(ctx context.Context, identifier, instance string) (bool, error) {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return false, err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	var exists bool
	err = runner.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM carts WHERE identifier = $1 AND instance = $2)`,
		id, inst,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Clear empties items and conditions but keeps the row, its metadata and
// its version history. Missing rows are a no-op.
func (s *CartStoragePG) Clear(ctx context.Context, identifier, instance string) error {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	_, err = runner.ExecContext(ctx,
		`UPDATE carts
		    SET items = '[]'::jsonb,
		        conditions = '[]'::jsonb,
		        version = version + 1,
		        updated_at = now()
		  WHERE identifier = $1 AND instance = $2`,
		id, inst,
	)
	return err
}

func (s *CartStoragePG) Forget(ctx context.Context, identifier, instance string) error {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	_, err = runner.ExecContext(ctx,
		`DELETE FROM carts WHERE identifier = $1 AND instance = $2`,
		id, inst,
	)
	return err
}

// Rekey transfers the row to a new identifier. The primary key makes the
// transfer atomic: a concurrent row under the new identifier surfaces as a
// unique violation.
func (s *CartStoragePG) Rekey(ctx context.Context, oldIdentifier, newIdentifier, instance string) error {
	oldID, inst, err := s.key(oldIdentifier, instance)
	if err != nil {
		return err
	}
	newID := strings.TrimSpace(newIdentifier)
	if newID == "" {
		return errors.New("cart_storage_pg: new identifier is empty")
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	res, err := runner.ExecContext(ctx,
		`UPDATE carts
		    SET identifier = $1,
		        version = version + 1,
		        updated_at = now()
		  WHERE identifier = $2 AND instance = $3`,
		newID, oldID, inst,
	)
	if err != nil {
		if dbcommon.IsUniqueViolation(err) {
			return cartdom.ErrRecordExists
		}
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return cartdom.ErrRecordNotFound
	}
	return nil
}

// Version implements cart.Versioned. Missing rows report version 0.
func (s *CartStoragePG) Version(ctx context.Context, identifier, instance string) (int64, error) {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return 0, err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	row := runner.QueryRowContext(ctx,
		`SELECT version FROM carts WHERE identifier = $1 AND instance = $2`,
		id, inst,
	)
	return versionFromRow(row)
}

// versionFromRow scans a single version column, mapping a missing row to
// version 0.
func versionFromRow(row dbcommon.RowScanner) (int64, error) {
	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// ----------------------------
// Row plumbing
// ----------------------------

func (s *CartStoragePG) check() error {
	if s == nil || s.DB == nil {
		return errors.New("cart_storage_pg: database handle is nil")
	}
	return nil
}

func (s *CartStoragePG) key(identifier, instance string) (string, string, error) {
	if err := s.check(); err != nil {
		return "", "", err
	}
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", "", errors.New("cart_storage_pg: identifier is empty")
	}
	inst := strings.TrimSpace(instance)
	if inst == "" {
		return "", "", errors.New("cart_storage_pg: instance is empty")
	}
	return id, inst, nil
}

func (s *CartStoragePG) getColumn(ctx context.Context, identifier, instance, column string, dest any) error {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)
	var raw []byte
	err = runner.QueryRowContext(ctx,
		// column is an internal constant, never caller input
		fmt.Sprintf(`SELECT %s FROM carts WHERE identifier = $1 AND instance = $2`, column),
		id, inst,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// putColumn is the shared write path: ensure the row, guard the version,
// overwrite one jsonb column. The version check and bump happen at most
// once per transaction.
func (s *CartStoragePG) putColumn(ctx context.Context, identifier, instance, column string, payload any) error {
	id, inst, err := s.key(identifier, instance)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	runner := dbcommon.GetRunner(ctx, s.DB)

	_, err = runner.ExecContext(ctx,
		`INSERT INTO carts (identifier, instance)
		 VALUES ($1, $2)
		 ON CONFLICT (identifier, instance) DO NOTHING`,
		id, inst,
	)
	if err != nil {
		return err
	}

	guard := guardFromCtx(ctx)
	guardKey := id + "\x00" + inst

	if guard != nil && guard.bumped[guardKey] {
		_, err = runner.ExecContext(ctx,
			fmt.Sprintf(`UPDATE carts SET %s = $1, updated_at = now()
			  WHERE identifier = $2 AND instance = $3`, column),
			raw, id, inst,
		)
		return err
	}

	if err := s.guardVersion(ctx, runner, id, inst); err != nil {
		return err
	}

	_, err = runner.ExecContext(ctx,
		fmt.Sprintf(`UPDATE carts SET %s = $1, version = version + 1, updated_at = now()
		  WHERE identifier = $2 AND instance = $3`, column),
		raw, id, inst,
	)
	if err != nil {
		return err
	}

	if guard != nil {
		guard.bumped[guardKey] = true
	}
	return nil
}

// guardVersion re-reads the stored version, optionally under a row lock,
// and enforces the conflict policy against the caller's expected version.
func (s *CartStoragePG) guardVersion(ctx context.Context, runner dbcommon.Runner, id, inst string) error {
	expected, hasExpected := cartdom.ExpectedVersionFromContext(ctx)
	needCheck := s.opts.ConflictPolicy == ConflictReject && hasExpected
	lock := s.opts.LockForUpdate && dbcommon.TxFromCtx(ctx) != nil

	if !needCheck && !lock {
		return nil
	}

	query := `SELECT version FROM carts WHERE identifier = $1 AND instance = $2`
	if lock {
		query += ` FOR UPDATE`
	}

	stored, err := versionFromRow(runner.QueryRowContext(ctx, query, id, inst))
	if err != nil {
		return err
	}

	if needCheck && stored != expected {
		return fmt.Errorf("%w: expected=%d stored=%d", cartdom.ErrVersionConflict, expected, stored)
	}
	return nil
}
