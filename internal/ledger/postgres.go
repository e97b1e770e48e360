package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const assetCountCounter = "asset_count"

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the ledger mappings in PostgreSQL, one table per
// mapping. Amounts are stored as decimal strings.
type PostgresStore struct {
	pgReader
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store. Call EnsureSchema
// before first use on an empty database.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: db}, db: db}
}

// EnsureSchema creates the ledger tables when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// Commit applies b in one transaction. The asset counter row is locked
// first, which serializes commits across every process sharing the database.
func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var locked string
	if err := tx.QueryRow(ctx, `SELECT value FROM ledger_counters WHERE name = $1 FOR UPDATE`, assetCountCounter).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger_counters not initialised, run EnsureSchema")
		}
		return err
	}

	if err := b.checkGuards(ctx, pgReader{q: tx}); err != nil {
		return err
	}

	for _, w := range b.writes {
		if err := execWrite(ctx, tx, w); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller that opened it.
func (s *PostgresStore) Close() error {
	return nil
}

func execWrite(ctx context.Context, tx pgx.Tx, w write) error {
	var err error
	switch w.kind {
	case writeBalance:
		if w.remove {
			_, err = tx.Exec(ctx, `DELETE FROM asset_balances WHERE asset_id = $1 AND account_id = $2`, string(w.asset), string(w.account))
			break
		}
		_, err = tx.Exec(ctx, `INSERT INTO asset_balances (asset_id, account_id, amount) VALUES ($1, $2, $3)
            ON CONFLICT (asset_id, account_id) DO UPDATE SET amount = EXCLUDED.amount`, string(w.asset), string(w.account), w.amount.String())
	case writeTotalSupply:
		_, err = tx.Exec(ctx, `INSERT INTO asset_supplies (asset_id, total_supply) VALUES ($1, $2)
            ON CONFLICT (asset_id) DO UPDATE SET total_supply = EXCLUDED.total_supply`, string(w.asset), w.amount.String())
	case writeDescriptor:
		data := w.data
		if data == nil {
			data = []byte{}
		}
		_, err = tx.Exec(ctx, `INSERT INTO asset_descriptors (asset_id, descriptor) VALUES ($1, $2)
            ON CONFLICT (asset_id) DO UPDATE SET descriptor = EXCLUDED.descriptor`, string(w.asset), data)
	case writeAssetCount:
		_, err = tx.Exec(ctx, `UPDATE ledger_counters SET value = $2 WHERE name = $1`, assetCountCounter, w.amount.String())
	case writeOperatorApproval:
		_, err = tx.Exec(ctx, `INSERT INTO operator_approvals (owner_id, operator_id, approved) VALUES ($1, $2, $3)
            ON CONFLICT (owner_id, operator_id) DO UPDATE SET approved = EXCLUDED.approved`, string(w.account), string(w.operator), w.flag)
	case writeMintApproval:
		_, err = tx.Exec(ctx, `INSERT INTO mint_approvals (asset_id, account_id, approved) VALUES ($1, $2, $3)
            ON CONFLICT (asset_id, account_id) DO UPDATE SET approved = EXCLUDED.approved`, string(w.asset), string(w.account), w.flag)
	default:
		return fmt.Errorf("unknown write kind %d", w.kind)
	}
	return err
}

// pgReader implements Reader over either the pool or an open transaction.
type pgReader struct {
	q pgQuerier
}

func (r pgReader) Balance(ctx context.Context, asset AssetID, account AccountID) (Amount, error) {
	return r.amount(ctx, `SELECT amount FROM asset_balances WHERE asset_id = $1 AND account_id = $2`, string(asset), string(account))
}

func (r pgReader) TotalSupply(ctx context.Context, asset AssetID) (Amount, error) {
	return r.amount(ctx, `SELECT total_supply FROM asset_supplies WHERE asset_id = $1`, string(asset))
}

func (r pgReader) Descriptor(ctx context.Context, asset AssetID) ([]byte, error) {
	var data []byte
	if err := r.q.QueryRow(ctx, `SELECT descriptor FROM asset_descriptors WHERE asset_id = $1`, string(asset)).Scan(&data); err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (r pgReader) AssetCount(ctx context.Context) (Amount, error) {
	count, err := r.amount(ctx, `SELECT value FROM ledger_counters WHERE name = $1`, assetCountCounter)
	if errors.Is(err, ErrNotFound) {
		return Amount{}, nil
	}
	return count, err
}

func (r pgReader) OperatorApproval(ctx context.Context, owner, operator AccountID) (bool, error) {
	var approved bool
	if err := r.q.QueryRow(ctx, `SELECT approved FROM operator_approvals WHERE owner_id = $1 AND operator_id = $2`, string(owner), string(operator)).Scan(&approved); err != nil {
		return false, notFound(err)
	}
	return approved, nil
}

func (r pgReader) MintApproval(ctx context.Context, asset AssetID, account AccountID) (bool, error) {
	var approved bool
	if err := r.q.QueryRow(ctx, `SELECT approved FROM mint_approvals WHERE asset_id = $1 AND account_id = $2`, string(asset), string(account)).Scan(&approved); err != nil {
		return false, notFound(err)
	}
	return approved, nil
}

func (r pgReader) amount(ctx context.Context, query string, args ...any) (Amount, error) {
	var raw string
	if err := r.q.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return Amount{}, notFound(err)
	}
	return ParseAmount(raw)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
