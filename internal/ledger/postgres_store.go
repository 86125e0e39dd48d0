package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/pagination"
)

// Postgres error codes worth translating to sentinel errors.
const (
	pgCheckViolation  = "23514"
	pgUniqueViolation = "23505"
)

// PostgresStore implements Store with PostgreSQL.
//
// Balances live in account_balances with a CHECK (balance >= 0)
// constraint; the balance update and the record insert always commit in
// one transaction. Digest uniqueness is a partial unique index on
// transaction_records.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM account_balances WHERE account_id = $1
	`, accountID).Scan(&bal)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

func (p *PostgresStore) Apply(ctx context.Context, accountID string, delta decimal.Decimal, rec *Record) (decimal.Decimal, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	var newBalance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		INSERT INTO account_balances (account_id, balance, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			balance    = account_balances.balance + $2::NUMERIC(20,6),
			updated_at = NOW()
		RETURNING balance
	`, accountID, delta).Scan(&newBalance)
	if err != nil {
		return decimal.Zero, translatePG(err, "failed to update balance")
	}

	prior := newBalance.Sub(delta)
	if err := insertRecord(ctx, tx, rec, prior, newBalance); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (p *PostgresStore) Set(ctx context.Context, accountID string, amount decimal.Decimal, rec *Record) (decimal.Decimal, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	var prior decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM account_balances WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&prior)
	if err != nil && err != sql.ErrNoRows {
		return decimal.Zero, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, balance, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			balance    = $2::NUMERIC(20,6),
			updated_at = NOW()
	`, accountID, amount)
	if err != nil {
		return decimal.Zero, translatePG(err, "failed to set balance")
	}

	if err := insertRecord(ctx, tx, rec, prior, amount); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *Record, prior, next decimal.Decimal) error {
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string)
	}
	rec.Metadata[MetaPriorBalance] = prior.String()
	rec.Metadata[MetaNewBalance] = next.String()

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transaction_records (id, account_id, kind, amount, digest, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), NULLIF($5, ''), $6, $7, NOW(), NOW())
	`, rec.ID, rec.AccountID, rec.Kind, rec.Amount, rec.Digest, rec.Status, meta)
	if err != nil {
		return translatePG(err, "failed to insert record")
	}
	return nil
}

func (p *PostgresStore) HasDigest(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM transaction_records WHERE digest = $1)
	`, digest).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) Record(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, recordQuery+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (p *PostgresStore) History(ctx context.Context, accountID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	query := recordQuery + `
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	args := []any{accountID, limit}
	if before != nil {
		query = recordQuery + `
			WHERE account_id = $1 AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		args = append(args, before.CreatedAt, before.ID)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, kind Kind, status Status, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, recordQuery+`
		WHERE kind = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, kind, status, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (p *PostgresStore) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM account_balances
	`).Scan(&total)
	return total, err
}

func (p *PostgresStore) SumByStatus(ctx context.Context, kind Kind, status Status) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transaction_records
		WHERE kind = $1 AND status = $2
	`, kind, status).Scan(&total)
	return total, err
}

func (p *PostgresStore) Complete(ctx context.Context, id, digest string, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE transaction_records SET
			status     = 'completed',
			digest     = COALESCE(NULLIF($2, ''), digest),
			metadata   = metadata || $3::JSONB,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, digest, metaJSON)
	if err != nil {
		return translatePG(err, "failed to complete record")
	}
	return p.checkUpdated(ctx, result, id)
}

func (p *PostgresStore) Reverse(ctx context.Context, id string, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		accountID string
		amount    decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE transaction_records SET
			status     = 'failed',
			metadata   = metadata || $2::JSONB,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING account_id, amount
	`, id, metaJSON).Scan(&accountID, &amount)
	if err == sql.ErrNoRows {
		return p.notPendingError(ctx, id)
	}
	if err != nil {
		return translatePG(err, "failed to reverse record")
	}

	// Return the held funds to the account.
	_, err = tx.ExecContext(ctx, `
		UPDATE account_balances SET
			balance    = balance + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE account_id = $1
	`, accountID, amount)
	if err != nil {
		return translatePG(err, "failed to return funds")
	}

	return tx.Commit()
}

func (p *PostgresStore) checkUpdated(ctx context.Context, result sql.Result, id string) error {
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	return p.notPendingError(ctx, id)
}

// notPendingError distinguishes a missing record from one whose status
// already moved past pending.
func (p *PostgresStore) notPendingError(ctx context.Context, id string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM transaction_records WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrAlreadyProcessed
	}
	return ErrRecordNotFound
}

const recordQuery = `
	SELECT id, account_id, kind, amount, COALESCE(digest, ''), status, metadata, created_at, updated_at
	FROM transaction_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var meta []byte
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Kind, &rec.Amount, &rec.Digest,
		&rec.Status, &meta, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// translatePG maps constraint violations onto the package's sentinel
// errors so callers never see driver-level codes.
func translatePG(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgCheckViolation:
			return ErrInsufficientBalance
		case pgUniqueViolation:
			return ErrDuplicateReference
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
