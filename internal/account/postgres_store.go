package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, handle, COALESCE(wallet_address, ''), role, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, handle, wallet_address, role, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, a.ID, a.Handle, strings.ToLower(a.WalletAddress), a.Role, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return translateConflict(err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return p.getOne(ctx, `WHERE id = $1`, id)
}

func (p *PostgresStore) GetByWallet(ctx context.Context, address string) (*Account, error) {
	return p.getOne(ctx, `WHERE wallet_address = $1`, strings.ToLower(address))
}

func (p *PostgresStore) GetByHandle(ctx context.Context, handle string) (*Account, error) {
	return p.getOne(ctx, `WHERE LOWER(handle) = LOWER($1)`, handle)
}

func (p *PostgresStore) getOne(ctx context.Context, where string, arg any) (*Account, error) {
	a := &Account{}
	err := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts `+where, arg,
	).Scan(&a.ID, &a.Handle, &a.WalletAddress, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			handle         = $2,
			wallet_address = NULLIF($3, ''),
			role           = $4,
			updated_at     = NOW()
		WHERE id = $1
	`, a.ID, a.Handle, strings.ToLower(a.WalletAddress), a.Role)
	if err != nil {
		return translateConflict(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.ID, &a.Handle, &a.WalletAddress, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// translateConflict maps unique violations onto the package's sentinel
// errors based on the constraint that fired.
func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "wallet") {
			return ErrWalletLinked
		}
		return ErrHandleTaken
	}
	return err
}
