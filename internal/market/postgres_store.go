package market

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL. Stock arithmetic
// happens in single UPDATE statements; a CHECK (stock >= 0) constraint
// backstops the guard under races.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed market store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, name, COALESCE(description, ''), type, price, stock, status,
	COALESCE(image_url, ''), COALESCE(car_type, ''), created_at, updated_at`

func (p *PostgresStore) CreateItem(ctx context.Context, item *Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO marketplace_items
			(id, name, description, type, price, stock, status, image_url, car_type, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::NUMERIC(20,6), $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, item.ID, item.Name, item.Description, item.Type, item.Price, item.Stock,
		item.Status, item.ImageURL, item.CarType, item.CreatedAt, item.UpdatedAt)
	return err
}

func (p *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM marketplace_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	return item, err
}

func (p *PostgresStore) UpdateItem(ctx context.Context, item *Item) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE marketplace_items SET
			name        = $2,
			description = NULLIF($3, ''),
			type        = $4,
			price       = $5::NUMERIC(20,6),
			stock       = $6,
			status      = $7,
			image_url   = NULLIF($8, ''),
			car_type    = NULLIF($9, ''),
			updated_at  = NOW()
		WHERE id = $1
	`, item.ID, item.Name, item.Description, item.Type, item.Price, item.Stock,
		item.Status, item.ImageURL, item.CarType)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (p *PostgresStore) ListItems(ctx context.Context, includeInactive bool) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM marketplace_items`
	if !includeInactive {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DecrementStock takes qty units in one statement. The WHERE clause
// refuses inactive items and undersell; zero rows means one of the
// guards fired and a follow-up read picks the right error.
func (p *PostgresStore) DecrementStock(ctx context.Context, itemID string, qty int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE marketplace_items SET
			stock = stock - $2,
			status = CASE WHEN stock - $2 = 0 THEN 'sold_out' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND stock IS NOT NULL AND stock >= $2
	`, itemID, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	item, err := p.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	switch {
	case item.Status != StatusActive:
		return ErrItemUnavailable
	case item.Stock == nil:
		// Unlimited stock, nothing to decrement.
		return nil
	default:
		return ErrOutOfStock
	}
}

func (p *PostgresStore) RestoreStock(ctx context.Context, itemID string, qty int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE marketplace_items SET
			stock = stock + $2,
			status = CASE WHEN status = 'sold_out' THEN 'active' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND stock IS NOT NULL
	`, itemID, qty)
	return err
}

func (p *PostgresStore) CreatePurchase(ctx context.Context, pu *Purchase) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO marketplace_purchases
			(id, account_id, item_id, quantity, total, digest, ledger_record_id, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), NULLIF($6, ''), NULLIF($7, ''), $8)
	`, pu.ID, pu.AccountID, pu.ItemID, pu.Quantity, pu.Total, pu.Digest, pu.LedgerRecordID, pu.CreatedAt)
	return err
}

const purchaseColumns = `id, account_id, item_id, quantity, total,
	COALESCE(digest, ''), COALESCE(ledger_record_id, ''), created_at`

func (p *PostgresStore) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	pu := &Purchase{}
	err := p.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM marketplace_purchases WHERE id = $1`, id,
	).Scan(&pu.ID, &pu.AccountID, &pu.ItemID, &pu.Quantity, &pu.Total,
		&pu.Digest, &pu.LedgerRecordID, &pu.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return pu, nil
}

func (p *PostgresStore) ListPurchases(ctx context.Context, accountID string, limit int) ([]*Purchase, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+` FROM marketplace_purchases
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Purchase
	for rows.Next() {
		pu := &Purchase{}
		if err := rows.Scan(&pu.ID, &pu.AccountID, &pu.ItemID, &pu.Quantity, &pu.Total,
			&pu.Digest, &pu.LedgerRecordID, &pu.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pu)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	item := &Item{}
	var stock sql.NullInt64
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Type, &item.Price,
		&stock, &item.Status, &item.ImageURL, &item.CarType, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if stock.Valid {
		v := int(stock.Int64)
		item.Stock = &v
	}
	return item, nil
}
