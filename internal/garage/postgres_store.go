package garage

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed garage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO owned_assets
			(id, account_id, object_id, kiosk_id, kiosk_owner_cap_id, owner_address,
			 name, description, image_url, car_type, purchase_id, digest, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6,
			$7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13)
	`, a.ID, a.AccountID, a.ObjectID, a.KioskID, a.KioskOwnerCapID, a.OwnerAddress,
		a.Name, a.Description, a.ImageURL, a.CarType, a.PurchaseID, a.Digest, a.CreatedAt)
	return err
}

func (p *PostgresStore) ListAssets(ctx context.Context, accountID string, limit int) ([]*Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, object_id, COALESCE(kiosk_id, ''), COALESCE(kiosk_owner_cap_id, ''),
			owner_address, name, COALESCE(description, ''), COALESCE(image_url, ''),
			COALESCE(car_type, ''), COALESCE(purchase_id, ''), COALESCE(digest, ''), created_at
		FROM owned_assets
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a := &Asset{}
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ObjectID, &a.KioskID, &a.KioskOwnerCapID,
			&a.OwnerAddress, &a.Name, &a.Description, &a.ImageURL,
			&a.CarType, &a.PurchaseID, &a.Digest, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const jobColumns = `id, account_id, purchase_id, recipient, name, COALESCE(description, ''),
	COALESCE(image_url, ''), COALESCE(car_type, ''), status, attempts, COALESCE(last_error, ''),
	COALESCE(mint_digest, ''), COALESCE(nft_object_id, ''), COALESCE(kiosk_id, ''),
	COALESCE(kiosk_owner_cap_id, ''), created_at, updated_at`

func (p *PostgresStore) CreateJob(ctx context.Context, j *MintJob) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mint_jobs
			(id, account_id, purchase_id, recipient, name, description, image_url, car_type,
			 status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			$9, $10, NULLIF($11, ''), $12, $13)
	`, j.ID, j.AccountID, j.PurchaseID, j.Recipient, j.Name, j.Description, j.ImageURL, j.CarType,
		j.Status, j.Attempts, j.LastError, j.CreatedAt, j.UpdatedAt)
	return err
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (*MintJob, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM mint_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (p *PostgresStore) PendingJobs(ctx context.Context, limit int) ([]*MintJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM mint_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateJob(ctx context.Context, j *MintJob) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE mint_jobs SET
			status             = $2,
			attempts           = $3,
			last_error         = NULLIF($4, ''),
			mint_digest        = NULLIF($5, ''),
			nft_object_id      = NULLIF($6, ''),
			kiosk_id           = NULLIF($7, ''),
			kiosk_owner_cap_id = NULLIF($8, ''),
			updated_at         = NOW()
		WHERE id = $1
	`, j.ID, j.Status, j.Attempts, j.LastError,
		j.MintDigest, j.NFTObjectID, j.KioskID, j.KioskOwnerCapID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*MintJob, error) {
	j := &MintJob{}
	err := row.Scan(&j.ID, &j.AccountID, &j.PurchaseID, &j.Recipient, &j.Name, &j.Description,
		&j.ImageURL, &j.CarType, &j.Status, &j.Attempts, &j.LastError,
		&j.MintDigest, &j.NFTObjectID, &j.KioskID, &j.KioskOwnerCapID,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}
