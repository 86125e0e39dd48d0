// Package garage tracks the NFTs owned by each account and runs the
// mint outbox.
//
// Minting is deliberately decoupled from purchasing: a committed car
// purchase enqueues one mint job per unit, and the outbox delivers them
// with retries. A mint that keeps failing marks its job failed for
// admin attention; the purchase itself is never rolled back.
package garage

import (
	"context"
	"errors"
	"time"

	"github.com/blastwheelz/backend/internal/idgen"
)

var (
	ErrAssetNotFound  = errors.New("garage: asset not found")
	ErrJobNotFound    = errors.New("garage: mint job not found")
	ErrJobNotRetrying = errors.New("garage: mint job is not retryable")
)

// Asset is an NFT recorded as owned by an account.
type Asset struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	ObjectID        string    `json:"objectId"`
	KioskID         string    `json:"kioskId,omitempty"`
	KioskOwnerCapID string    `json:"kioskOwnerCapId,omitempty"`
	OwnerAddress    string    `json:"ownerAddress"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	CarType         string    `json:"carType,omitempty"`
	PurchaseID      string    `json:"purchaseId,omitempty"` // "" for assets seen outside a purchase
	Digest          string    `json:"digest,omitempty"`     // mint transaction
	CreatedAt       time.Time `json:"createdAt"`
}

// JobStatus of a mint outbox job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// MintJob is one outbox row: an NFT owed to a buyer. Once a mint lands
// on chain its digest and object ids are persisted on the job, so a
// retry after a failed asset insert records the existing NFT instead of
// minting another one.
type MintJob struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	PurchaseID      string    `json:"purchaseId"`
	Recipient       string    `json:"recipient"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	CarType         string    `json:"carType,omitempty"`
	Status          JobStatus `json:"status"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"lastError,omitempty"`
	MintDigest      string    `json:"mintDigest,omitempty"`
	NFTObjectID     string    `json:"nftObjectId,omitempty"`
	KioskID         string    `json:"kioskId,omitempty"`
	KioskOwnerCapID string    `json:"kioskOwnerCapId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewAssetID returns a fresh asset identifier.
func NewAssetID() string {
	return idgen.WithPrefix("ast_")
}

// NewJobID returns a fresh mint job identifier.
func NewJobID() string {
	return idgen.WithPrefix("mint_")
}

// Store persists assets and mint jobs.
type Store interface {
	CreateAsset(ctx context.Context, a *Asset) error
	ListAssets(ctx context.Context, accountID string, limit int) ([]*Asset, error)
	CreateJob(ctx context.Context, j *MintJob) error
	GetJob(ctx context.Context, id string) (*MintJob, error)
	// PendingJobs returns pending jobs oldest first.
	PendingJobs(ctx context.Context, limit int) ([]*MintJob, error)
	UpdateJob(ctx context.Context, j *MintJob) error
}
