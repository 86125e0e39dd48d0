// Package account implements player account registration and lookup.
//
// An account is the off-chain identity that owns a wheelz balance and a
// garage. Linking a chain wallet address is optional at registration
// and required only for on-chain flows (top-up, withdrawal, NFT
// purchases).
package account

import (
	"context"
	"errors"
	"time"

	"github.com/blastwheelz/backend/internal/idgen"
)

var (
	ErrNotFound      = errors.New("account: not found")
	ErrHandleTaken   = errors.New("account: handle already taken")
	ErrWalletLinked  = errors.New("account: wallet address already linked")
	ErrInvalidHandle = errors.New("account: invalid handle")
)

// Role gates privileged operations. Privileged accounts reach the
// admin surface in addition to their own resources.
type Role string

const (
	RoleStandard   Role = "standard"
	RolePrivileged Role = "privileged"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RolePrivileged
}

// Account is a registered player.
type Account struct {
	ID            string    `json:"id"`
	Handle        string    `json:"handle"`
	WalletAddress string    `json:"walletAddress,omitempty"` // "" until linked
	Role          Role      `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewID returns a fresh account identifier.
func NewID() string {
	return idgen.WithPrefix("acc_")
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByWallet(ctx context.Context, address string) (*Account, error)
	GetByHandle(ctx context.Context, handle string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	List(ctx context.Context, limit, offset int) ([]*Account, error)
}
