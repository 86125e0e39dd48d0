// Package market implements the marketplace catalog and purchase
// orchestration.
//
// Two payment paths exist. Car items are paid directly on chain: the
// buyer pays the treasury in tokens and the digest is verified before
// the purchase commits. Everything else is paid off-chain with wheelz
// through the ledger. Either way a purchase that commits stays
// committed: minting failures never roll it back.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/idgen"
)

var (
	ErrItemNotFound     = errors.New("market: item not found")
	ErrItemUnavailable  = errors.New("market: item not available")
	ErrOutOfStock       = errors.New("market: item out of stock")
	ErrInvalidItemType  = errors.New("market: invalid item type")
	ErrInvalidQuantity  = errors.New("market: invalid quantity")
	ErrPaymentRequired  = errors.New("market: on-chain payment digest required")
	ErrPurchaseNotFound = errors.New("market: purchase not found")
)

// ItemType is the explicit item classification. Car items settle on
// chain and mint an NFT per unit; all other types settle in wheelz.
type ItemType string

const (
	TypeCar        ItemType = "car"
	TypeConsumable ItemType = "consumable"
	TypeUpgrade    ItemType = "upgrade"
	TypeCurrency   ItemType = "currency"
	TypeOther      ItemType = "other"
)

// Valid reports whether the type is one of the known values.
func (t ItemType) Valid() bool {
	switch t {
	case TypeCar, TypeConsumable, TypeUpgrade, TypeCurrency, TypeOther:
		return true
	}
	return false
}

// ItemStatus gates purchasability.
type ItemStatus string

const (
	StatusActive   ItemStatus = "active"
	StatusInactive ItemStatus = "inactive"
	StatusSoldOut  ItemStatus = "sold_out"
)

// Item is a marketplace listing. A nil Stock means unlimited.
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        ItemType        `json:"type"`
	Price       decimal.Decimal `json:"price"` // wheelz
	Stock       *int            `json:"stock,omitempty"`
	Status      ItemStatus      `json:"status"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CarType     string          `json:"carType,omitempty"` // mint attribute for car items
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Purchase records a committed marketplace purchase.
type Purchase struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	ItemID         string          `json:"itemId"`
	Quantity       int             `json:"quantity"`
	Total          decimal.Decimal `json:"total"`
	Digest         string          `json:"digest,omitempty"` // on-chain payment, car items
	LedgerRecordID string          `json:"ledgerRecordId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewItemID returns a fresh item identifier.
func NewItemID() string {
	return idgen.WithPrefix("itm_")
}

// NewPurchaseID returns a fresh purchase identifier.
func NewPurchaseID() string {
	return idgen.WithPrefix("pur_")
}

// Store persists items and purchases.
//
// DecrementStock must be atomic: it fails with ErrOutOfStock rather
// than letting stock go negative, leaves unlimited (nil) stock alone,
// and flips the item to sold_out when stock reaches zero.
type Store interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	ListItems(ctx context.Context, includeInactive bool) ([]*Item, error)
	DecrementStock(ctx context.Context, itemID string, qty int) error
	RestoreStock(ctx context.Context, itemID string, qty int) error
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, id string) (*Purchase, error)
	ListPurchases(ctx context.Context, accountID string, limit int) ([]*Purchase, error)
}
