package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError reports the product and base-unit quantities that
// made a stock debit impossible. It matches ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int64
	Required    int64
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s (%s): available %d, required %d", name, e.ProductID, e.Available, e.Required)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Repository is the persistence boundary. Every mutation of products, cash
// sessions, cash movements, sales and purchases happens inside WithinTx.
type Repository interface {
	// WithinTx runs fn in one serializable unit of work. The unit commits
	// only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	// LockProduct reads a product and holds it until the unit of work ends.
	LockProduct(ctx context.Context, productID string) (*domain.Product, error)
	// AdjustStock applies delta to StockOnHand and returns the new level.
	// It fails with ErrInsufficientStock when the result would be negative.
	AdjustStock(ctx context.Context, productID string, delta int64) (int64, error)
	GetPresentation(ctx context.Context, productID string, unitID string) (*domain.UnitPresentation, error)
	UpsertPresentation(ctx context.Context, presentation domain.UnitPresentation) error

	// CreateCashSession fails with ErrConflict while another session is open.
	CreateCashSession(ctx context.Context, session domain.CashSession) error
	GetCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error)
	LockCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error)
	// GetOpenCashSession returns ErrNotFound when no session is open.
	GetOpenCashSession(ctx context.Context) (*domain.CashSession, error)
	// CloseCashSession fails with ErrInvalidState when the session is already closed.
	CloseCashSession(ctx context.Context, sessionID string, closingAmount decimal.Decimal, closedAt time.Time) error
	AppendCashMovement(ctx context.Context, movement domain.CashMovement) error
	SumCashMovements(ctx context.Context, sessionID string, types []domain.CashMovementType) (decimal.Decimal, error)
	ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)

	// SaveSale upserts the header and replaces the line set.
	SaveSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	LockSale(ctx context.Context, saleID string) (*domain.Sale, error)

	SavePurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error)
	LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error)
}
