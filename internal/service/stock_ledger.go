package service

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

var maxBaseUnits = decimal.NewFromInt(math.MaxInt64)

// StockLedger is the only writer of Product.StockOnHand. Quantities are in
// base units; fractional results of a conversion are truncated toward zero
// because stock is tracked in whole units.
type StockLedger struct{}

// BaseUnits truncates a converted quantity to whole base units. A quantity
// that does not fit in an int64 is rejected rather than wrapped.
func BaseUnits(quantity decimal.Decimal) (int64, error) {
	whole := quantity.Truncate(0)
	if whole.IsNegative() || whole.GreaterThan(maxBaseUnits) {
		return 0, invalidArgument("%s base units is out of range", whole)
	}
	return whole.IntPart(), nil
}

func addBaseUnits(total int64, units int64) (int64, error) {
	if units > math.MaxInt64-total {
		return 0, invalidArgument("base unit total overflows: %d + %d", total, units)
	}
	return total + units, nil
}

// CheckAvailable locks the product row for the rest of the unit of work and
// reports whether it holds at least required base units.
func (StockLedger) CheckAvailable(ctx context.Context, tx store.Tx, productID string, required int64) (bool, int64, error) {
	product, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return false, 0, err
	}
	return product.StockOnHand >= required, product.StockOnHand, nil
}

func (StockLedger) Debit(ctx context.Context, tx store.Tx, fx *effects, productID string, quantity int64) error {
	if quantity < 0 {
		return invalidArgument("debit quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		return nil
	}
	if _, err := tx.AdjustStock(ctx, productID, -quantity); err != nil {
		return fmt.Errorf("debit stock %s: %w", productID, err)
	}
	fx.stockMoved("debit", quantity)
	return nil
}

func (StockLedger) Credit(ctx context.Context, tx store.Tx, fx *effects, productID string, quantity int64) error {
	if quantity < 0 {
		return invalidArgument("credit quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		return nil
	}
	if _, err := tx.AdjustStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("credit stock %s: %w", productID, err)
	}
	fx.stockMoved("credit", quantity)
	return nil
}
