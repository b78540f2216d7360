package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/xid"
)

// Movement types that raise or lower the expected drawer balance.
var (
	EntryTypes = []domain.CashMovementType{
		domain.CashMovementSale,
		domain.CashMovementDeposit,
		domain.CashMovementOpening,
	}
	ExitTypes = []domain.CashMovementType{
		domain.CashMovementPurchasePayment,
		domain.CashMovementExpense,
		domain.CashMovementWithdrawal,
	}
)

// CashLedger appends movements to a session. Movements are never updated or
// deleted; the direction of a movement is carried by its type.
type CashLedger struct{}

func (CashLedger) Append(ctx context.Context, tx store.Tx, fx *effects, movement domain.CashMovement) (domain.CashMovement, error) {
	if movement.Amount.IsNegative() {
		return domain.CashMovement{}, invalidArgument("cash movement amount must not be negative, got %s", movement.Amount)
	}
	if movement.SessionID == "" {
		return domain.CashMovement{}, invalidArgument("cash movement requires a session")
	}
	if movement.ID == "" {
		movement.ID = xid.New("cm")
	}
	if err := tx.AppendCashMovement(ctx, movement); err != nil {
		return domain.CashMovement{}, err
	}
	fx.cashMoved(movement.Type)
	return movement, nil
}

func (CashLedger) SumByTypes(ctx context.Context, tx store.Tx, sessionID string, types []domain.CashMovementType) (decimal.Decimal, error) {
	return tx.SumCashMovements(ctx, sessionID, types)
}

// Expected derives the balance a session should hold from its ledger alone.
// The Opening movement carries the opening amount, so it is counted once
// through the entry set rather than added again from the session header.
func (l CashLedger) Expected(ctx context.Context, tx store.Tx, sessionID string) (decimal.Decimal, error) {
	entries, err := l.SumByTypes(ctx, tx, sessionID, EntryTypes)
	if err != nil {
		return decimal.Zero, err
	}
	exits, err := l.SumByTypes(ctx, tx, sessionID, ExitTypes)
	if err != nil {
		return decimal.Zero, err
	}
	return entries.Sub(exits), nil
}
