package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/xid"
)

// CreatePurchase records an order from a supplier. A line without a unit
// cost takes the resolved cost of its presentation.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	supplierID := normalizeID(req.SupplierID)
	if supplierID == "" {
		return domain.Purchase{}, invalidArgument("supplier_id is required")
	}
	for i, line := range req.Lines {
		if normalizeID(line.ProductID) == "" {
			return domain.Purchase{}, invalidArgument("line %d: product_id is required", i+1)
		}
		if !line.Quantity.IsPositive() {
			return domain.Purchase{}, invalidArgument("line %d: quantity must be greater than zero", i+1)
		}
		if line.UnitCost.Valid && line.UnitCost.Decimal.IsNegative() {
			return domain.Purchase{}, invalidArgument("line %d: unit_cost must not be negative", i+1)
		}
		if err := checkNumeric(fmt.Sprintf("line %d: quantity", i+1), line.Quantity, quantityPlaces); err != nil {
			return domain.Purchase{}, err
		}
		if line.UnitCost.Valid {
			if err := checkNumeric(fmt.Sprintf("line %d: unit_cost", i+1), line.UnitCost.Decimal, pricePlaces); err != nil {
				return domain.Purchase{}, err
			}
		}
	}

	purchase := domain.Purchase{
		ID:         xid.New("po"),
		SupplierID: supplierID,
		Status:     domain.PurchaseStatusOrdered,
		OrderedAt:  s.now(),
		TotalCost:  decimal.Zero,
		Active:     true,
		Lines:      make([]domain.PurchaseLine, 0, len(req.Lines)),
	}

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		purchase.Lines = purchase.Lines[:0]
		purchase.TotalCost = decimal.Zero
		for i, line := range req.Lines {
			conv, err := s.resolver.Resolve(ctx, tx, normalizeID(line.ProductID), normalizeID(line.UnitID))
			if err != nil {
				return err
			}
			unitCost := conv.UnitCost
			if line.UnitCost.Valid {
				unitCost = line.UnitCost.Decimal
			}
			lineTotal := round2(line.Quantity.Mul(unitCost))
			purchase.Lines = append(purchase.Lines, domain.PurchaseLine{
				ID:         xid.New("pl"),
				PurchaseID: purchase.ID,
				Position:   i + 1,
				ProductID:  conv.ProductID,
				UnitID:     conv.UnitID,
				Quantity:   line.Quantity,
				UnitCost:   unitCost,
				LineTotal:  lineTotal,
			})
			purchase.TotalCost = purchase.TotalCost.Add(lineTotal)
		}
		if err := checkNumeric("total_cost", purchase.TotalCost, moneyPlaces); err != nil {
			return err
		}
		return tx.SavePurchase(ctx, purchase)
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_create", "purchase", purchase.ID, logrus.Fields{
		"supplier_id": supplierID,
		"lines":       len(purchase.Lines),
		"total_cost":  purchase.TotalCost.String(),
	})
	return purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	var purchase domain.Purchase
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetPurchase(ctx, normalizeID(purchaseID))
		if err != nil {
			return err
		}
		purchase = *found
		return nil
	})
	return purchase, err
}

// ReceivePurchase credits the ordered goods to stock, marks the purchase
// Received and, when paid from the drawer, books a PurchasePayment against
// the given open session.
func (s *Service) ReceivePurchase(ctx context.Context, purchaseID string, payInCash bool, cashSessionID string) (purchase domain.Purchase, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("receive_purchase", startedAt, err) }()

	purchaseID = normalizeID(purchaseID)
	cashSessionID = normalizeID(cashSessionID)
	if purchaseID == "" {
		return domain.Purchase{}, invalidArgument("purchase id is required")
	}

	fx := &effects{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		fx.reset()
		found, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		switch found.Status {
		case domain.PurchaseStatusReceived:
			return invalidState("purchase %s was already received", purchaseID)
		case domain.PurchaseStatusCancelled:
			return invalidState("purchase %s is cancelled", purchaseID)
		}
		if len(found.Lines) == 0 {
			return invalidState("purchase %s has no lines", purchaseID)
		}

		var session *domain.CashSession
		if payInCash {
			if cashSessionID == "" {
				return invalidArgument("cash_session_id is required when paying in cash")
			}
			session, err = tx.LockCashSession(ctx, cashSessionID)
			if err != nil {
				return err
			}
			if !session.IsOpen() {
				return invalidState("cash session %s is closed", cashSessionID)
			}
		}

		for _, line := range found.Lines {
			conv, err := s.resolver.Resolve(ctx, tx, line.ProductID, line.UnitID)
			if err != nil {
				return err
			}
			base, err := BaseUnits(ToBaseUnits(line.Quantity, conv.ConversionFactor))
			if err != nil {
				return fmt.Errorf("line %s: %w", line.ID, err)
			}
			if err := s.stock.Credit(ctx, tx, fx, line.ProductID, base); err != nil {
				return err
			}
		}

		receivedAt := s.now()
		found.Status = domain.PurchaseStatusReceived
		found.ReceivedAt = &receivedAt
		if err := tx.SavePurchase(ctx, *found); err != nil {
			return err
		}

		if session != nil {
			if _, err := s.cash.Append(ctx, tx, fx, domain.CashMovement{
				SessionID:     session.ID,
				Type:          domain.CashMovementPurchasePayment,
				Amount:        found.TotalCost,
				RelatedID:     found.ID,
				RelatedEntity: "Purchase",
				CreatedAt:     receivedAt,
			}); err != nil {
				return err
			}
		}
		purchase = *found
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	s.publish(fx)

	s.logAudit(ctx, "purchase_receive", "purchase", purchase.ID, logrus.Fields{
		"pay_in_cash": payInCash,
		"session_id":  cashSessionID,
		"total_cost":  purchase.TotalCost.String(),
	})
	return purchase, nil
}

// CancelPurchase soft-deletes an order that was never received. Nothing was
// credited to stock, so nothing is reversed.
func (s *Service) CancelPurchase(ctx context.Context, purchaseID string, reason string) (purchase domain.Purchase, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("cancel_purchase", startedAt, err) }()

	purchaseID = normalizeID(purchaseID)
	reason = strings.TrimSpace(reason)
	if purchaseID == "" {
		return domain.Purchase{}, invalidArgument("purchase id is required")
	}
	if reason == "" {
		return domain.Purchase{}, invalidArgument("a cancellation reason is required")
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		switch found.Status {
		case domain.PurchaseStatusReceived:
			return invalidState("purchase %s was already received", purchaseID)
		case domain.PurchaseStatusCancelled:
			return invalidState("purchase %s is already cancelled", purchaseID)
		}

		now := s.now()
		found.Status = domain.PurchaseStatusCancelled
		found.Active = false
		found.CancelReason = reason
		found.DeletedAt = &now
		if err := tx.SavePurchase(ctx, *found); err != nil {
			return err
		}
		purchase = *found
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_cancel", "purchase", purchase.ID, logrus.Fields{"reason": reason})
	return purchase, nil
}
