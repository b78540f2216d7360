package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/xid"
)

// CreateSale opens a draft sale. Without an explicit session the sale is
// attached to the currently open one, if any.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	sessionID := normalizeID(req.CashSessionID)
	now := s.now()
	sale := domain.Sale{
		ID:         xid.New("sale"),
		Status:     domain.SaleStatusDraft,
		Subtotal:   decimal.Zero,
		TaxTotal:   decimal.Zero,
		GrandTotal: decimal.Zero,
		Lines:      []domain.SaleLine{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if sessionID != "" {
			session, err := tx.GetCashSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if !session.IsOpen() {
				return invalidState("cash session %s is closed", sessionID)
			}
			sale.CashSessionID = session.ID
		} else {
			session, err := tx.GetOpenCashSession(ctx)
			switch {
			case err == nil:
				sale.CashSessionID = session.ID
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		return tx.SaveSale(ctx, sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetSale(ctx, normalizeID(saleID))
		if err != nil {
			return err
		}
		sale = *found
		return nil
	})
	return sale, err
}

// AddSaleLine prices the line through the conversion resolver and copies
// the product's tax rate onto it.
func (s *Service) AddSaleLine(ctx context.Context, saleID string, req domain.SaleLineRequest) (domain.Sale, error) {
	productID := normalizeID(req.ProductID)
	if productID == "" {
		return domain.Sale{}, invalidArgument("product_id is required")
	}
	if !req.Quantity.IsPositive() {
		return domain.Sale{}, invalidArgument("quantity must be greater than zero")
	}
	if err := checkNumeric("quantity", req.Quantity, quantityPlaces); err != nil {
		return domain.Sale{}, err
	}

	return s.editDraft(ctx, saleID, func(tx store.Tx, sale *domain.Sale) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		conv, err := s.resolver.resolveFor(ctx, tx, product, normalizeID(req.UnitID))
		if err != nil {
			return err
		}
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ID:        xid.New("sl"),
			SaleID:    sale.ID,
			Position:  nextSalePosition(sale.Lines),
			ProductID: product.ID,
			UnitID:    conv.UnitID,
			Quantity:  req.Quantity,
			UnitPrice: conv.UnitPrice,
			TaxRate:   product.TaxRate,
		})
		return nil
	})
}

func (s *Service) UpdateSaleLine(ctx context.Context, saleID string, lineID string, req domain.SaleLineUpdateRequest) (domain.Sale, error) {
	if !req.Quantity.IsPositive() {
		return domain.Sale{}, invalidArgument("quantity must be greater than zero")
	}
	if err := checkNumeric("quantity", req.Quantity, quantityPlaces); err != nil {
		return domain.Sale{}, err
	}
	lineID = normalizeID(lineID)

	return s.editDraft(ctx, saleID, func(_ store.Tx, sale *domain.Sale) error {
		for i := range sale.Lines {
			if sale.Lines[i].ID == lineID {
				sale.Lines[i].Quantity = req.Quantity
				return nil
			}
		}
		return errSaleLineNotFound(sale.ID, lineID)
	})
}

func (s *Service) RemoveSaleLine(ctx context.Context, saleID string, lineID string) (domain.Sale, error) {
	lineID = normalizeID(lineID)

	return s.editDraft(ctx, saleID, func(_ store.Tx, sale *domain.Sale) error {
		for i := range sale.Lines {
			if sale.Lines[i].ID == lineID {
				sale.Lines = append(sale.Lines[:i], sale.Lines[i+1:]...)
				return nil
			}
		}
		return errSaleLineNotFound(sale.ID, lineID)
	})
}

// RecalculateTotals re-derives line and header totals of a draft from the
// current quantities and prices. Stock and cash are not touched.
func (s *Service) RecalculateTotals(ctx context.Context, saleID string) (domain.Sale, error) {
	return s.editDraft(ctx, saleID, func(store.Tx, *domain.Sale) error { return nil })
}

func (s *Service) editDraft(ctx context.Context, saleID string, edit func(tx store.Tx, sale *domain.Sale) error) (domain.Sale, error) {
	saleID = normalizeID(saleID)
	if saleID == "" {
		return domain.Sale{}, invalidArgument("sale id is required")
	}

	var sale domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if found.Status != domain.SaleStatusDraft {
			return invalidState("sale %s is %s, only Draft sales can be edited", saleID, found.Status)
		}
		if err := edit(tx, found); err != nil {
			return err
		}
		recalculateSale(found)
		if err := checkNumeric("grand_total", found.GrandTotal, moneyPlaces); err != nil {
			return err
		}
		found.UpdatedAt = s.now()
		if err := tx.SaveSale(ctx, *found); err != nil {
			return err
		}
		sale = *found
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

type stockRequirement struct {
	productID string
	required  int64
}

// FinalizeSale completes a draft sale. Totals are recomputed, stock is
// checked for every line before any of it is debited, the sale total is
// booked to the attached cash session, and the sale becomes Completed, all
// in one unit of work.
func (s *Service) FinalizeSale(ctx context.Context, saleID string) (sale domain.Sale, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("finalize_sale", startedAt, err) }()

	saleID = normalizeID(saleID)
	if saleID == "" {
		return domain.Sale{}, invalidArgument("sale id is required")
	}

	fx := &effects{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		fx.reset()
		found, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if found.Status != domain.SaleStatusDraft {
			return invalidState("sale %s is %s, only Draft sales can be finalized", saleID, found.Status)
		}
		if len(found.Lines) == 0 {
			return invalidState("sale %s has no lines", saleID)
		}
		if found.CashSessionID == "" {
			return invalidState("sale %s has no cash session attached", saleID)
		}
		session, err := tx.LockCashSession(ctx, found.CashSessionID)
		if errors.Is(err, store.ErrNotFound) {
			return invalidState("cash session %s attached to sale %s does not exist", found.CashSessionID, saleID)
		}
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return invalidState("cash session %s attached to sale %s is closed", session.ID, saleID)
		}

		recalculateSale(found)
		if err := checkNumeric("grand_total", found.GrandTotal, moneyPlaces); err != nil {
			return err
		}

		requirements, err := s.saleRequirements(ctx, tx, found.Lines)
		if err != nil {
			return err
		}
		for _, req := range requirements {
			ok, available, err := s.stock.CheckAvailable(ctx, tx, req.productID, req.required)
			if err != nil {
				return err
			}
			if !ok {
				product, err := tx.GetProduct(ctx, req.productID)
				if err != nil {
					return err
				}
				return &store.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Available:   available,
					Required:    req.required,
				}
			}
		}
		for _, req := range requirements {
			if err := s.stock.Debit(ctx, tx, fx, req.productID, req.required); err != nil {
				return err
			}
		}

		soldAt := s.now()
		if _, err := s.cash.Append(ctx, tx, fx, domain.CashMovement{
			SessionID:     session.ID,
			Type:          domain.CashMovementSale,
			Amount:        found.GrandTotal,
			RelatedID:     found.ID,
			RelatedEntity: "Sale",
			CreatedAt:     soldAt,
		}); err != nil {
			return err
		}

		found.Status = domain.SaleStatusCompleted
		found.SoldAt = &soldAt
		found.UpdatedAt = soldAt
		if err := tx.SaveSale(ctx, *found); err != nil {
			return err
		}
		sale = *found
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.publish(fx)

	s.logAudit(ctx, "sale_finalize", "sale", sale.ID, logrus.Fields{
		"session_id":  sale.CashSessionID,
		"lines":       len(sale.Lines),
		"grand_total": sale.GrandTotal.String(),
	})
	return sale, nil
}

// saleRequirements converts every line to base units and sums them per
// product, keeping the order in which products first appear.
func (s *Service) saleRequirements(ctx context.Context, tx store.Tx, lines []domain.SaleLine) ([]stockRequirement, error) {
	index := make(map[string]int, len(lines))
	requirements := make([]stockRequirement, 0, len(lines))
	for _, line := range lines {
		conv, err := s.resolver.Resolve(ctx, tx, line.ProductID, line.UnitID)
		if err != nil {
			return nil, err
		}
		base, err := BaseUnits(ToBaseUnits(line.Quantity, conv.ConversionFactor))
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", line.ID, err)
		}
		if i, ok := index[line.ProductID]; ok {
			total, err := addBaseUnits(requirements[i].required, base)
			if err != nil {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, err)
			}
			requirements[i].required = total
			continue
		}
		index[line.ProductID] = len(requirements)
		requirements = append(requirements, stockRequirement{productID: line.ProductID, required: base})
	}
	return requirements, nil
}

// CancelSale discards a draft: its lines are removed and the header is
// marked Cancelled and soft-deleted. Completed sales cannot be cancelled.
func (s *Service) CancelSale(ctx context.Context, saleID string) (sale domain.Sale, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("cancel_sale", startedAt, err) }()

	saleID = normalizeID(saleID)
	if saleID == "" {
		return domain.Sale{}, invalidArgument("sale id is required")
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if found.Status != domain.SaleStatusDraft {
			return invalidState("sale %s is %s, only Draft sales can be cancelled", saleID, found.Status)
		}

		now := s.now()
		found.Lines = []domain.SaleLine{}
		recalculateSale(found)
		found.Status = domain.SaleStatusCancelled
		found.DeletedAt = &now
		found.UpdatedAt = now
		if err := tx.SaveSale(ctx, *found); err != nil {
			return err
		}
		sale = *found
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_cancel", "sale", sale.ID, nil)
	return sale, nil
}

// recalculateSale rounds each line to two decimals and sums the rounded
// lines into the header, so the header never drifts from its lines.
func recalculateSale(sale *domain.Sale) {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.LineSubtotal = round2(line.Quantity.Mul(line.UnitPrice))
		line.LineTax = round2(line.LineSubtotal.Mul(line.TaxRate))
		line.LineTotal = line.LineSubtotal.Add(line.LineTax)
		subtotal = subtotal.Add(line.LineSubtotal)
		taxTotal = taxTotal.Add(line.LineTax)
	}
	sale.Subtotal = subtotal
	sale.TaxTotal = taxTotal
	sale.GrandTotal = subtotal.Add(taxTotal)
}

func nextSalePosition(lines []domain.SaleLine) int {
	next := 1
	for _, line := range lines {
		if line.Position >= next {
			next = line.Position + 1
		}
	}
	return next
}

func errSaleLineNotFound(saleID string, lineID string) error {
	return fmt.Errorf("%w: sale line %s in sale %s", store.ErrNotFound, lineID, saleID)
}
