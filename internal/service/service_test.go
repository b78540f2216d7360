package service

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/metrics"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(repo, Deps{Logger: logger, Metrics: metrics.New()}), repo
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, d(want).Equal(got), "expected %s, got %s", want, got)
}

func stockOf(t *testing.T, repo store.Repository, productID string) int64 {
	t.Helper()
	var stock int64
	require.NoError(t, repo.WithinTx(context.Background(), func(tx store.Tx) error {
		product, err := tx.GetProduct(context.Background(), productID)
		if err != nil {
			return err
		}
		stock = product.StockOnHand
		return nil
	}))
	return stock
}

func movementsOf(t *testing.T, svc *Service, sessionID string) []domain.CashMovement {
	t.Helper()
	balance, err := svc.GetSessionBalance(context.Background(), sessionID)
	require.NoError(t, err)
	return balance.Movements
}

func draftSale(t *testing.T, svc *Service, lines ...domain.SaleLineRequest) domain.Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
	require.NoError(t, err)
	for _, line := range lines {
		sale, err = svc.AddSaleLine(ctx, sale.ID, line)
		require.NoError(t, err)
	}
	return sale
}

func TestOpenSessionRecordsOpeningMovement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("100"))
	require.NoError(t, err)
	require.True(t, session.IsOpen())

	movements := movementsOf(t, svc, session.ID)
	require.Len(t, movements, 1)
	require.Equal(t, domain.CashMovementOpening, movements[0].Type)
	requireDecimal(t, "100", movements[0].Amount)

	open, err := svc.GetOpenSession(ctx)
	require.NoError(t, err)
	require.True(t, open.Open)
	require.Equal(t, session.ID, open.Session.ID)
}

func TestOpenSessionRejectsNegativeAmount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.OpenSession(context.Background(), d("-0.01"))
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestOpenSessionConflictsWhileAnotherIsOpen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.OpenSession(ctx, d("50"))
	require.NoError(t, err)

	_, err = svc.OpenSession(ctx, d("50"))
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.CloseSession(ctx, first.ID, d("50"))
	require.NoError(t, err)

	_, err = svc.OpenSession(ctx, d("10"))
	require.NoError(t, err)
}

func TestConcurrentOpenSessionHasSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const callers = 12
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.OpenSession(ctx, d("20"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, store.ErrConflict)
	}
	require.Equal(t, 1, wins)
}

func TestGetOpenSessionReportsNone(t *testing.T) {
	svc, _ := newTestService(t)

	open, err := svc.GetOpenSession(context.Background())
	require.NoError(t, err)
	require.False(t, open.Open)
	require.Nil(t, open.Session)
}

func TestSessionBalanceAndCloseDifference(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("100"))
	require.NoError(t, err)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := svc.cash.Append(ctx, tx, nil, domain.CashMovement{SessionID: session.ID, Type: domain.CashMovementSale, Amount: d("30"), CreatedAt: time.Now().UTC()})
		return err
	}))
	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementDeposit, Amount: d("20")})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementExpense, Amount: d("10"), Reason: "ice"})
	require.NoError(t, err)

	balance, err := svc.GetSessionBalance(ctx, session.ID)
	require.NoError(t, err)
	requireDecimal(t, "100", balance.OpeningAmount)
	requireDecimal(t, "140", balance.ExpectedAmount)
	requireDecimal(t, "140", balance.ActualAmount)
	requireDecimal(t, "0", balance.Difference)
	require.Len(t, balance.Movements, 4)

	closed, err := svc.CloseSession(ctx, session.ID, d("150"))
	require.NoError(t, err)
	requireDecimal(t, "140", closed.ExpectedAmount)
	requireDecimal(t, "10", closed.Difference)
	require.Equal(t, DirectionSurplus, closed.Direction)
	require.False(t, closed.Session.IsOpen())

	balance, err = svc.GetSessionBalance(ctx, session.ID)
	require.NoError(t, err)
	requireDecimal(t, "140", balance.ExpectedAmount)
	requireDecimal(t, "150", balance.ActualAmount)
	requireDecimal(t, "10", balance.Difference)
	last := balance.Movements[len(balance.Movements)-1]
	require.Equal(t, domain.CashMovementClosing, last.Type)
	requireDecimal(t, "150", last.Amount)
	require.Contains(t, last.Reason, DirectionSurplus)
}

func TestCloseSessionShortage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("100"))
	require.NoError(t, err)

	closed, err := svc.CloseSession(ctx, session.ID, d("95.50"))
	require.NoError(t, err)
	requireDecimal(t, "-4.50", closed.Difference)
	require.Equal(t, DirectionShortage, closed.Direction)
}

func TestCloseSessionErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CloseSession(ctx, "cs-missing", d("1"))
	require.ErrorIs(t, err, store.ErrNotFound)

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)
	_, err = svc.CloseSession(ctx, session.ID, d("0"))
	require.NoError(t, err)

	_, err = svc.CloseSession(ctx, session.ID, d("0"))
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = svc.GetSessionBalance(ctx, "cs-missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordCashMovementRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("10"))
	require.NoError(t, err)

	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementSale, Amount: d("5")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementWithdrawal, Amount: d("0")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.CloseSession(ctx, session.ID, d("10"))
	require.NoError(t, err)

	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementWithdrawal, Amount: d("5")})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestFinalizeSaleDebitsStockAndBooksCash(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	sale := draftSale(t, svc,
		domain.SaleLineRequest{ProductID: "prod-aguardiente", Quantity: d("2")},
		domain.SaleLineRequest{ProductID: "prod-cigarrillos", UnitID: "pack", Quantity: d("1")},
	)
	require.Equal(t, session.ID, sale.CashSessionID)

	done, err := svc.FinalizeSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusCompleted, done.Status)
	require.NotNil(t, done.SoldAt)
	requireDecimal(t, "108000", done.Subtotal)
	requireDecimal(t, "20520", done.TaxTotal)
	requireDecimal(t, "128520", done.GrandTotal)

	require.Equal(t, int64(46), stockOf(t, repo, "prod-aguardiente"))
	require.Equal(t, int64(380), stockOf(t, repo, "prod-cigarrillos"))

	movements := movementsOf(t, svc, session.ID)
	require.Len(t, movements, 2)
	require.Equal(t, domain.CashMovementSale, movements[1].Type)
	require.Equal(t, sale.ID, movements[1].RelatedID)
	require.Equal(t, "Sale", movements[1].RelatedEntity)
	requireDecimal(t, "128520", movements[1].Amount)

	_, err = svc.FinalizeSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestFinalizeSaleBoxExceedingStockLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	sale := draftSale(t, svc,
		domain.SaleLineRequest{ProductID: "prod-encendedor", Quantity: d("1")},
		domain.SaleLineRequest{ProductID: "prod-ron", UnitID: "box", Quantity: d("1")},
	)

	_, err = svc.FinalizeSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "prod-ron", stockErr.ProductID)
	require.Equal(t, int64(10), stockErr.Available)
	require.Equal(t, int64(12), stockErr.Required)

	after, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusDraft, after.Status)
	require.Nil(t, after.SoldAt)
	require.Equal(t, int64(10), stockOf(t, repo, "prod-ron"))
	require.Equal(t, int64(30), stockOf(t, repo, "prod-encendedor"))
	require.Len(t, movementsOf(t, svc, session.ID), 1)
}

func TestFinalizeSaleSumsLinesOfTheSameProduct(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	sale := draftSale(t, svc,
		domain.SaleLineRequest{ProductID: "prod-ron", Quantity: d("6")},
		domain.SaleLineRequest{ProductID: "prod-ron", Quantity: d("6")},
	)
	_, err = svc.FinalizeSale(ctx, sale.ID)
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(12), stockErr.Required)
	require.Equal(t, int64(10), stockOf(t, repo, "prod-ron"))
}

func TestFinalizeSalePreconditions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.FinalizeSale(ctx, "sale-missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	noSession := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("1")})
	require.Empty(t, noSession.CashSessionID)
	_, err = svc.FinalizeSale(ctx, noSession.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	empty := draftSale(t, svc)
	_, err = svc.FinalizeSale(ctx, empty.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)

	pending := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("1")})
	_, err = svc.CloseSession(ctx, session.ID, d("0"))
	require.NoError(t, err)
	_, err = svc.FinalizeSale(ctx, pending.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestTotalsAreRoundedPerLine(t *testing.T) {
	repo := memory.New()
	repo.AddProduct(domain.Product{ID: "p-gum", Name: "Chicle", UnitID: "unit", UnitPrice: d("0.125"), TaxRate: d("0.19"), StockOnHand: 100, Active: true})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := New(repo, Deps{Logger: logger})
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		sale, err = svc.AddSaleLine(ctx, sale.ID, domain.SaleLineRequest{ProductID: "p-gum", Quantity: d("1")})
		require.NoError(t, err)
	}

	for _, line := range sale.Lines {
		requireDecimal(t, "0.13", line.LineSubtotal)
		requireDecimal(t, "0.02", line.LineTax)
		requireDecimal(t, "0.15", line.LineTotal)
	}
	requireDecimal(t, "0.39", sale.Subtotal)
	requireDecimal(t, "0.06", sale.TaxTotal)
	requireDecimal(t, "0.45", sale.GrandTotal)
	require.True(t, sale.GrandTotal.Equal(sale.Subtotal.Add(sale.TaxTotal)))
}

func TestDraftEditingRecomputesTotals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", UnitID: "six-pack", Quantity: d("1")})
	require.Len(t, sale.Lines, 1)
	requireDecimal(t, "19800", sale.Lines[0].UnitPrice)
	requireDecimal(t, "0.19", sale.Lines[0].TaxRate)

	sale, err := svc.UpdateSaleLine(ctx, sale.ID, sale.Lines[0].ID, domain.SaleLineUpdateRequest{Quantity: d("2")})
	require.NoError(t, err)
	requireDecimal(t, "39600", sale.Subtotal)
	requireDecimal(t, "7524", sale.TaxTotal)

	_, err = svc.UpdateSaleLine(ctx, sale.ID, "sl-missing", domain.SaleLineUpdateRequest{Quantity: d("1")})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.AddSaleLine(ctx, sale.ID, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("0")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	sale, err = svc.RemoveSaleLine(ctx, sale.ID, sale.Lines[0].ID)
	require.NoError(t, err)
	require.Empty(t, sale.Lines)
	requireDecimal(t, "0", sale.GrandTotal)

	sale, err = svc.RecalculateTotals(ctx, sale.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", sale.Subtotal)
}

func TestConcurrentFinalizeNeverOversells(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	const buyers = 6
	sales := make([]domain.Sale, buyers)
	for i := range sales {
		sales[i] = draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-ron", Quantity: d("3")})
	}

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := range sales {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.FinalizeSale(ctx, sales[i].ID)
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, err := range errs {
		if err == nil {
			completed++
			continue
		}
		require.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	require.Equal(t, 3, completed)
	require.Equal(t, int64(1), stockOf(t, repo, "prod-ron"))
}

func TestCancelSaleOnlyFromDraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)

	sale := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("2")})
	cancelled, err := svc.CancelSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.Lines)
	require.NotNil(t, cancelled.DeletedAt)

	_, err = svc.CancelSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)

	completed := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("1")})
	_, err = svc.FinalizeSale(ctx, completed.ID)
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, completed.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = svc.CancelSale(ctx, "sale-missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReceivePurchaseCreditsBaseUnitsAndPays(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-licores",
		Lines: []domain.PurchaseLineRequest{
			{ProductID: "prod-aguardiente", UnitID: "box", Quantity: d("2")},
			{ProductID: "prod-encendedor", Quantity: d("10"), UnitCost: decimal.NewNullDecimal(d("1000.555"))},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusOrdered, purchase.Status)
	requireDecimal(t, "744000", purchase.Lines[0].LineTotal)
	requireDecimal(t, "10005.55", purchase.Lines[1].LineTotal)
	requireDecimal(t, "754005.55", purchase.TotalCost)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, true, "")
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, true, "cs-missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	session, err := svc.OpenSession(ctx, d("1000000"))
	require.NoError(t, err)

	received, err := svc.ReceivePurchase(ctx, purchase.ID, true, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)
	require.Equal(t, int64(72), stockOf(t, repo, "prod-aguardiente"))
	require.Equal(t, int64(40), stockOf(t, repo, "prod-encendedor"))

	balance, err := svc.GetSessionBalance(ctx, session.ID)
	require.NoError(t, err)
	requireDecimal(t, "245994.45", balance.ExpectedAmount)
	last := balance.Movements[len(balance.Movements)-1]
	require.Equal(t, domain.CashMovementPurchasePayment, last.Type)
	require.Equal(t, "Purchase", last.RelatedEntity)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestReceivePurchaseIntoClosedSessionFails(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)
	_, err = svc.CloseSession(ctx, session.ID, d("0"))
	require.NoError(t, err)

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prod-hielo", Quantity: d("5")}},
	})
	require.NoError(t, err)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, true, session.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)
	require.Equal(t, int64(0), stockOf(t, repo, "prod-hielo"))

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.NoError(t, err)
	require.Equal(t, int64(5), stockOf(t, repo, "prod-hielo"))
}

func TestReceivePurchaseTruncatesFractionalBaseUnits(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.SavePresentation(ctx, "prod-hielo", "half-bag", domain.PresentationSaveRequest{
		UnitPrice:        d("1600"),
		ConversionFactor: d("0.5"),
	})
	require.NoError(t, err)

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-hielo",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prod-hielo", UnitID: "half-bag", Quantity: d("3")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "2250", purchase.TotalCost)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), stockOf(t, repo, "prod-hielo"))
}

func TestReceivePurchaseWithoutLines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{SupplierID: "sup-1"})
	require.NoError(t, err)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = svc.ReceivePurchase(ctx, "po-missing", false, "")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelPurchaseRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prod-cerveza", UnitID: "case", Quantity: d("1")}},
	})
	require.NoError(t, err)

	_, err = svc.CancelPurchase(ctx, purchase.ID, "  ")
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	cancelled, err := svc.CancelPurchase(ctx, purchase.ID, "supplier out of stock")
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusCancelled, cancelled.Status)
	require.False(t, cancelled.Active)
	require.NotNil(t, cancelled.DeletedAt)
	require.Equal(t, int64(120), stockOf(t, repo, "prod-cerveza"))

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.ErrorIs(t, err, store.ErrInvalidState)

	received, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prod-cerveza", Quantity: d("1")}},
	})
	require.NoError(t, err)
	_, err = svc.ReceivePurchase(ctx, received.ID, false, "")
	require.NoError(t, err)
	_, err = svc.CancelPurchase(ctx, received.ID, "late")
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = svc.CancelPurchase(ctx, "po-missing", "late")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolverFallsBackToBaseUnit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveConversion(ctx, "prod-ron", "crate")
	require.NoError(t, err)
	require.True(t, conv.Fallback)
	requireDecimal(t, "26000", conv.UnitPrice)
	requireDecimal(t, "1", conv.ConversionFactor)

	conv, err = svc.ResolveConversion(ctx, "prod-ron", "box")
	require.NoError(t, err)
	require.False(t, conv.Fallback)
	requireDecimal(t, "12", conv.ConversionFactor)
	requireDecimal(t, "222000", conv.UnitCost)

	_, err = svc.ResolveConversion(ctx, "prod-missing", "box")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSavePresentationValidatesFactor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SavePresentation(ctx, "prod-ron", "box", domain.PresentationSaveRequest{UnitPrice: d("1"), ConversionFactor: d("0")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.SavePresentation(ctx, "prod-ron", "box", domain.PresentationSaveRequest{UnitPrice: d("1"), ConversionFactor: d("-2")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.SavePresentation(ctx, "prod-missing", "box", domain.PresentationSaveRequest{UnitPrice: d("1"), ConversionFactor: d("2")})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.SavePresentation(ctx, "prod-ron", "box", domain.PresentationSaveRequest{UnitPrice: d("250000"), ConversionFactor: d("10")})
	require.NoError(t, err)

	conv, err := svc.ResolveConversion(ctx, "prod-ron", "box")
	require.NoError(t, err)
	requireDecimal(t, "10", conv.ConversionFactor)
	requireDecimal(t, "250000", conv.UnitPrice)
}

func TestErrorKindClassifiesTaxonomy(t *testing.T) {
	require.Equal(t, KindOK, ErrorKind(nil))
	require.Equal(t, KindNotFound, ErrorKind(store.ErrNotFound))
	require.Equal(t, KindInvalidState, ErrorKind(invalidState("x")))
	require.Equal(t, KindInsufficientStock, ErrorKind(&store.InsufficientStockError{ProductID: "p"}))
	require.Equal(t, KindInternal, ErrorKind(context.DeadlineExceeded))
}

func TestBaseUnitsRejectsQuantitiesBeyondInt64(t *testing.T) {
	units, err := BaseUnits(d("12.9"))
	require.NoError(t, err)
	require.Equal(t, int64(12), units)

	units, err = BaseUnits(d("9223372036854775807.5"))
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), units)

	for _, quantity := range []string{"9223372036854775808", "18446744073709551617", "-1"} {
		_, err := BaseUnits(d(quantity))
		require.ErrorIs(t, err, store.ErrInvalidArgument, quantity)
	}

	_, err = addBaseUnits(math.MaxInt64-1, 2)
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	total, err := addBaseUnits(math.MaxInt64-2, 2)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), total)
}

func savePallet(t *testing.T, svc *Service, productID string) {
	t.Helper()
	_, err := svc.SavePresentation(context.Background(), productID, "pallet", domain.PresentationSaveRequest{
		UnitPrice:        d("1"),
		UnitCost:         decimal.NewNullDecimal(d("0")),
		ConversionFactor: d("999999999999"),
	})
	require.NoError(t, err)
}

func TestFinalizeSaleRejectsBaseUnitOverflow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	session, err := svc.OpenSession(ctx, d("0"))
	require.NoError(t, err)
	savePallet(t, svc, "prod-ron")
	before := stockOf(t, repo, "prod-ron")

	single := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-ron", UnitID: "pallet", Quantity: d("99999999999999")})
	_, err = svc.FinalizeSale(ctx, single.ID)
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	// Each line fits in an int64 on its own; their sum does not.
	summed := draftSale(t, svc,
		domain.SaleLineRequest{ProductID: "prod-ron", UnitID: "pallet", Quantity: d("5000000")},
		domain.SaleLineRequest{ProductID: "prod-ron", UnitID: "pallet", Quantity: d("5000000")},
	)
	_, err = svc.FinalizeSale(ctx, summed.ID)
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	require.Equal(t, before, stockOf(t, repo, "prod-ron"))
	require.Len(t, movementsOf(t, svc, session.ID), 1)
	stored, err := svc.GetSale(ctx, summed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusDraft, stored.Status)
}

func TestReceivePurchaseRejectsBaseUnitOverflow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	savePallet(t, svc, "prod-hielo")
	before := stockOf(t, repo, "prod-hielo")

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-hielo",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prod-hielo", UnitID: "pallet", Quantity: d("99999999999999")}},
	})
	require.NoError(t, err)

	_, err = svc.ReceivePurchase(ctx, purchase.ID, false, "")
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	require.Equal(t, before, stockOf(t, repo, "prod-hielo"))

	stored, err := svc.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseStatusOrdered, stored.Status)
}

func TestValuesBeyondStoredPrecisionAreRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, d("10.005"))
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = svc.OpenSession(ctx, d("10000000000000000"))
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	session, err := svc.OpenSession(ctx, d("10.50"))
	require.NoError(t, err)
	requireDecimal(t, "10.5", session.OpeningAmount)

	_, err = svc.RecordCashMovement(ctx, session.ID, domain.CashMovementRequest{Type: domain.CashMovementDeposit, Amount: d("0.001")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = svc.CloseSession(ctx, session.ID, d("3.333"))
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	sale := draftSale(t, svc)
	for _, quantity := range []string{"1.23456", "0.00001"} {
		_, err = svc.AddSaleLine(ctx, sale.ID, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d(quantity)})
		require.ErrorIs(t, err, store.ErrInvalidArgument, quantity)
	}
	sale, err = svc.AddSaleLine(ctx, sale.ID, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("1.2345")})
	require.NoError(t, err)
	_, err = svc.UpdateSaleLine(ctx, sale.ID, sale.Lines[0].ID, domain.SaleLineUpdateRequest{Quantity: d("2.00001")})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines: []domain.PurchaseLineRequest{{
			ProductID: "prod-cerveza",
			Quantity:  d("1"),
			UnitCost:  decimal.NewNullDecimal(d("1.23456")),
		}},
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = svc.SavePresentation(ctx, "prod-cerveza", "tiny", domain.PresentationSaveRequest{
		UnitPrice:        d("1"),
		ConversionFactor: d("0.0000001"),
	})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

var errAborted = errors.New("could not serialize access due to concurrent update")

// abortFirstAttempt runs every unit of work twice. The first run is rolled
// back as if the database had aborted it; the second one commits.
type abortFirstAttempt struct {
	store.Repository
}

func (r abortFirstAttempt) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := r.Repository.WithinTx(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errAborted
	})
	if !errors.Is(err, errAborted) {
		return err
	}
	return r.Repository.WithinTx(ctx, fn)
}

func counterValue(t *testing.T, m *metrics.Metrics, name string, label string, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLedgerMetricsCountOnlyCommittedWork(t *testing.T) {
	repo := memory.NewSeeded()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := metrics.New()
	svc := New(abortFirstAttempt{Repository: repo}, Deps{Logger: logger, Metrics: m})
	ctx := context.Background()

	_, err := svc.OpenSession(ctx, d("100"))
	require.NoError(t, err)

	before := stockOf(t, repo, "prod-cerveza")
	sale := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-cerveza", Quantity: d("3")})
	_, err = svc.FinalizeSale(ctx, sale.ID)
	require.NoError(t, err)
	debited := before - stockOf(t, repo, "prod-cerveza")
	require.Positive(t, debited)

	require.Equal(t, 1.0, counterValue(t, m, "estanco_cash_movements_total", "type", "Opening"))
	require.Equal(t, 1.0, counterValue(t, m, "estanco_cash_movements_total", "type", "Sale"))
	require.Equal(t, float64(debited), counterValue(t, m, "estanco_stock_units_moved_total", "direction", "debit"))

	// A rejected sale debits nothing and books nothing.
	over := draftSale(t, svc, domain.SaleLineRequest{ProductID: "prod-ron", Quantity: d("1000")})
	_, err = svc.FinalizeSale(ctx, over.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 1.0, counterValue(t, m, "estanco_cash_movements_total", "type", "Sale"))
	require.Equal(t, float64(debited), counterValue(t, m, "estanco_stock_units_moved_total", "direction", "debit"))
}
