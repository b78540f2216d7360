package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/lock"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/xid"
)

const drawerLockKey = "cash-drawer"

const (
	DirectionSurplus  = "surplus"
	DirectionShortage = "shortage"
	DirectionBalanced = "balanced"
)

// manualMovementTypes are the movements a cashier may record by hand.
var manualMovementTypes = map[domain.CashMovementType]bool{
	domain.CashMovementDeposit:    true,
	domain.CashMovementExpense:    true,
	domain.CashMovementWithdrawal: true,
}

func (s *Service) withDrawerLock(ctx context.Context, fn func() error) error {
	held, err := s.locker.Obtain(ctx, drawerLockKey, s.drawerLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return fmt.Errorf("%w: cash drawer is busy, retry", store.ErrConflict)
		}
		return err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).Warn("failed to release cash drawer lock")
		}
	}()
	return fn()
}

// OpenSession starts the single open cash session and records its Opening
// movement in the same unit of work.
func (s *Service) OpenSession(ctx context.Context, openingAmount decimal.Decimal) (session domain.CashSession, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("open_session", startedAt, err) }()

	if openingAmount.IsNegative() {
		return domain.CashSession{}, invalidArgument("opening_amount must not be negative, got %s", openingAmount)
	}
	if err := checkNumeric("opening_amount", openingAmount, moneyPlaces); err != nil {
		return domain.CashSession{}, err
	}

	fx := &effects{}
	err = s.withDrawerLock(ctx, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			fx.reset()
			current, err := tx.GetOpenCashSession(ctx)
			if err == nil {
				return fmt.Errorf("%w: cash session %s is already open", store.ErrConflict, current.ID)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			session = domain.CashSession{
				ID:            xid.New("cs"),
				OpenedAt:      s.now(),
				OpeningAmount: openingAmount,
				Active:        true,
			}
			if err := tx.CreateCashSession(ctx, session); err != nil {
				return err
			}
			_, err = s.cash.Append(ctx, tx, fx, domain.CashMovement{
				SessionID: session.ID,
				Type:      domain.CashMovementOpening,
				Amount:    openingAmount,
				Reason:    "opening float",
				CreatedAt: session.OpenedAt,
			})
			return err
		})
	})
	if err != nil {
		return domain.CashSession{}, err
	}
	s.publish(fx)

	s.logAudit(ctx, "cash_session_open", "cash_session", session.ID, logrus.Fields{
		"opening_amount": openingAmount.String(),
	})
	return session, nil
}

// CloseSession counts the drawer against the ledger and closes the session.
// Difference is positive for a surplus and negative for a shortage.
func (s *Service) CloseSession(ctx context.Context, sessionID string, closingAmount decimal.Decimal) (result domain.SessionCloseResult, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("close_session", startedAt, err) }()

	sessionID = normalizeID(sessionID)
	if sessionID == "" {
		return domain.SessionCloseResult{}, invalidArgument("session id is required")
	}
	if closingAmount.IsNegative() {
		return domain.SessionCloseResult{}, invalidArgument("closing_amount must not be negative, got %s", closingAmount)
	}
	if err := checkNumeric("closing_amount", closingAmount, moneyPlaces); err != nil {
		return domain.SessionCloseResult{}, err
	}

	fx := &effects{}
	err = s.withDrawerLock(ctx, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			fx.reset()
			session, err := tx.LockCashSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if !session.IsOpen() {
				return invalidState("cash session %s is already closed", sessionID)
			}

			expected, err := s.cash.Expected(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			difference := closingAmount.Sub(expected)
			direction := differenceDirection(difference)

			closedAt := s.now()
			if err := tx.CloseCashSession(ctx, sessionID, closingAmount, closedAt); err != nil {
				return err
			}
			if _, err := s.cash.Append(ctx, tx, fx, domain.CashMovement{
				SessionID: sessionID,
				Type:      domain.CashMovementClosing,
				Amount:    closingAmount,
				Reason:    fmt.Sprintf("%s %s", direction, difference.Abs().StringFixed(2)),
				CreatedAt: closedAt,
			}); err != nil {
				return err
			}

			session.ClosedAt = &closedAt
			session.ClosingAmount = decimal.NewNullDecimal(closingAmount)
			session.Active = false
			result = domain.SessionCloseResult{
				Session:        *session,
				ExpectedAmount: expected,
				Difference:     difference,
				Direction:      direction,
			}
			return nil
		})
	})
	if err != nil {
		return domain.SessionCloseResult{}, err
	}
	s.publish(fx)

	diff, _ := result.Difference.Float64()
	s.metrics.ObserveSessionDifference(diff)
	s.logAudit(ctx, "cash_session_close", "cash_session", sessionID, logrus.Fields{
		"closing_amount":  closingAmount.String(),
		"expected_amount": result.ExpectedAmount.String(),
		"difference":      result.Difference.String(),
		"direction":       result.Direction,
	})
	return result, nil
}

// GetOpenSession reports the open session, or Open=false when there is none.
func (s *Service) GetOpenSession(ctx context.Context) (domain.OpenSessionResult, error) {
	var result domain.OpenSessionResult
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetOpenCashSession(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result = domain.OpenSessionResult{Open: true, Session: session}
		return nil
	})
	if err != nil {
		return domain.OpenSessionResult{}, err
	}
	return result, nil
}

// GetSessionBalance derives the balance of a session from its ledger. An
// open session reports its expected amount as the actual amount.
func (s *Service) GetSessionBalance(ctx context.Context, sessionID string) (domain.SessionBalance, error) {
	sessionID = normalizeID(sessionID)
	if sessionID == "" {
		return domain.SessionBalance{}, invalidArgument("session id is required")
	}

	var balance domain.SessionBalance
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, sessionID)
		if err != nil {
			return err
		}
		expected, err := s.cash.Expected(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		movements, err := tx.ListCashMovements(ctx, sessionID)
		if err != nil {
			return err
		}

		actual := expected
		if !session.IsOpen() && session.ClosingAmount.Valid {
			actual = session.ClosingAmount.Decimal
		}
		balance = domain.SessionBalance{
			Session:        *session,
			OpeningAmount:  session.OpeningAmount,
			ExpectedAmount: expected,
			ActualAmount:   actual,
			Difference:     actual.Sub(expected),
			Movements:      movements,
		}
		return nil
	})
	if err != nil {
		return domain.SessionBalance{}, err
	}
	return balance, nil
}

// RecordCashMovement appends a manual deposit, expense or withdrawal to an
// open session.
func (s *Service) RecordCashMovement(ctx context.Context, sessionID string, req domain.CashMovementRequest) (movement domain.CashMovement, err error) {
	startedAt := time.Now()
	defer func() { err = s.observe("record_cash_movement", startedAt, err) }()

	sessionID = normalizeID(sessionID)
	if sessionID == "" {
		return domain.CashMovement{}, invalidArgument("session id is required")
	}
	if !manualMovementTypes[req.Type] {
		return domain.CashMovement{}, invalidArgument("movement type %q cannot be recorded manually", req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovement{}, invalidArgument("amount must be greater than zero")
	}
	if err := checkNumeric("amount", req.Amount, moneyPlaces); err != nil {
		return domain.CashMovement{}, err
	}

	fx := &effects{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		fx.reset()
		session, err := tx.LockCashSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return invalidState("cash session %s is closed", sessionID)
		}
		movement, err = s.cash.Append(ctx, tx, fx, domain.CashMovement{
			SessionID: sessionID,
			Type:      req.Type,
			Amount:    req.Amount,
			Reason:    normalizeID(req.Reason),
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return domain.CashMovement{}, err
	}
	s.publish(fx)

	s.logAudit(ctx, "cash_movement_record", "cash_session", sessionID, logrus.Fields{
		"movement_id": movement.ID,
		"type":        string(movement.Type),
		"amount":      movement.Amount.String(),
	})
	return movement, nil
}

func differenceDirection(difference decimal.Decimal) string {
	switch difference.Sign() {
	case 1:
		return DirectionSurplus
	case -1:
		return DirectionShortage
	default:
		return DirectionBalanced
	}
}
