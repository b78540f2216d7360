package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/cache"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/lock"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/metrics"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Deps carries the optional collaborators of a Service. Zero values fall
// back to a no-op cache, an in-process drawer lock, no metrics and the
// standard logrus logger.
type Deps struct {
	Presentations   cache.PresentationCache
	PresentationTTL time.Duration
	Locker          lock.Locker
	DrawerLockTTL   time.Duration
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
}

type Service struct {
	repo          store.Repository
	resolver      *ConversionResolver
	stock         StockLedger
	cash          CashLedger
	locker        lock.Locker
	drawerLockTTL time.Duration
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
	now           func() time.Time
}

func New(repo store.Repository, deps Deps) *Service {
	if deps.Presentations == nil {
		deps.Presentations = cache.NoopPresentationCache{}
	}
	if deps.PresentationTTL <= 0 {
		deps.PresentationTTL = 5 * time.Minute
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.DrawerLockTTL <= 0 {
		deps.DrawerLockTTL = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	logger := deps.Logger.WithField("component", "service")

	return &Service{
		repo:          repo,
		resolver:      NewConversionResolver(deps.Presentations, deps.PresentationTTL, logger),
		stock:         StockLedger{},
		cash:          CashLedger{},
		locker:        deps.Locker,
		drawerLockTTL: deps.DrawerLockTTL,
		metrics:       deps.Metrics,
		log:           logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// logAudit records a committed state transition with the acting user.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields logrus.Fields) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	entry := s.log.WithFields(logrus.Fields{
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
		"actor":       actor.Username,
		"actor_role":  actor.Role,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info("audit")
}

// observe reports the outcome of an operation to metrics and logs
// infrastructure failures. It returns err unchanged.
func (s *Service) observe(operation string, startedAt time.Time, err error) error {
	outcome := ErrorKind(err)
	s.metrics.ObserveOperation(operation, outcome, startedAt)
	if outcome == KindInternal {
		s.log.WithError(err).WithField("operation", operation).Error("operation failed")
	}
	return err
}

type stockMove struct {
	direction string
	units     int64
}

// effects collects the ledger writes of one unit of work; they reach
// metrics only once the unit commits. A nil *effects discards everything.
type effects struct {
	stock []stockMove
	cash  []domain.CashMovementType
}

// reset drops what an earlier, rolled back attempt collected.
func (fx *effects) reset() {
	if fx == nil {
		return
	}
	fx.stock = fx.stock[:0]
	fx.cash = fx.cash[:0]
}

func (fx *effects) stockMoved(direction string, units int64) {
	if fx == nil {
		return
	}
	fx.stock = append(fx.stock, stockMove{direction: direction, units: units})
}

func (fx *effects) cashMoved(movementType domain.CashMovementType) {
	if fx == nil {
		return
	}
	fx.cash = append(fx.cash, movementType)
}

// publish reports the effects of a committed unit of work.
func (s *Service) publish(fx *effects) {
	for _, move := range fx.stock {
		s.metrics.AddStock(move.direction, move.units)
	}
	for _, movementType := range fx.cash {
		s.metrics.IncCashMovement(string(movementType))
	}
}

// Error kinds reported to metrics and the transport layer.
const (
	KindOK                = "ok"
	KindNotFound          = "not_found"
	KindInvalidArgument   = "invalid_argument"
	KindInvalidState      = "invalid_state"
	KindConflict          = "conflict"
	KindInsufficientStock = "insufficient_stock"
	KindInternal          = "internal"
)

func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, store.ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrInsufficientStock):
		return KindInsufficientStock
	default:
		return KindInternal
	}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidState, fmt.Sprintf(format, args...))
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

// checkNumeric rejects a value that a NUMERIC(18, places) column would
// round or overflow.
func checkNumeric(field string, value decimal.Decimal, places int32) error {
	if !value.Equal(value.Truncate(places)) {
		return invalidArgument("%s allows at most %d decimal places, got %s", field, places, value)
	}
	if value.Abs().GreaterThanOrEqual(decimal.New(1, 18-places)) {
		return invalidArgument("%s is out of range, got %s", field, value)
	}
	return nil
}

// Decimal places kept for each kind of stored value.
const (
	moneyPlaces    = 2
	quantityPlaces = 4
	pricePlaces    = 4
	factorPlaces   = 6
)

// round2 rounds a currency amount to two decimals, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
