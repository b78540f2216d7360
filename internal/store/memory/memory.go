package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

// Store keeps everything in process memory. A unit of work runs against a
// private copy of the state under the write lock and replaces the shared
// state only when it succeeds, so concurrent callers observe serial order.
type Store struct {
	mu              sync.RWMutex
	state           *state
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	products      map[string]domain.Product
	presentations map[string]domain.UnitPresentation
	sessions      map[string]domain.CashSession
	openSessionID string
	movements     map[string][]domain.CashMovement
	sales         map[string]domain.Sale
	purchases     map[string]domain.Purchase
}

func newState() *state {
	return &state{
		products:      make(map[string]domain.Product),
		presentations: make(map[string]domain.UnitPresentation),
		sessions:      make(map[string]domain.CashSession),
		movements:     make(map[string][]domain.CashMovement),
		sales:         make(map[string]domain.Sale),
		purchases:     make(map[string]domain.Purchase),
	}
}

func (st *state) clone() *state {
	next := &state{
		products:      maps.Clone(st.products),
		presentations: maps.Clone(st.presentations),
		sessions:      maps.Clone(st.sessions),
		openSessionID: st.openSessionID,
		movements:     make(map[string][]domain.CashMovement, len(st.movements)),
		sales:         make(map[string]domain.Sale, len(st.sales)),
		purchases:     make(map[string]domain.Purchase, len(st.purchases)),
	}
	for id, list := range st.movements {
		next.movements[id] = slices.Clone(list)
	}
	for id, sale := range st.sales {
		sale.Lines = slices.Clone(sale.Lines)
		next.sales[id] = sale
	}
	for id, purchase := range st.purchases {
		purchase.Lines = slices.Clone(purchase.Lines)
		next.purchases[id] = purchase
	}
	return next
}

func New() *Store {
	return &Store{
		state:           newState(),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD with dev fallbacks.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logrus.WithError(err).Fatalf("failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small liquor and tobacco catalogue and
// the dev user accounts.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-aguardiente", Name: "Aguardiente 750ml", CategoryID: "cat-licores", UnitID: "unit", UnitPrice: dec("45000"), UnitCost: dec("32000"), TaxRate: dec("0.19"), StockOnHand: 48, ReorderPoint: 12},
		{ID: "prod-ron", Name: "Ron Añejo 375ml", CategoryID: "cat-licores", UnitID: "unit", UnitPrice: dec("26000"), UnitCost: dec("18500"), TaxRate: dec("0.19"), StockOnHand: 10, ReorderPoint: 6},
		{ID: "prod-cigarrillos", Name: "Cigarrillos Rojo", CategoryID: "cat-tabaco", UnitID: "stick", UnitPrice: dec("1000"), UnitCost: dec("700"), TaxRate: dec("0.19"), StockOnHand: 400, ReorderPoint: 100},
		{ID: "prod-cerveza", Name: "Cerveza lata 330ml", CategoryID: "cat-cervezas", UnitID: "unit", UnitPrice: dec("3500"), UnitCost: dec("2400"), TaxRate: dec("0.19"), StockOnHand: 120, ReorderPoint: 48},
		{ID: "prod-encendedor", Name: "Encendedor", CategoryID: "cat-varios", UnitID: "unit", UnitPrice: dec("2000"), UnitCost: dec("1100"), TaxRate: dec("0.19"), StockOnHand: 30, ReorderPoint: 10},
		{ID: "prod-hielo", Name: "Hielo bolsa 2kg", CategoryID: "cat-varios", UnitID: "bag", UnitPrice: dec("3000"), UnitCost: dec("1500"), TaxRate: decimal.Zero, StockOnHand: 0, ReorderPoint: 5},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.AddProduct(p)
	}

	presentations := []domain.UnitPresentation{
		{ProductID: "prod-aguardiente", UnitID: "box", UnitPrice: dec("510000"), UnitCost: nullDec("372000"), ConversionFactor: dec("12"), Barcode: "7702049000012"},
		{ProductID: "prod-ron", UnitID: "box", UnitPrice: dec("300000"), ConversionFactor: dec("12")},
		{ProductID: "prod-cigarrillos", UnitID: "pack", UnitPrice: dec("18000"), UnitCost: nullDec("13000"), ConversionFactor: dec("20"), Barcode: "7702035000020"},
		{ProductID: "prod-cigarrillos", UnitID: "carton", UnitPrice: dec("175000"), UnitCost: nullDec("128000"), ConversionFactor: dec("200")},
		{ProductID: "prod-cerveza", UnitID: "six-pack", UnitPrice: dec("19800"), UnitCost: nullDec("14000"), ConversionFactor: dec("6")},
		{ProductID: "prod-cerveza", UnitID: "case", UnitPrice: dec("76000"), UnitCost: nullDec("55000"), ConversionFactor: dec("24")},
	}
	for _, p := range presentations {
		s.AddPresentation(p)
	}

	return s
}

// AddProduct registers master data directly, outside any unit of work.
func (s *Store) AddProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[product.ID] = product
}

func (s *Store) AddPresentation(presentation domain.UnitPresentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.presentations[presentationKey(presentation.ProductID, presentation.UnitID)] = presentation
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidArgument
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	product, ok := t.st.products[productID]
	if !ok || product.DeletedAt != nil {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	return &product, nil
}

func (t *memTx) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return t.GetProduct(ctx, productID)
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta int64) (int64, error) {
	product, ok := t.st.products[productID]
	if !ok || product.DeletedAt != nil {
		return 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	if delta > 0 && product.StockOnHand > math.MaxInt64-delta {
		return product.StockOnHand, fmt.Errorf("%w: stock of product %s would overflow", store.ErrInvalidArgument, productID)
	}
	next := product.StockOnHand + delta
	if next < 0 {
		return product.StockOnHand, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.StockOnHand,
			Required:    -delta,
		}
	}
	product.StockOnHand = next
	product.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = product
	return next, nil
}

func (t *memTx) GetPresentation(_ context.Context, productID string, unitID string) (*domain.UnitPresentation, error) {
	presentation, ok := t.st.presentations[presentationKey(productID, unitID)]
	if !ok {
		return nil, fmt.Errorf("%w: presentation %s/%s", store.ErrNotFound, productID, unitID)
	}
	return &presentation, nil
}

func (t *memTx) UpsertPresentation(_ context.Context, presentation domain.UnitPresentation) error {
	if _, ok := t.st.products[presentation.ProductID]; !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, presentation.ProductID)
	}
	t.st.presentations[presentationKey(presentation.ProductID, presentation.UnitID)] = presentation
	return nil
}

func (t *memTx) CreateCashSession(_ context.Context, session domain.CashSession) error {
	if t.st.openSessionID != "" {
		return fmt.Errorf("%w: cash session %s is already open", store.ErrConflict, t.st.openSessionID)
	}
	if _, exists := t.st.sessions[session.ID]; exists {
		return fmt.Errorf("%w: cash session %s already exists", store.ErrConflict, session.ID)
	}
	t.st.sessions[session.ID] = session
	if session.IsOpen() {
		t.st.openSessionID = session.ID
	}
	return nil
}

func (t *memTx) GetCashSession(_ context.Context, sessionID string) (*domain.CashSession, error) {
	session, ok := t.st.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: cash session %s", store.ErrNotFound, sessionID)
	}
	return &session, nil
}

func (t *memTx) LockCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	return t.GetCashSession(ctx, sessionID)
}

func (t *memTx) GetOpenCashSession(ctx context.Context) (*domain.CashSession, error) {
	if t.st.openSessionID == "" {
		return nil, fmt.Errorf("%w: no open cash session", store.ErrNotFound)
	}
	return t.GetCashSession(ctx, t.st.openSessionID)
}

func (t *memTx) CloseCashSession(_ context.Context, sessionID string, closingAmount decimal.Decimal, closedAt time.Time) error {
	session, ok := t.st.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: cash session %s", store.ErrNotFound, sessionID)
	}
	if !session.IsOpen() {
		return fmt.Errorf("%w: cash session %s is already closed", store.ErrInvalidState, sessionID)
	}
	session.ClosedAt = &closedAt
	session.ClosingAmount = decimal.NewNullDecimal(closingAmount)
	session.Active = false
	t.st.sessions[sessionID] = session
	if t.st.openSessionID == sessionID {
		t.st.openSessionID = ""
	}
	return nil
}

func (t *memTx) AppendCashMovement(_ context.Context, movement domain.CashMovement) error {
	if _, ok := t.st.sessions[movement.SessionID]; !ok {
		return fmt.Errorf("%w: cash session %s", store.ErrNotFound, movement.SessionID)
	}
	t.st.movements[movement.SessionID] = append(t.st.movements[movement.SessionID], movement)
	return nil
}

func (t *memTx) SumCashMovements(_ context.Context, sessionID string, types []domain.CashMovementType) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, movement := range t.st.movements[sessionID] {
		if slices.Contains(types, movement.Type) {
			total = total.Add(movement.Amount)
		}
	}
	return total, nil
}

func (t *memTx) ListCashMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	movements := slices.Clone(t.st.movements[sessionID])
	slices.SortStableFunc(movements, func(a, b domain.CashMovement) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return movements, nil
}

func (t *memTx) SaveSale(_ context.Context, sale domain.Sale) error {
	sale.Lines = slices.Clone(sale.Lines)
	t.st.sales[sale.ID] = sale
	return nil
}

func (t *memTx) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
	}
	sale.Lines = slices.Clone(sale.Lines)
	return &sale, nil
}

func (t *memTx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return t.GetSale(ctx, saleID)
}

func (t *memTx) SavePurchase(_ context.Context, purchase domain.Purchase) error {
	purchase.Lines = slices.Clone(purchase.Lines)
	t.st.purchases[purchase.ID] = purchase
	return nil
}

func (t *memTx) GetPurchase(_ context.Context, purchaseID string) (*domain.Purchase, error) {
	purchase, ok := t.st.purchases[purchaseID]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseID)
	}
	purchase.Lines = slices.Clone(purchase.Lines)
	return &purchase, nil
}

func (t *memTx) LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return t.GetPurchase(ctx, purchaseID)
}

func presentationKey(productID string, unitID string) string {
	return productID + "|" + unitID
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func nullDec(value string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(value))
}
