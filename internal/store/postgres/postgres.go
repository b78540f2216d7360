package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Options struct {
	// MaxTxAttempts bounds how often a unit of work is retried after a
	// serialization failure or deadlock.
	MaxTxAttempts int
}

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.MaxTxAttempts < 1 {
		opts.MaxTxAttempts = 3
	}
	return &Store{db: db, maxAttempts: opts.MaxTxAttempts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

// WithinTx runs fn in a serializable transaction, retrying the whole unit
// when Postgres aborts it with a serialization failure or deadlock.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isOutOfRange(err) {
			return fmt.Errorf("%w: numeric value out of range: %v", store.ErrInvalidArgument, err)
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: transaction aborted after %d attempts: %v", store.ErrConflict, s.maxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `
	id, name, COALESCE(category_id, ''), unit_id, unit_price, unit_cost, tax_rate,
	stock_on_hand, reorder_point, active, created_at, updated_at, deleted_at
`

func scanProduct(row rowScanner, productID string) (*domain.Product, error) {
	var p domain.Product
	var deletedAt sql.NullTime
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.CategoryID,
		&p.UnitID,
		&p.UnitPrice,
		&p.UnitCost,
		&p.TaxRate,
		&p.StockOnHand,
		&p.ReorderPoint,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`, productID), productID)
}

func (t *pgTx) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, productID), productID)
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int64) (int64, error) {
	var level int64
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_on_hand = stock_on_hand + $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL AND stock_on_hand + $2 >= 0
		RETURNING stock_on_hand
	`, productID, delta).Scan(&level)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	product, err := t.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return 0, &store.InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.StockOnHand,
		Required:    -delta,
	}
}

func (t *pgTx) GetPresentation(ctx context.Context, productID string, unitID string) (*domain.UnitPresentation, error) {
	var p domain.UnitPresentation
	var barcode sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT product_id, unit_id, unit_price, unit_cost, conversion_factor, barcode
		FROM unit_presentations
		WHERE product_id = $1 AND unit_id = $2
	`, productID, unitID).Scan(&p.ProductID, &p.UnitID, &p.UnitPrice, &p.UnitCost, &p.ConversionFactor, &barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: presentation %s/%s", store.ErrNotFound, productID, unitID)
		}
		return nil, err
	}
	p.Barcode = barcode.String
	return &p, nil
}

func (t *pgTx) UpsertPresentation(ctx context.Context, p domain.UnitPresentation) error {
	if !p.ConversionFactor.IsPositive() {
		return store.ErrInvalidArgument
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO unit_presentations (product_id, unit_id, unit_price, unit_cost, conversion_factor, barcode, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (product_id, unit_id)
		DO UPDATE SET
			unit_price = EXCLUDED.unit_price,
			unit_cost = EXCLUDED.unit_cost,
			conversion_factor = EXCLUDED.conversion_factor,
			barcode = EXCLUDED.barcode,
			updated_at = now()
	`, p.ProductID, p.UnitID, p.UnitPrice, p.UnitCost, p.ConversionFactor, nullIfEmpty(p.Barcode))
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, p.ProductID)
	}
	return err
}

func (t *pgTx) CreateCashSession(ctx context.Context, session domain.CashSession) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, opened_at, closed_at, opening_amount, closing_amount, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, session.ID, session.OpenedAt, nullTime(session.ClosedAt), session.OpeningAmount, session.ClosingAmount, session.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: a cash session is already open", store.ErrConflict)
		}
		return err
	}
	return nil
}

const cashSessionColumns = `id, opened_at, closed_at, opening_amount, closing_amount, active`

// scanCashSession reports a missing row as ErrNotFound naming what was
// looked up.
func scanCashSession(row rowScanner, what string) (*domain.CashSession, error) {
	var session domain.CashSession
	var closedAt sql.NullTime
	err := row.Scan(&session.ID, &session.OpenedAt, &closedAt, &session.OpeningAmount, &session.ClosingAmount, &session.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, what)
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	session.ClosedAt = timePtr(closedAt)
	return &session, nil
}

func (t *pgTx) GetCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	return scanCashSession(t.tx.QueryRowContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE id = $1
	`, sessionID), "cash session "+sessionID)
}

func (t *pgTx) LockCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	return scanCashSession(t.tx.QueryRowContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID), "cash session "+sessionID)
}

func (t *pgTx) GetOpenCashSession(ctx context.Context) (*domain.CashSession, error) {
	return scanCashSession(t.tx.QueryRowContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE closed_at IS NULL
		ORDER BY opened_at DESC
		LIMIT 1
	`), "no open cash session")
}

func (t *pgTx) CloseCashSession(ctx context.Context, sessionID string, closingAmount decimal.Decimal, closedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET closed_at = $2, closing_amount = $3, active = false
		WHERE id = $1 AND closed_at IS NULL
	`, sessionID, closedAt, closingAmount)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := t.GetCashSession(ctx, sessionID); err != nil {
		return err
	}
	return fmt.Errorf("%w: cash session %s is already closed", store.ErrInvalidState, sessionID)
}

func (t *pgTx) AppendCashMovement(ctx context.Context, m domain.CashMovement) error {
	if m.Amount.IsNegative() {
		return store.ErrInvalidArgument
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount, reason, related_id, related_entity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.SessionID, string(m.Type), m.Amount, nullIfEmpty(m.Reason), nullIfEmpty(m.RelatedID), nullIfEmpty(m.RelatedEntity), m.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: cash session %s", store.ErrNotFound, m.SessionID)
	}
	return err
}

func (t *pgTx) SumCashMovements(ctx context.Context, sessionID string, types []domain.CashMovementType) (decimal.Decimal, error) {
	if len(types) == 0 {
		return decimal.Zero, nil
	}
	names := make([]string, 0, len(types))
	for _, typ := range types {
		names = append(names, string(typ))
	}

	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM cash_movements
		WHERE session_id = $1 AND type = ANY($2)
	`, sessionID, names).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (t *pgTx) ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, session_id, type, amount, COALESCE(reason, ''), COALESCE(related_id, ''), COALESCE(related_entity, ''), created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		var m domain.CashMovement
		var typ string
		if err := rows.Scan(&m.ID, &m.SessionID, &typ, &m.Amount, &m.Reason, &m.RelatedID, &m.RelatedEntity, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = domain.CashMovementType(typ)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (t *pgTx) SaveSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, status, cash_session_id, sold_at, subtotal, tax_total, grand_total, created_at, updated_at, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			cash_session_id = EXCLUDED.cash_session_id,
			sold_at = EXCLUDED.sold_at,
			subtotal = EXCLUDED.subtotal,
			tax_total = EXCLUDED.tax_total,
			grand_total = EXCLUDED.grand_total,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`, sale.ID, string(sale.Status), nullIfEmpty(sale.CashSessionID), nullTime(sale.SoldAt),
		sale.Subtotal, sale.TaxTotal, sale.GrandTotal, sale.CreatedAt, sale.UpdatedAt, nullTime(sale.DeletedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: cash session %s", store.ErrNotFound, sale.CashSessionID)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID); err != nil {
		return err
	}
	for _, line := range sale.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				id, sale_id, position, product_id, unit_id, quantity, unit_price, tax_rate,
				line_subtotal, line_tax, line_total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, line.ID, sale.ID, line.Position, line.ProductID, line.UnitID, line.Quantity, line.UnitPrice, line.TaxRate,
			line.LineSubtotal, line.LineTax, line.LineTotal)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return t.findSale(ctx, saleID, false)
}

func (t *pgTx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return t.findSale(ctx, saleID, true)
}

func (t *pgTx) findSale(ctx context.Context, saleID string, forUpdate bool) (*domain.Sale, error) {
	query := `
		SELECT id, status, COALESCE(cash_session_id, ''), sold_at, subtotal, tax_total, grand_total, created_at, updated_at, deleted_at
		FROM sales
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sale domain.Sale
	var status string
	var soldAt, deletedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, saleID).Scan(
		&sale.ID,
		&status,
		&sale.CashSessionID,
		&soldAt,
		&sale.Subtotal,
		&sale.TaxTotal,
		&sale.GrandTotal,
		&sale.CreatedAt,
		&sale.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
		}
		return nil, err
	}
	sale.Status = domain.SaleStatus(status)
	sale.SoldAt = timePtr(soldAt)
	sale.DeletedAt = timePtr(deletedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, sale_id, position, product_id, unit_id, quantity, unit_price, tax_rate, line_subtotal, line_tax, line_total
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Lines = make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(
			&line.ID,
			&line.SaleID,
			&line.Position,
			&line.ProductID,
			&line.UnitID,
			&line.Quantity,
			&line.UnitPrice,
			&line.TaxRate,
			&line.LineSubtotal,
			&line.LineTax,
			&line.LineTotal,
		); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (t *pgTx) SavePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, supplier_id, status, ordered_at, received_at, total_cost, active, cancel_reason, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			received_at = EXCLUDED.received_at,
			total_cost = EXCLUDED.total_cost,
			active = EXCLUDED.active,
			cancel_reason = EXCLUDED.cancel_reason,
			deleted_at = EXCLUDED.deleted_at
	`, purchase.ID, purchase.SupplierID, string(purchase.Status), purchase.OrderedAt, nullTime(purchase.ReceivedAt),
		purchase.TotalCost, purchase.Active, nullIfEmpty(purchase.CancelReason), nullTime(purchase.DeletedAt))
	if err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM purchase_lines WHERE purchase_id = $1`, purchase.ID); err != nil {
		return err
	}
	for _, line := range purchase.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_lines (id, purchase_id, position, product_id, unit_id, quantity, unit_cost, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, line.ID, purchase.ID, line.Position, line.ProductID, line.UnitID, line.Quantity, line.UnitCost, line.LineTotal)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) GetPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return t.findPurchase(ctx, purchaseID, false)
}

func (t *pgTx) LockPurchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return t.findPurchase(ctx, purchaseID, true)
}

func (t *pgTx) findPurchase(ctx context.Context, purchaseID string, forUpdate bool) (*domain.Purchase, error) {
	query := `
		SELECT id, supplier_id, status, ordered_at, received_at, total_cost, active, COALESCE(cancel_reason, ''), deleted_at
		FROM purchases
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var purchase domain.Purchase
	var status string
	var receivedAt, deletedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, purchaseID).Scan(
		&purchase.ID,
		&purchase.SupplierID,
		&status,
		&purchase.OrderedAt,
		&receivedAt,
		&purchase.TotalCost,
		&purchase.Active,
		&purchase.CancelReason,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseID)
		}
		return nil, err
	}
	purchase.Status = domain.PurchaseStatus(status)
	purchase.OrderedAt = purchase.OrderedAt.UTC()
	purchase.ReceivedAt = timePtr(receivedAt)
	purchase.DeletedAt = timePtr(deletedAt)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, purchase_id, position, product_id, unit_id, quantity, unit_cost, line_total
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY position ASC
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchase.Lines = make([]domain.PurchaseLine, 0, 8)
	for rows.Next() {
		var line domain.PurchaseLine
		if err := rows.Scan(
			&line.ID,
			&line.PurchaseID,
			&line.Position,
			&line.ProductID,
			&line.UnitID,
			&line.Quantity,
			&line.UnitCost,
			&line.LineTotal,
		); err != nil {
			return nil, err
		}
		purchase.Lines = append(purchase.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrConflict, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidArgument
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

// isOutOfRange reports numeric_value_out_of_range, raised when a value
// exceeds the precision of its column.
func isOutOfRange(err error) bool {
	return pgErrorCode(err) == "22003"
}

// isRetryable reports serialization_failure and deadlock_detected.
func isRetryable(err error) bool {
	switch pgErrorCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
