package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CategoryID   string          `json:"category_id"`
	UnitID       string          `json:"unit_id"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	StockOnHand  int64           `json:"stock_on_hand"`
	ReorderPoint int64           `json:"reorder_point"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
}

// UnitPresentation is an alternate unit a product is sold or bought in.
// ConversionFactor is the number of base units per presentation unit.
type UnitPresentation struct {
	ProductID        string              `json:"product_id"`
	UnitID           string              `json:"unit_id"`
	UnitPrice        decimal.Decimal     `json:"unit_price"`
	UnitCost         decimal.NullDecimal `json:"unit_cost"`
	ConversionFactor decimal.Decimal     `json:"conversion_factor"`
	Barcode          string              `json:"barcode,omitempty"`
}

type Conversion struct {
	ProductID        string          `json:"product_id"`
	UnitID           string          `json:"unit_id"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Fallback         bool            `json:"fallback"`
}

type PresentationSaveRequest struct {
	UnitPrice        decimal.Decimal     `json:"unit_price"`
	UnitCost         decimal.NullDecimal `json:"unit_cost"`
	ConversionFactor decimal.Decimal     `json:"conversion_factor"`
	Barcode          string              `json:"barcode" validate:"omitempty,max=64"`
}

type CashMovementType string

const (
	CashMovementOpening         CashMovementType = "Opening"
	CashMovementSale            CashMovementType = "Sale"
	CashMovementDeposit         CashMovementType = "Deposit"
	CashMovementPurchasePayment CashMovementType = "PurchasePayment"
	CashMovementExpense         CashMovementType = "Expense"
	CashMovementWithdrawal      CashMovementType = "Withdrawal"
	CashMovementClosing         CashMovementType = "Closing"
)

type CashSession struct {
	ID            string              `json:"id"`
	OpenedAt      time.Time           `json:"opened_at"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
	OpeningAmount decimal.Decimal     `json:"opening_amount"`
	ClosingAmount decimal.NullDecimal `json:"closing_amount"`
	Active        bool                `json:"active"`
}

func (s CashSession) IsOpen() bool {
	return s.ClosedAt == nil
}

type CashMovement struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	Type          CashMovementType `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	Reason        string           `json:"reason,omitempty"`
	RelatedID     string           `json:"related_id,omitempty"`
	RelatedEntity string           `json:"related_entity,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type SessionOpenRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type SessionCloseRequest struct {
	ClosingAmount decimal.Decimal `json:"closing_amount"`
}

type CashMovementRequest struct {
	Type   CashMovementType `json:"type" validate:"required,oneof=Deposit Expense Withdrawal"`
	Amount decimal.Decimal  `json:"amount"`
	Reason string           `json:"reason" validate:"max=255"`
}

type OpenSessionResult struct {
	Open    bool         `json:"open"`
	Session *CashSession `json:"session,omitempty"`
}

type SessionCloseResult struct {
	Session        CashSession     `json:"session"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Difference     decimal.Decimal `json:"difference"`
	Direction      string          `json:"direction"`
}

type SessionBalance struct {
	Session        CashSession     `json:"session"`
	OpeningAmount  decimal.Decimal `json:"opening_amount"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Difference     decimal.Decimal `json:"difference"`
	Movements      []CashMovement  `json:"movements"`
}

type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "Draft"
	SaleStatusCompleted SaleStatus = "Completed"
	SaleStatusCancelled SaleStatus = "Cancelled"
)

type Sale struct {
	ID            string          `json:"id"`
	Status        SaleStatus      `json:"status"`
	CashSessionID string          `json:"cash_session_id,omitempty"`
	SoldAt        *time.Time      `json:"sold_at,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Lines         []SaleLine      `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

type SaleLine struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	Position     int             `json:"position"`
	ProductID    string          `json:"product_id"`
	UnitID       string          `json:"unit_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	LineTax      decimal.Decimal `json:"line_tax"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type SaleCreateRequest struct {
	CashSessionID string `json:"cash_session_id" validate:"omitempty,max=64"`
}

type SaleLineRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	UnitID    string          `json:"unit_id" validate:"omitempty,max=64"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type SaleLineUpdateRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type PurchaseStatus string

const (
	PurchaseStatusOrdered   PurchaseStatus = "Ordered"
	PurchaseStatusReceived  PurchaseStatus = "Received"
	PurchaseStatusCancelled PurchaseStatus = "Cancelled"
)

type Purchase struct {
	ID           string          `json:"id"`
	SupplierID   string          `json:"supplier_id"`
	Status       PurchaseStatus  `json:"status"`
	OrderedAt    time.Time       `json:"ordered_at"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Active       bool            `json:"active"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	Lines        []PurchaseLine  `json:"lines"`
}

func (p Purchase) Received() bool {
	return p.Status == PurchaseStatusReceived
}

type PurchaseLine struct {
	ID         string          `json:"id"`
	PurchaseID string          `json:"purchase_id"`
	Position   int             `json:"position"`
	ProductID  string          `json:"product_id"`
	UnitID     string          `json:"unit_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

type PurchaseCreateRequest struct {
	SupplierID string                `json:"supplier_id" validate:"required,max=64"`
	Lines      []PurchaseLineRequest `json:"lines" validate:"dive"`
}

type PurchaseLineRequest struct {
	ProductID string              `json:"product_id" validate:"required,max=64"`
	UnitID    string              `json:"unit_id" validate:"omitempty,max=64"`
	Quantity  decimal.Decimal     `json:"quantity"`
	UnitCost  decimal.NullDecimal `json:"unit_cost"`
}

type PurchaseReceiveRequest struct {
	PayInCash     bool   `json:"pay_in_cash"`
	CashSessionID string `json:"cash_session_id" validate:"omitempty,max=64"`
}

type PurchaseCancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
