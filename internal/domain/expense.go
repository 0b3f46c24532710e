package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType records which input modality produced an expense.
type SourceType string

const (
	SourceText     SourceType = "text"
	SourceVoice    SourceType = "voice"
	SourceImage    SourceType = "image"
	SourceVideo    SourceType = "video"
	SourceDocument SourceType = "document"
)

// ParsedExpense is a single expense extracted from text or a receipt.
type ParsedExpense struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	CategoryHint *string         `json:"category_hint,omitempty"`
	ExpenseDate  time.Time       `json:"expense_date"`
	RawInput     string          `json:"raw_input"`
}

// ParsedLineItem is one itemized row of a receipt.
type ParsedLineItem struct {
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// ParsedReceipt is the result of a receipt or document extraction.
// Total, when present, is for display only.
type ParsedReceipt struct {
	Expenses  []ParsedExpense
	StoreName *string
	Total     *decimal.Decimal
	LineItems []ParsedLineItem
}

// Sum adds up the individual expense amounts.
func (r ParsedReceipt) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range r.Expenses {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// Scope identifies who owns a record and, for group chats, which group it
// was created in.
type Scope struct {
	UserID     string `json:"user_id"`
	GroupScope *int64 `json:"group_scope,omitempty"`
}

// NewExpense is the write model handed to the persistence layer.
type NewExpense struct {
	Scope
	Amount      decimal.Decimal
	Currency    string
	Description string
	CategoryID  *string
	SourceType  SourceType
	RawInput    string
	ExpenseDate time.Time
}

// Expense is a persisted expense record.
type Expense struct {
	ID           string
	UserID       string
	GroupScope   *int64
	Amount       decimal.Decimal
	Currency     string
	Description  string
	CategoryID   *string
	CategoryName *string
	SourceType   SourceType
	RawInput     string
	ExpenseDate  time.Time
	CreatedAt    time.Time
}

// ExpenseUpdate lists the fields a correction may change. Nil fields are
// left untouched.
type ExpenseUpdate struct {
	Amount      *decimal.Decimal
	Description *string
	CategoryID  *string
}

// IsEmpty reports whether the update changes nothing.
func (u ExpenseUpdate) IsEmpty() bool {
	return u.Amount == nil && u.Description == nil && u.CategoryID == nil
}
