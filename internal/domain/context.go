package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseCorrection is the interpreted meaning of a follow-up message.
type ExpenseCorrection struct {
	IsCorrection   bool
	NewCategory    *string
	NewDescription *string
	NewAmount      *decimal.Decimal
}

// ExpenseContext is the "last expense" remembered per conversation.
type ExpenseContext struct {
	ExpenseID    string          `json:"expense_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	CategoryName string          `json:"category_name"`
	CategoryID   *string         `json:"category_id,omitempty"`
}

// ContextFromExpense rebuilds context from a persisted record.
func ContextFromExpense(e Expense) ExpenseContext {
	name := ""
	if e.CategoryName != nil {
		name = *e.CategoryName
	}
	return ExpenseContext{
		ExpenseID:    e.ID,
		Amount:       e.Amount,
		Currency:     e.Currency,
		Description:  e.Description,
		CategoryName: name,
		CategoryID:   e.CategoryID,
	}
}

// PendingReceiptBatch holds receipt expenses awaiting confirmation.
type PendingReceiptBatch struct {
	ID              string           `json:"id"`
	ConversationKey string           `json:"conversation_key"`
	Scope           Scope            `json:"scope"`
	Expenses        []ParsedExpense  `json:"expenses"`
	LineItems       []ParsedLineItem `json:"line_items,omitempty"`
	StoreName       *string          `json:"store_name,omitempty"`
	Total           *decimal.Decimal `json:"total,omitempty"`
	SourceType      SourceType       `json:"source_type"`
	CreatedAt       time.Time        `json:"created_at"`
}
