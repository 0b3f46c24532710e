package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QueryType string

const (
	QueryItemPrice        QueryType = "item_price"
	QueryCategorySpending QueryType = "category_spending"
	QueryDateSpending     QueryType = "date_spending"
	QueryListExpenses     QueryType = "list_expenses"
	QueryNotAQuery        QueryType = "not_a_query"
)

// ParsedQuery is an analytical question about past spending.
type ParsedQuery struct {
	Type         QueryType
	ItemName     *string
	CategoryHint *string
	StartDate    *time.Time
	EndDate      *time.Time
	IsValid      bool
}

// NotAQuery is the zero-information query result.
func NotAQuery() ParsedQuery {
	return ParsedQuery{Type: QueryNotAQuery}
}

// ExpenseFilter narrows persisted expenses for query answering.
type ExpenseFilter struct {
	Scope
	StartDate   *time.Time
	EndDate     *time.Time
	CategoryID  *string
	Description *string
	Limit       int
}

// CategoryTotal is the summed spending of one category and currency.
type CategoryTotal struct {
	CategoryName string
	Currency     string
	Total        decimal.Decimal
	Count        int
}

// ItemPrice is a past purchase of a named item. Purchase is the
// description of the expense a receipt line item belongs to; it is empty
// when the match came from an expense description itself.
type ItemPrice struct {
	Name     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Currency string
	Date     time.Time
	Purchase string
}
