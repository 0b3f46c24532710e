package repository

import (
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
}

func TestNewExpenseStoreRequiresDB(t *testing.T) {
	_, err := NewExpenseStore(nil, nil)
	require.Error(t, err)
}

func TestScopeFilterPrivate(t *testing.T) {
	sql, args, err := scopeFilter(domain.Scope{UserID: "u1"}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "e.group_scope IS NULL")
	require.Contains(t, sql, "e.user_id = ?")
	require.Equal(t, []any{"u1"}, args)
}

func TestScopeFilterGroup(t *testing.T) {
	g := int64(-100)
	sql, args, err := scopeFilter(domain.Scope{UserID: "u1", GroupScope: &g}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "e.group_scope = ?")
	require.Equal(t, []any{int64(-100)}, args)
}

func TestInsertExpensesQuery(t *testing.T) {
	s := &ExpenseStore{newID: sequentialIDs()}
	day := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	q, ids := s.insertExpensesQuery([]domain.NewExpense{
		{Scope: domain.Scope{UserID: "u1"}, Amount: decimal.RequireFromString("12.50"), Currency: "USD", Description: "lunch", SourceType: domain.SourceText, ExpenseDate: day},
		{Scope: domain.Scope{UserID: "u1"}, Amount: decimal.RequireFromString("3"), Currency: "USD", Description: "coffee", SourceType: domain.SourceText, ExpenseDate: day},
	})
	require.Equal(t, []string{"id-1", "id-2"}, ids)

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "INSERT INTO expenses")
	require.Contains(t, sql, "$5::text::numeric")
	require.NotContains(t, sql, "?")
	require.Len(t, args, 20)
	require.Equal(t, "12.5", args[4])
	require.Equal(t, domain.DateOf(day), args[9])
}

func TestInsertItemsQueryRejectsBlankName(t *testing.T) {
	s := &ExpenseStore{newID: sequentialIDs()}
	_, err := s.insertItemsQuery("exp-1", []domain.ParsedLineItem{{Name: "  "}})
	require.Error(t, err)
}

func TestInsertItemsQuery(t *testing.T) {
	s := &ExpenseStore{newID: sequentialIDs()}
	q, err := s.insertItemsQuery("exp-1", []domain.ParsedLineItem{
		{Name: "milk", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("1.25"), TotalPrice: decimal.RequireFromString("2.50")},
	})
	require.NoError(t, err)

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "INSERT INTO expense_items")
	require.Equal(t, []any{"id-1", "exp-1", "milk", "2", "1.25", "2.5"}, args)
}

func TestUpdateExpenseQuerySetsOnlyGivenFields(t *testing.T) {
	desc := "team lunch"
	sql, args, err := updateExpenseQuery("exp-1", domain.ExpenseUpdate{Description: &desc}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "description = $1")
	require.NotContains(t, sql, "amount")
	require.NotContains(t, sql, "category_id")
	require.Equal(t, []any{"team lunch", "exp-1"}, args)
}

func TestUpdateExpenseQueryAmount(t *testing.T) {
	amount := decimal.RequireFromString("9.99")
	cat := "cat-1"
	sql, args, err := updateExpenseQuery("exp-1", domain.ExpenseUpdate{Amount: &amount, CategoryID: &cat}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "amount = $1::text::numeric")
	require.Contains(t, sql, "category_id = $2")
	require.Equal(t, []any{"9.99", "cat-1", "exp-1"}, args)
}

func TestTotalsQuery(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	sql, args, err := totalsQuery(domain.ExpenseFilter{
		Scope:     domain.Scope{UserID: "u1"},
		StartDate: &start,
		EndDate:   &end,
	}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "COALESCE(c.name, 'Uncategorized')")
	require.Contains(t, sql, "LEFT JOIN categories c")
	require.Contains(t, sql, "GROUP BY 1, 2")
	require.Contains(t, sql, "ORDER BY SUM(e.amount) DESC")
	require.Contains(t, sql, "e.expense_date >= $2")
	require.Contains(t, sql, "e.expense_date <= $3")
	require.Equal(t, []any{"u1", start, end}, args)
}

func TestListQueryOrderAndLimit(t *testing.T) {
	cat := "cat-2"
	sql, args, err := listQuery(domain.ExpenseFilter{
		Scope:      domain.Scope{UserID: "u1"},
		CategoryID: &cat,
		Limit:      50,
	}).ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY e.expense_date DESC, e.created_at DESC")
	require.Contains(t, sql, "LIMIT 50")
	require.Contains(t, sql, "e.category_id = $2")
	require.Equal(t, []any{"u1", "cat-2"}, args)
}

func TestItemPricesQueryEscapesPattern(t *testing.T) {
	sql, args, err := itemPricesQuery(domain.ExpenseFilter{Scope: domain.Scope{UserID: "u1"}, Limit: 10}, " 100%_juice ").ToSql()
	require.NoError(t, err)
	require.Contains(t, sql, "JOIN expenses e ON e.id = i.expense_id")
	require.Contains(t, sql, "i.name ILIKE $2")
	require.Contains(t, sql, "LIMIT 10")
	require.Equal(t, `%100\%\_juice%`, args[1])
}

func TestSchemaKeepsAmountsUnrounded(t *testing.T) {
	require.Contains(t, schemaSQL, "amount       NUMERIC NOT NULL")
	require.NotContains(t, schemaSQL, "NUMERIC(")
}
