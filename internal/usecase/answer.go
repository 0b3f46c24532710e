package usecase

import (
	"context"
	"strings"
	"time"

	"expense-agent/internal/domain"
)

const (
	itemPriceLimit    = 10
	listExpensesLimit = 50
)

// Answerer answers analytical queries from persisted expenses.
type Answerer struct {
	store    ExpenseStore
	resolver *CategoryResolver
}

func NewAnswerer(store ExpenseStore, resolver *CategoryResolver) *Answerer {
	return &Answerer{store: store, resolver: resolver}
}

// Answer runs q within scope. Spending and list queries without dates cover
// the current month to date; item price queries are unbounded unless dated.
func (a *Answerer) Answer(ctx context.Context, scope domain.Scope, q domain.ParsedQuery, today time.Time) (QueryAnswer, error) {
	if q.Type == domain.QueryItemPrice && blank(q.ItemName) {
		q.Type = domain.QueryDateSpending
	}
	start, end := queryPeriod(q, domain.DateOf(today))
	ans := QueryAnswer{Query: q, Start: start, End: end}
	filter := domain.ExpenseFilter{Scope: scope, StartDate: start, EndDate: end}

	var err error
	switch q.Type {
	case domain.QueryItemPrice:
		name := strings.TrimSpace(*q.ItemName)
		filter.Description = &name
		filter.Limit = itemPriceLimit
		ans.Items, err = a.store.FindItemPrices(ctx, filter)
		if err != nil {
			return QueryAnswer{}, newError(ErrorInternal, "item_prices_failed", err)
		}
	case domain.QueryCategorySpending:
		if ans.Category, err = a.narrowByCategory(ctx, &filter, q.CategoryHint); err != nil {
			return QueryAnswer{}, err
		}
		if ans.Totals, err = a.store.TotalsByCategory(ctx, filter); err != nil {
			return QueryAnswer{}, newError(ErrorInternal, "totals_failed", err)
		}
	case domain.QueryListExpenses:
		if ans.Category, err = a.narrowByCategory(ctx, &filter, q.CategoryHint); err != nil {
			return QueryAnswer{}, err
		}
		filter.Limit = listExpensesLimit
		if ans.Expenses, err = a.store.ListExpenses(ctx, filter); err != nil {
			return QueryAnswer{}, newError(ErrorInternal, "list_failed", err)
		}
	default:
		if ans.Totals, err = a.store.TotalsByCategory(ctx, filter); err != nil {
			return QueryAnswer{}, newError(ErrorInternal, "totals_failed", err)
		}
	}
	return ans, nil
}

// narrowByCategory filters on a resolved category, or on the description
// when the hint only maps to the fallback category.
func (a *Answerer) narrowByCategory(ctx context.Context, f *domain.ExpenseFilter, hint *string) (*domain.Category, error) {
	if blank(hint) {
		return nil, nil
	}
	categories, err := a.store.GetCategories(ctx, f.UserID)
	if err != nil {
		return nil, newError(ErrorInternal, "categories_failed", err)
	}
	res := a.resolver.Resolve(ctx, hint, *hint, categories)
	if res.Category != nil && !res.Fallback {
		f.CategoryID = &res.Category.ID
		return res.Category, nil
	}
	h := strings.TrimSpace(*hint)
	f.Description = &h
	return nil, nil
}

func queryPeriod(q domain.ParsedQuery, today time.Time) (*time.Time, *time.Time) {
	start, end := q.StartDate, q.EndDate
	switch {
	case start == nil && end == nil:
		if q.Type == domain.QueryItemPrice {
			return nil, nil
		}
		s := domain.MonthStart(today)
		return &s, &today
	case start == nil:
		s := domain.MonthStart(*end)
		return &s, end
	case end == nil:
		return start, &today
	}
	return start, end
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
