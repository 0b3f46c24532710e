package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"expense-agent/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uncategorized = "Uncategorized"

// pgxAPI is the subset of *pgxpool.Pool used by ExpenseStore.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// ExpenseStore persists expenses, categories and receipt line items in
// Postgres.
type ExpenseStore struct {
	db     pgxAPI
	logger *zap.Logger
	newID  func() string
}

func NewExpenseStore(db pgxAPI, logger *zap.Logger) (*ExpenseStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpenseStore{db: db, logger: logger, newID: uuid.NewString}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *ExpenseStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}

// numeric binds a decimal through its exact text form.
func numeric(d decimal.Decimal) squirrel.Sqlizer {
	return squirrel.Expr("?::text::numeric", d.String())
}

func (s *ExpenseStore) CreateExpense(ctx context.Context, e domain.NewExpense) (string, error) {
	ids, err := s.insertExpenses(ctx, s.db, []domain.NewExpense{e})
	if err != nil {
		return "", fmt.Errorf("repository: CreateExpense: %w", err)
	}
	return ids[0], nil
}

// CreateExpenseBatch inserts all expenses in one transaction and attaches
// items to the first.
func (s *ExpenseStore) CreateExpenseBatch(ctx context.Context, es []domain.NewExpense, items []domain.ParsedLineItem) (ids []string, err error) {
	if len(es) == 0 {
		return nil, errors.New("repository: CreateExpenseBatch: no expenses")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: CreateExpenseBatch begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	ids, err = s.insertExpenses(ctx, tx, es)
	if err != nil {
		return nil, fmt.Errorf("repository: CreateExpenseBatch: %w", err)
	}
	if len(items) > 0 {
		q, err := s.insertItemsQuery(ids[0], items)
		if err != nil {
			return nil, err
		}
		sql, args, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("repository: CreateExpenseBatch items sql: %w", err)
		}
		if _, err = tx.Exec(ctx, sql, args...); err != nil {
			return nil, fmt.Errorf("repository: CreateExpenseBatch items: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: CreateExpenseBatch commit: %w", err)
	}
	return ids, nil
}

func (s *ExpenseStore) insertExpenses(ctx context.Context, db execer, es []domain.NewExpense) ([]string, error) {
	q, ids := s.insertExpensesQuery(es)
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("insert sql: %w", err)
	}
	if _, err := db.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return ids, nil
}

func (s *ExpenseStore) insertExpensesQuery(es []domain.NewExpense) (squirrel.InsertBuilder, []string) {
	q := psql.Insert("expenses").
		Columns("id", "user_id", "group_scope", "category_id", "amount", "currency", "description", "raw_input", "source_type", "expense_date")
	ids := make([]string, 0, len(es))
	for _, e := range es {
		id := s.newID()
		ids = append(ids, id)
		q = q.Values(id, e.UserID, e.GroupScope, e.CategoryID, numeric(e.Amount), e.Currency, e.Description, e.RawInput, string(e.SourceType), domain.DateOf(e.ExpenseDate))
	}
	return q, ids
}

func (s *ExpenseStore) insertItemsQuery(expenseID string, items []domain.ParsedLineItem) (squirrel.InsertBuilder, error) {
	q := psql.Insert("expense_items").Columns("id", "expense_id", "name", "quantity", "unit_price", "total_price")
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return q, errors.New("repository: line item name is required")
		}
		q = q.Values(s.newID(), expenseID, it.Name, numeric(it.Quantity), numeric(it.UnitPrice), numeric(it.TotalPrice))
	}
	return q, nil
}

// UpdateExpense changes only the fields set in u.
func (s *ExpenseStore) UpdateExpense(ctx context.Context, id string, u domain.ExpenseUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	sql, args, err := updateExpenseQuery(id, u).ToSql()
	if err != nil {
		return fmt.Errorf("repository: UpdateExpense sql: %w", err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("repository: UpdateExpense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: UpdateExpense: expense %s not found", id)
	}
	return nil
}

func updateExpenseQuery(id string, u domain.ExpenseUpdate) squirrel.UpdateBuilder {
	q := psql.Update("expenses").Set("updated_at", squirrel.Expr("now()")).Where(squirrel.Eq{"id": id})
	if u.Amount != nil {
		q = q.Set("amount", numeric(*u.Amount))
	}
	if u.Description != nil {
		q = q.Set("description", *u.Description)
	}
	if u.CategoryID != nil {
		q = q.Set("category_id", *u.CategoryID)
	}
	return q
}

var expenseColumns = []string{
	"e.id", "e.user_id", "e.group_scope", "e.amount::text", "e.currency", "e.description",
	"e.category_id", "c.name", "e.source_type", "e.raw_input", "e.expense_date", "e.created_at",
}

func selectExpenses() squirrel.SelectBuilder {
	return psql.Select(expenseColumns...).
		From("expenses e").
		LeftJoin("categories c ON c.id = e.category_id")
}

// GetExpense returns nil when id does not exist.
func (s *ExpenseStore) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	sql, args, err := selectExpenses().Where(squirrel.Eq{"e.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: GetExpense sql: %w", err)
	}
	e, err := scanExpense(s.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetExpense: %w", err)
	}
	return &e, nil
}

func scanExpense(row pgx.Row) (domain.Expense, error) {
	var (
		e      domain.Expense
		amount string
		source string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.GroupScope, &amount, &e.Currency, &e.Description,
		&e.CategoryID, &e.CategoryName, &source, &e.RawInput, &e.ExpenseDate, &e.CreatedAt); err != nil {
		return domain.Expense{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	e.Amount = d
	e.SourceType = domain.SourceType(source)
	e.Currency = strings.TrimSpace(e.Currency)
	return e, nil
}

// GetCategories returns the user's categories, seeding the default set the
// first time.
func (s *ExpenseStore) GetCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	cats, err := s.listCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cats) > 0 {
		return cats, nil
	}

	sql, args, err := s.seedCategoriesQuery(userID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: seed categories sql: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("repository: seed categories: %w", err)
	}
	s.logger.Info("seeded default categories", zap.String("user_id", userID))
	return s.listCategories(ctx, userID)
}

func (s *ExpenseStore) seedCategoriesQuery(userID string) squirrel.InsertBuilder {
	q := psql.Insert("categories").Columns("id", "user_id", "name", "icon", "is_default")
	for _, c := range domain.DefaultCategories {
		q = q.Values(s.newID(), userID, c.Name, c.Icon, true)
	}
	return q.Suffix("ON CONFLICT DO NOTHING")
}

func (s *ExpenseStore) listCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	sql, args, err := psql.Select("id", "name", "icon").
		From("categories").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at", "name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: list categories sql: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: list categories: %w", err)
	}
	defer rows.Close()

	var cats []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon); err != nil {
			return nil, fmt.Errorf("repository: scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// scopeFilter limits a query to a group's expenses, or to the user's
// personal expenses outside any group.
func scopeFilter(s domain.Scope) squirrel.Sqlizer {
	if s.GroupScope != nil {
		return squirrel.Eq{"e.group_scope": *s.GroupScope}
	}
	return squirrel.Eq{"e.user_id": s.UserID, "e.group_scope": nil}
}

func applyFilter(q squirrel.SelectBuilder, f domain.ExpenseFilter) squirrel.SelectBuilder {
	q = q.Where(scopeFilter(f.Scope))
	if f.StartDate != nil {
		q = q.Where(squirrel.GtOrEq{"e.expense_date": domain.DateOf(*f.StartDate)})
	}
	if f.EndDate != nil {
		q = q.Where(squirrel.LtOrEq{"e.expense_date": domain.DateOf(*f.EndDate)})
	}
	if f.CategoryID != nil {
		q = q.Where(squirrel.Eq{"e.category_id": *f.CategoryID})
	}
	return q
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

func totalsQuery(f domain.ExpenseFilter) squirrel.SelectBuilder {
	q := psql.Select("COALESCE(c.name, '"+uncategorized+"')", "e.currency", "SUM(e.amount)::text", "COUNT(*)").
		From("expenses e").
		LeftJoin("categories c ON c.id = e.category_id")
	q = applyFilter(q, f)
	if f.Description != nil {
		q = q.Where(squirrel.ILike{"e.description": likePattern(*f.Description)})
	}
	return q.GroupBy("1", "2").OrderBy("SUM(e.amount) DESC")
}

// TotalsByCategory sums spending per category and currency.
func (s *ExpenseStore) TotalsByCategory(ctx context.Context, f domain.ExpenseFilter) ([]domain.CategoryTotal, error) {
	sql, args, err := totalsQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: TotalsByCategory sql: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: TotalsByCategory: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryTotal
	for rows.Next() {
		var (
			t     domain.CategoryTotal
			total string
		)
		if err := rows.Scan(&t.CategoryName, &t.Currency, &total, &t.Count); err != nil {
			return nil, fmt.Errorf("repository: scan total: %w", err)
		}
		if t.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("repository: decode total %q: %w", total, err)
		}
		t.Currency = strings.TrimSpace(t.Currency)
		out = append(out, t)
	}
	return out, rows.Err()
}

func listQuery(f domain.ExpenseFilter) squirrel.SelectBuilder {
	q := applyFilter(selectExpenses(), f)
	if f.Description != nil {
		q = q.Where(squirrel.ILike{"e.description": likePattern(*f.Description)})
	}
	q = q.OrderBy("e.expense_date DESC", "e.created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

// ListExpenses returns matching expenses, newest first.
func (s *ExpenseStore) ListExpenses(ctx context.Context, f domain.ExpenseFilter) ([]domain.Expense, error) {
	sql, args, err := listQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: ListExpenses sql: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: ListExpenses: %w", err)
	}
	defer rows.Close()

	var out []domain.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func itemPricesQuery(f domain.ExpenseFilter, name string) squirrel.SelectBuilder {
	q := psql.Select("i.name", "i.unit_price::text", "i.quantity::text", "e.currency", "e.expense_date", "e.description").
		From("expense_items i").
		Join("expenses e ON e.id = i.expense_id")
	q = applyFilter(q, f).
		Where(squirrel.ILike{"i.name": likePattern(name)}).
		OrderBy("e.expense_date DESC", "i.created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

// FindItemPrices looks up past prices of the item named by f.Description,
// first among receipt line items, then among expense descriptions.
func (s *ExpenseStore) FindItemPrices(ctx context.Context, f domain.ExpenseFilter) ([]domain.ItemPrice, error) {
	if f.Description == nil || strings.TrimSpace(*f.Description) == "" {
		return nil, errors.New("repository: FindItemPrices: item name is required")
	}
	name := *f.Description
	f.Description = nil

	sql, args, err := itemPricesQuery(f, name).ToSql()
	if err != nil {
		return nil, fmt.Errorf("repository: FindItemPrices sql: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: FindItemPrices: %w", err)
	}
	items, err := scanItemPrices(rows)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}

	f.Description = &name
	expenses, err := s.ListExpenses(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, e := range expenses {
		items = append(items, domain.ItemPrice{
			Name:     e.Description,
			Price:    e.Amount,
			Quantity: decimal.NewFromInt(1),
			Currency: e.Currency,
			Date:     e.ExpenseDate,
		})
	}
	return items, nil
}

func scanItemPrices(rows pgx.Rows) ([]domain.ItemPrice, error) {
	defer rows.Close()
	var out []domain.ItemPrice
	for rows.Next() {
		var (
			it              domain.ItemPrice
			price, quantity string
			date            time.Time
		)
		if err := rows.Scan(&it.Name, &price, &quantity, &it.Currency, &date, &it.Purchase); err != nil {
			return nil, fmt.Errorf("repository: scan item price: %w", err)
		}
		var err error
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("repository: decode price %q: %w", price, err)
		}
		if it.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("repository: decode quantity %q: %w", quantity, err)
		}
		it.Date = date
		it.Currency = strings.TrimSpace(it.Currency)
		out = append(out, it)
	}
	return out, rows.Err()
}
