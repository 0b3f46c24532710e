package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expense-agent/internal/domain"
)

// Defaults carries the caller-supplied values used when a response omits
// an optional field.
type Defaults struct {
	Today    time.Time
	Currency string
	RawInput string
}

var errMissingAmount = errors.New("schema: amount is required")

type expensePayload struct {
	Error       json.RawMessage  `json:"error"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    looseString      `json:"currency"`
	Description looseString      `json:"description"`
	Category    looseString      `json:"category"`
	Date        looseString      `json:"date"`
}

type receiptPayload struct {
	Error     json.RawMessage   `json:"error"`
	Expenses  []expensePayload  `json:"expenses"`
	LineItems []json.RawMessage `json:"line_items"`
	StoreName looseString       `json:"store_name"`
	Date      looseString       `json:"date"`
	Total     json.RawMessage   `json:"total"`
}

type lineItemPayload struct {
	Name       looseString      `json:"name"`
	Quantity   *decimal.Decimal `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	TotalPrice *decimal.Decimal `json:"total_price"`
}

type queryPayload struct {
	QueryType    looseString `json:"query_type"`
	ItemName     looseString `json:"item_name"`
	CategoryHint looseString `json:"category_hint"`
	StartDate    looseString `json:"start_date"`
	EndDate      looseString `json:"end_date"`
}

type correctionPayload struct {
	IsCorrection   *bool            `json:"is_correction"`
	NewCategory    looseString      `json:"new_category"`
	NewDescription looseString      `json:"new_description"`
	NewAmount      *decimal.Decimal `json:"new_amount"`
}

// Categorization is one category choice returned by the service.
type Categorization struct {
	Index      int
	Category   string
	Confidence float64
}

type categorizationPayload struct {
	Index      *int     `json:"index"`
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
}

// ParseExpense decodes an expense_parse response.
func ParseExpense(raw string, d Defaults) Result[domain.ParsedExpense] {
	body, err := ExtractJSON(raw, '{')
	if err != nil {
		return Malformed[domain.ParsedExpense](err)
	}
	var p expensePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Malformed[domain.ParsedExpense](fmt.Errorf("schema: expense: %w", err))
	}
	if hasError(p.Error) {
		return NotFound[domain.ParsedExpense]()
	}
	exp, err := p.toExpense(d, d.Today)
	if err != nil {
		return Malformed[domain.ParsedExpense](err)
	}
	return Found(exp)
}

// ParseReceipt decodes a receipt_parse or document_parse response. A
// response with no expenses is NotFound. Invalid line items are dropped.
func ParseReceipt(raw string, d Defaults) Result[domain.ParsedReceipt] {
	body, err := ExtractJSON(raw, '{')
	if err != nil {
		return Malformed[domain.ParsedReceipt](err)
	}
	var p receiptPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Malformed[domain.ParsedReceipt](fmt.Errorf("schema: receipt: %w", err))
	}
	if hasError(p.Error) || len(p.Expenses) == 0 {
		return NotFound[domain.ParsedReceipt]()
	}

	// The receipt date applies to every expense; per-expense dates are used
	// only when the receipt has none.
	receiptDate, dated := parseLooseDate(p.Date)
	if !dated {
		receiptDate = domain.DateOf(d.Today)
	}
	out := domain.ParsedReceipt{
		Expenses:  make([]domain.ParsedExpense, 0, len(p.Expenses)),
		StoreName: p.StoreName.ptr(),
		Total:     positiveDecimal(p.Total),
	}
	for i, e := range p.Expenses {
		exp, err := e.toExpense(d, receiptDate)
		if err != nil {
			return Malformed[domain.ParsedReceipt](fmt.Errorf("schema: receipt expense %d: %w", i, err))
		}
		if dated {
			exp.ExpenseDate = receiptDate
		}
		out.Expenses = append(out.Expenses, exp)
	}
	for _, rawItem := range p.LineItems {
		if item, ok := parseLineItem(rawItem); ok {
			out.LineItems = append(out.LineItems, item)
		}
	}
	return Found(out)
}

// ParseQuery decodes a query_parse response. Unknown query types collapse
// to not_a_query.
func ParseQuery(raw string) Result[domain.ParsedQuery] {
	body, err := ExtractJSON(raw, '{')
	if err != nil {
		return Malformed[domain.ParsedQuery](err)
	}
	var p queryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Malformed[domain.ParsedQuery](fmt.Errorf("schema: query: %w", err))
	}

	qt := domain.QueryType(strings.ToLower(strings.TrimSpace(p.QueryType.value)))
	switch qt {
	case domain.QueryItemPrice, domain.QueryCategorySpending, domain.QueryDateSpending, domain.QueryListExpenses:
	default:
		return Found(domain.NotAQuery())
	}

	q := domain.ParsedQuery{
		Type:         qt,
		ItemName:     p.ItemName.ptr(),
		CategoryHint: p.CategoryHint.ptr(),
		IsValid:      true,
	}
	if t, ok := parseLooseDate(p.StartDate); ok {
		q.StartDate = &t
	}
	if t, ok := parseLooseDate(p.EndDate); ok {
		q.EndDate = &t
	}
	return Found(q)
}

// ParseCorrection decodes a correction_understand response.
func ParseCorrection(raw string) Result[domain.ExpenseCorrection] {
	body, err := ExtractJSON(raw, '{')
	if err != nil {
		return Malformed[domain.ExpenseCorrection](err)
	}
	var p correctionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Malformed[domain.ExpenseCorrection](fmt.Errorf("schema: correction: %w", err))
	}
	if p.IsCorrection == nil {
		return Malformed[domain.ExpenseCorrection](errors.New("schema: correction: is_correction is required"))
	}
	if !*p.IsCorrection {
		return Found(domain.ExpenseCorrection{})
	}

	c := domain.ExpenseCorrection{
		IsCorrection:   true,
		NewCategory:    p.NewCategory.ptr(),
		NewDescription: p.NewDescription.ptr(),
	}
	if p.NewAmount != nil && p.NewAmount.Sign() > 0 {
		amt := *p.NewAmount
		c.NewAmount = &amt
	}
	return Found(c)
}

// ParseCategorization decodes a single-item categorize response.
func ParseCategorization(raw string) Result[Categorization] {
	body, err := ExtractJSON(raw, '{')
	if err != nil {
		return Malformed[Categorization](err)
	}
	var p categorizationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Malformed[Categorization](fmt.Errorf("schema: categorization: %w", err))
	}
	if p.Category == nil || strings.TrimSpace(*p.Category) == "" {
		return NotFound[Categorization]()
	}
	return Found(Categorization{Category: strings.TrimSpace(*p.Category), Confidence: clampConfidence(p.Confidence)})
}

// ParseBulkCategorization decodes a bulk categorize response. Entries
// without an index or category are skipped; range checks are left to the
// caller.
func ParseBulkCategorization(raw string) Result[[]Categorization] {
	body, err := ExtractJSON(raw, '[')
	if err != nil {
		return Malformed[[]Categorization](err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Malformed[[]Categorization](fmt.Errorf("schema: bulk categorization: %w", err))
	}

	out := make([]Categorization, 0, len(items))
	for _, item := range items {
		var p categorizationPayload
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		if p.Index == nil || p.Category == nil {
			continue
		}
		out = append(out, Categorization{
			Index:      *p.Index,
			Category:   strings.TrimSpace(*p.Category),
			Confidence: clampConfidence(p.Confidence),
		})
	}
	return Found(out)
}

func (p expensePayload) toExpense(d Defaults, fallbackDate time.Time) (domain.ParsedExpense, error) {
	if p.Amount == nil {
		return domain.ParsedExpense{}, errMissingAmount
	}
	if p.Amount.Sign() < 0 {
		return domain.ParsedExpense{}, fmt.Errorf("schema: amount must not be negative: %s", p.Amount)
	}

	currency, ok := domain.NormalizeCurrency(p.Currency.value)
	if !ok {
		currency, _ = domain.NormalizeCurrency(d.Currency)
	}
	description := ""
	if p.Description.ok {
		description = strings.TrimSpace(p.Description.value)
	}
	return domain.ParsedExpense{
		Amount:       *p.Amount,
		Currency:     currency,
		Description:  description,
		CategoryHint: p.Category.ptr(),
		ExpenseDate:  resolveDate(p.Date, fallbackDate),
		RawInput:     d.RawInput,
	}, nil
}

func parseLineItem(raw json.RawMessage) (domain.ParsedLineItem, bool) {
	var p lineItemPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.ParsedLineItem{}, false
	}

	item := domain.ParsedLineItem{Name: "Unknown item", Quantity: decimal.NewFromInt(1)}
	if name := p.Name.ptr(); name != nil {
		item.Name = *name
	}
	if p.Quantity != nil && p.Quantity.Sign() > 0 {
		item.Quantity = *p.Quantity
	}
	switch {
	case p.UnitPrice != nil && p.TotalPrice != nil:
		item.UnitPrice, item.TotalPrice = *p.UnitPrice, *p.TotalPrice
	case p.UnitPrice != nil:
		item.UnitPrice = *p.UnitPrice
		item.TotalPrice = p.UnitPrice.Mul(item.Quantity)
	case p.TotalPrice != nil:
		item.TotalPrice = *p.TotalPrice
		item.UnitPrice = p.TotalPrice.DivRound(item.Quantity, 2)
	default:
		return domain.ParsedLineItem{}, false
	}
	if item.UnitPrice.Sign() < 0 || item.TotalPrice.Sign() < 0 {
		return domain.ParsedLineItem{}, false
	}
	return item, true
}

// hasError reports whether the payload carried a non-null "error" member.
func hasError(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != "false" && v != `""`
}

func resolveDate(s looseString, fallback time.Time) time.Time {
	if t, ok := parseLooseDate(s); ok {
		return t
	}
	return domain.DateOf(fallback)
}

func parseLooseDate(s looseString) (time.Time, bool) {
	if !s.ok {
		return time.Time{}, false
	}
	return domain.ParseDate(s.value)
}

// positiveDecimal decodes an optional total. Zero, null, and non-numeric
// values are treated as absent.
func positiveDecimal(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 {
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil || d.Sign() <= 0 {
		return nil
	}
	return &d
}

func clampConfidence(c *float64) float64 {
	if c == nil {
		return 0
	}
	switch {
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	default:
		return *c
	}
}
