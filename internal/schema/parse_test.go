package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

var today = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func defaults() Defaults {
	return Defaults{Today: today, Currency: "usd", RawInput: "spent 45 on dinner"}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced with info", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without info", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", `Sure! Here it is: {"a":1}`, `{"a":1}`},
		{"trailing prose", `{"a":{"b":2}} hope that helps {x}`, `{"a":{"b":2}}`},
		{"prose around fence", "Result:\n```JSON\n{\"a\":\"}\"}\n```\nDone.", `{"a":"}"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw, '{')
			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestExtractJSON_Errors(t *testing.T) {
	_, err := ExtractJSON("no json here", '{')
	require.ErrorIs(t, err, ErrNoJSON)

	_, err = ExtractJSON(`{"a":`, '{')
	require.Error(t, err)
}

func TestParseExpense_ExactDecimal(t *testing.T) {
	for _, amount := range []string{"45.00", "0.1", "19.99", "1234567.89", "0"} {
		res := ParseExpense(`{"amount": `+amount+`, "description": "Dinner"}`, defaults())
		require.Equal(t, StatusFound, res.Status, amount)
		require.True(t, res.Value.Amount.Equal(decimal.RequireFromString(amount)), amount)
	}
}

func TestParseExpense_Fields(t *testing.T) {
	raw := "```json\n{\"amount\": 200.00, \"currency\": \"eur\", \"description\": \" Flight tickets \", \"category\": \"Travel\", \"date\": \"2025-06-01\"}\n```"
	res := ParseExpense(raw, defaults())
	require.True(t, res.IsFound())

	e := res.Value
	require.Equal(t, "EUR", e.Currency)
	require.Equal(t, "Flight tickets", e.Description)
	require.NotNil(t, e.CategoryHint)
	require.Equal(t, "Travel", *e.CategoryHint)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), e.ExpenseDate)
	require.Equal(t, "spent 45 on dinner", e.RawInput)
}

func TestParseExpense_Defaults(t *testing.T) {
	res := ParseExpense(`{"amount": "15", "description": "Uber ride", "category": null, "date": "last tuesday"}`, defaults())
	require.True(t, res.IsFound())
	require.Equal(t, "USD", res.Value.Currency)
	require.Nil(t, res.Value.CategoryHint)
	require.Equal(t, today, res.Value.ExpenseDate)

	res = ParseExpense(`{"amount": 15, "date": 20250601}`, defaults())
	require.True(t, res.IsFound())
	require.Equal(t, today, res.Value.ExpenseDate)
}

func TestParseExpense_NotFound(t *testing.T) {
	res := ParseExpense(`{"error": "No expense found"}`, defaults())
	require.Equal(t, StatusNotFound, res.Status)
	require.NoError(t, res.Err)
}

func TestParseExpense_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing amount":  `{"description": "Dinner"}`,
		"null amount":     `{"amount": null, "description": "Dinner"}`,
		"negative amount": `{"amount": -5, "description": "Dinner"}`,
		"bad amount":      `{"amount": "$45", "description": "Dinner"}`,
		"not json":        `I could not find anything`,
		"truncated":       `{"amount": 45.0, "descr`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := ParseExpense(raw, defaults())
			require.Equal(t, StatusMalformed, res.Status)
			require.Error(t, res.Err)
		})
	}
}

func TestParseReceipt(t *testing.T) {
	raw := `Here is the receipt:
{
  "line_items": [
    {"name": "Milk", "quantity": 2, "unit_price": 1.25, "total_price": 2.50},
    {"name": "Bread", "unit_price": 3.10},
    {"name": "Broken", "unit_price": "n/a"},
    {"name": "Nothing priced"}
  ],
  "expenses": [{"amount": 5.60, "currency": "gbp", "description": "Total", "category": "Groceries"}],
  "store_name": "Corner Shop",
  "date": "2025-06-08",
  "total": 5.60
}`
	res := ParseReceipt(raw, Defaults{Today: today, Currency: "USD", RawInput: "[Receipt image]"})
	require.True(t, res.IsFound())

	r := res.Value
	require.Len(t, r.Expenses, 1)
	require.Equal(t, "GBP", r.Expenses[0].Currency)
	require.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), r.Expenses[0].ExpenseDate)
	require.Equal(t, "[Receipt image]", r.Expenses[0].RawInput)
	require.NotNil(t, r.StoreName)
	require.Equal(t, "Corner Shop", *r.StoreName)
	require.NotNil(t, r.Total)
	require.True(t, r.Total.Equal(decimal.RequireFromString("5.60")))

	require.Len(t, r.LineItems, 2)
	require.Equal(t, "Milk", r.LineItems[0].Name)
	require.True(t, r.LineItems[0].Quantity.Equal(decimal.NewFromInt(2)))
	require.Equal(t, "Bread", r.LineItems[1].Name)
	require.True(t, r.LineItems[1].Quantity.Equal(decimal.NewFromInt(1)))
	require.True(t, r.LineItems[1].TotalPrice.Equal(decimal.RequireFromString("3.10")))
}

func TestParseReceipt_ReceiptDateAppliesToEveryExpense(t *testing.T) {
	res := ParseReceipt(`{
  "expenses": [
    {"amount": 2, "description": "Tea", "date": "2025-06-01"},
    {"amount": 3, "description": "Cake"}
  ],
  "date": "2025-06-08"
}`, defaults())
	require.True(t, res.IsFound())
	want := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	require.Equal(t, want, res.Value.Expenses[0].ExpenseDate)
	require.Equal(t, want, res.Value.Expenses[1].ExpenseDate)
}

func TestParseReceipt_UndatedReceiptKeepsExpenseDates(t *testing.T) {
	res := ParseReceipt(`{"expenses": [{"amount": 2, "description": "Tea", "date": "2025-06-01"}, {"amount": 3, "description": "Cake"}]}`, defaults())
	require.True(t, res.IsFound())
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), res.Value.Expenses[0].ExpenseDate)
	require.Equal(t, domain.DateOf(today), res.Value.Expenses[1].ExpenseDate)
}

func TestParseExpense_CurrencySymbolsFallBackToDefault(t *testing.T) {
	for _, sym := range []string{"€", "₹", "Rs.", "$", "US"} {
		t.Run(sym, func(t *testing.T) {
			res := ParseExpense(`{"amount": 10, "currency": "`+sym+`", "description": "tea"}`, defaults())
			require.True(t, res.IsFound())
			require.Equal(t, "USD", res.Value.Currency)
		})
	}
}

func TestParseReceipt_NotFoundAndMalformed(t *testing.T) {
	require.Equal(t, StatusNotFound, ParseReceipt(`{"error": "Could not parse receipt"}`, defaults()).Status)
	require.Equal(t, StatusNotFound, ParseReceipt(`{"expenses": []}`, defaults()).Status)

	res := ParseReceipt(`{"expenses": [{"amount": 3}, {"description": "no amount"}]}`, defaults())
	require.Equal(t, StatusMalformed, res.Status)
}

func TestParseReceipt_ZeroTotalIsAbsent(t *testing.T) {
	res := ParseReceipt(`{"expenses": [{"amount": 3}], "total": 0}`, defaults())
	require.True(t, res.IsFound())
	require.Nil(t, res.Value.Total)
}

func TestParseQuery(t *testing.T) {
	res := ParseQuery(`{"query_type": "CATEGORY_SPENDING", "item_name": null, "category_hint": "petrol", "start_date": "2025-05-01", "end_date": "2025-05-31"}`)
	require.True(t, res.IsFound())

	q := res.Value
	require.Equal(t, domain.QueryCategorySpending, q.Type)
	require.True(t, q.IsValid)
	require.Nil(t, q.ItemName)
	require.Equal(t, "petrol", *q.CategoryHint)
	require.Equal(t, "2025-05-01", domain.FormatDate(*q.StartDate))
	require.Equal(t, "2025-05-31", domain.FormatDate(*q.EndDate))
}

func TestParseQuery_UnknownTypeIsNotAQuery(t *testing.T) {
	res := ParseQuery(`{"query_type": "WEATHER"}`)
	require.True(t, res.IsFound())
	require.Equal(t, domain.QueryNotAQuery, res.Value.Type)
	require.False(t, res.Value.IsValid)

	require.Equal(t, StatusMalformed, ParseQuery(`nope`).Status)
}

func TestParseCorrection(t *testing.T) {
	res := ParseCorrection(`{"is_correction": true, "correction_type": "category", "new_category": "Transportation", "new_description": null, "new_amount": null}`)
	require.True(t, res.IsFound())
	require.True(t, res.Value.IsCorrection)
	require.Equal(t, "Transportation", *res.Value.NewCategory)
	require.Nil(t, res.Value.NewDescription)
	require.Nil(t, res.Value.NewAmount)

	res = ParseCorrection(`{"is_correction": true, "new_amount": 200}`)
	require.True(t, res.IsFound())
	require.True(t, res.Value.NewAmount.Equal(decimal.NewFromInt(200)))

	res = ParseCorrection(`{"is_correction": false, "new_category": "Travel"}`)
	require.True(t, res.IsFound())
	require.False(t, res.Value.IsCorrection)
	require.Nil(t, res.Value.NewCategory)

	require.Equal(t, StatusMalformed, ParseCorrection(`{"new_category": "Travel"}`).Status)
}

func TestParseCategorization(t *testing.T) {
	res := ParseCategorization(`{"category": "Food & Dining", "confidence": 0.95}`)
	require.True(t, res.IsFound())
	require.Equal(t, "Food & Dining", res.Value.Category)
	require.InDelta(t, 0.95, res.Value.Confidence, 1e-9)

	res = ParseCategorization(`{"category": "Travel", "confidence": 7}`)
	require.InDelta(t, 1.0, res.Value.Confidence, 1e-9)

	require.Equal(t, StatusNotFound, ParseCategorization(`{"confidence": 0.3}`).Status)
}

func TestParseBulkCategorization(t *testing.T) {
	raw := "```json\n[{\"index\": 0, \"category\": \"Groceries\", \"confidence\": 0.9}, {\"category\": \"Travel\"}, \"junk\", {\"index\": 4, \"category\": \"Health\", \"confidence\": 0.5}]\n```"
	res := ParseBulkCategorization(raw)
	require.True(t, res.IsFound())
	require.Equal(t, []Categorization{
		{Index: 0, Category: "Groceries", Confidence: 0.9},
		{Index: 4, Category: "Health", Confidence: 0.5},
	}, res.Value)

	require.Equal(t, StatusMalformed, ParseBulkCategorization(`{"index": 0}`).Status)
}
