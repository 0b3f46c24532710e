package usecase

import (
	"fmt"
	"strings"
	"time"

	"expense-agent/internal/domain"
)

// dateHints are the reference dates substituted into prompts so relative
// words resolve against the caller's "today", not the model's.
type dateHints struct {
	today          string
	yesterday      string
	weekStart      string
	lastMonthStart string
	lastMonthEnd   string
}

func newDateHints(today time.Time) dateHints {
	today = domain.DateOf(today)
	lmStart, lmEnd := domain.PreviousMonth(today)
	return dateHints{
		today:          domain.FormatDate(today),
		yesterday:      domain.FormatDate(today.AddDate(0, 0, -1)),
		weekStart:      domain.FormatDate(domain.WeekStart(today)),
		lastMonthStart: domain.FormatDate(lmStart),
		lastMonthEnd:   domain.FormatDate(lmEnd),
	}
}

func categoryChoices() string {
	return strings.Join(domain.DefaultCategoryNames(), ", ")
}

func bulletList(names []string) string {
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, "- "+n)
	}
	return strings.Join(lines, "\n")
}

func jsonOnlyRule() string {
	return "Return ONLY the JSON value. No markdown, no explanations before or after it."
}

func withUserMessage(system, user string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: strings.TrimSpace(user)},
	}
}

func buildExpensePrompt(text string, today time.Time) []domain.ChatMessage {
	h := newDateHints(today)
	system := strings.Join([]string{
		"Role:",
		"You are an expense parsing assistant.",
		"",
		"Task:",
		"Extract a single expense from the user's message.",
		"",
		"Output Contract:",
		"Return a JSON object with:",
		"- amount: number (required), the expense amount as a decimal number",
		"- currency: string, three-letter code such as USD, EUR, GBP; null if not stated",
		"- description: string (required), a short description of the expense",
		"- category: string, one of: " + categoryChoices(),
		"- date: string, YYYY-MM-DD. Today is " + h.today + ". Convert words like \"today\", \"yesterday\", \"last week\" to dates.",
		`If the message contains no expense, return: {"error": "No expense found"}`,
		"",
		"Examples:",
		`"Spent $45 on dinner last night" -> {"amount": 45.00, "currency": "USD", "description": "Dinner", "category": "Food & Dining", "date": "` + h.yesterday + `"}`,
		`"Just paid 200 euros for flight tickets" -> {"amount": 200.00, "currency": "EUR", "description": "Flight tickets", "category": "Travel", "date": "` + h.today + `"}`,
		`"Uber ride $15" -> {"amount": 15.00, "currency": "USD", "description": "Uber ride", "category": "Transportation", "date": "` + h.today + `"}`,
		`"bought groceries 89.50" -> {"amount": 89.50, "currency": null, "description": "Groceries", "category": "Groceries", "date": "` + h.today + `"}`,
		"",
		jsonOnlyRule(),
	}, "\n")
	return withUserMessage(system, text)
}

func buildQueryPrompt(text string, today time.Time) []domain.ChatMessage {
	h := newDateHints(today)
	system := strings.Join([]string{
		"Role:",
		"You are an expense tracking assistant.",
		"",
		"Task:",
		"Decide whether the user's message is a question about their past expenses. Today's date is " + h.today + ". Weeks start on Monday.",
		"",
		"Query Types:",
		`1. ITEM_PRICE: price of a specific item ("how much was milk?", "what did I pay for eggs last time?")`,
		`2. CATEGORY_SPENDING: spending in a category ("how much on petrol last month?", "what did I spend on transportation?")`,
		`3. DATE_SPENDING: total spending for a date or period ("how much yesterday?", "total spending today?")`,
		`4. LIST_EXPENSES: an itemized list ("list today's expenses", "show my expenses", "what did I buy today?")`,
		"5. NOT_A_QUERY: a new expense, a correction, or general chat",
		"DATE_SPENDING wants a total (\"how much\", \"total\", \"what did I spend\"). LIST_EXPENSES wants details (\"list\", \"show\", \"what did I buy\", \"details\").",
		"",
		"Output Contract:",
		`{"query_type": "ITEM_PRICE" | "CATEGORY_SPENDING" | "DATE_SPENDING" | "LIST_EXPENSES" | "NOT_A_QUERY", "item_name": string or null, "category_hint": string or null, "start_date": "YYYY-MM-DD" or null, "end_date": "YYYY-MM-DD" or null}`,
		"",
		"Examples:",
		`"how much was milk?" -> {"query_type": "ITEM_PRICE", "item_name": "milk", "category_hint": null, "start_date": null, "end_date": null}`,
		`"how much did I spend on petrol last month?" -> {"query_type": "CATEGORY_SPENDING", "item_name": null, "category_hint": "petrol", "start_date": "` + h.lastMonthStart + `", "end_date": "` + h.lastMonthEnd + `"}`,
		`"how much yesterday?" -> {"query_type": "DATE_SPENDING", "item_name": null, "category_hint": null, "start_date": "` + h.yesterday + `", "end_date": "` + h.yesterday + `"}`,
		`"how much this week?" -> {"query_type": "DATE_SPENDING", "item_name": null, "category_hint": null, "start_date": "` + h.weekStart + `", "end_date": "` + h.today + `"}`,
		`"list today's expenses" -> {"query_type": "LIST_EXPENSES", "item_name": null, "category_hint": null, "start_date": "` + h.today + `", "end_date": "` + h.today + `"}`,
		`"spent $50 on lunch" -> {"query_type": "NOT_A_QUERY", "item_name": null, "category_hint": null, "start_date": null, "end_date": null}`,
		"",
		jsonOnlyRule(),
	}, "\n")
	return withUserMessage(system, text)
}

func buildCorrectionPrompt(text string, last domain.ExpenseContext, categories []string) []domain.ChatMessage {
	category := last.CategoryName
	if category == "" {
		category = "Uncategorized"
	}
	system := strings.Join([]string{
		"Role:",
		"You are an expense tracking assistant. The user just recorded an expense and sent a follow-up message.",
		"",
		"Last Expense:",
		fmt.Sprintf("- Amount: %s %s", last.Amount.StringFixed(2), last.Currency),
		"- Description: " + last.Description,
		"- Category: " + category,
		"",
		"Task:",
		"Decide whether the follow-up corrects or clarifies that expense: its category, its description, or its amount. Anything else is not a correction.",
		"",
		"Available Categories:",
		bulletList(categories),
		"",
		"Output Contract:",
		`{"is_correction": true | false, "correction_type": "category" | "description" | "amount" | "none", "new_category": exact category name from the list or null, "new_description": string or null, "new_amount": number or null}`,
		"",
		"Examples:",
		`"that was for petrol" -> {"is_correction": true, "correction_type": "category", "new_category": "Transportation", "new_description": "Petrol", "new_amount": null}`,
		`"it's from Shell" -> {"is_correction": true, "correction_type": "description", "new_category": null, "new_description": "Petrol from Shell", "new_amount": null}`,
		`"actually it was 200" -> {"is_correction": true, "correction_type": "amount", "new_category": null, "new_description": null, "new_amount": 200}`,
		`"thanks" -> {"is_correction": false, "correction_type": "none", "new_category": null, "new_description": null, "new_amount": null}`,
		"",
		jsonOnlyRule(),
	}, "\n")
	return withUserMessage(system, text)
}

func buildReceiptPrompt() string {
	return strings.Join([]string{
		"You are a receipt parsing assistant. Analyze this receipt image and extract ALL information.",
		"",
		"Return a JSON object with:",
		"- line_items: array of every item on the receipt, each with name (string), quantity (number, default 1), unit_price (number), total_price (number)",
		"- expenses: array containing ONE expense for the receipt total, with amount, currency (three-letter code), description, category (one of: " + categoryChoices() + ")",
		"- store_name: string or null",
		"- date: receipt date as YYYY-MM-DD or null",
		"- total: number, the total printed on the receipt",
		"",
		"Extract every visible line item, not just the total.",
		`If the image is not a receipt, return: {"error": "Could not parse receipt"}`,
		"",
		jsonOnlyRule(),
	}, "\n")
}

func buildDocumentPrompt() string {
	return strings.Join([]string{
		"Analyze this image for any expense or purchase information: receipts, invoices, bank or card statements, payment confirmations, shopping cart screenshots.",
		"",
		"Return a JSON object with:",
		"- expenses: array of {amount, currency, description, category, date}",
		"- store_name: merchant name if visible, else null",
		"- total: total amount if this is a receipt or invoice, else null",
		"- date: transaction date as YYYY-MM-DD or null",
		"",
		"Categories: " + categoryChoices(),
		`If no expense information is found, return: {"error": "No expense information found"}`,
		"",
		jsonOnlyRule(),
	}, "\n")
}

func buildCategorizePrompt(description string, categories []string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are an expense categorization assistant. Pick the most appropriate category for the expense.",
		"",
		"Available Categories:",
		bulletList(categories),
		"",
		"Use only a category name from the list, spelled exactly as listed.",
		`Return a JSON object: {"category": "<exact name>", "confidence": <0.0 to 1.0>}`,
		"",
		jsonOnlyRule(),
	}, "\n")
	return withUserMessage(system, "Expense description: "+description)
}

func buildBulkCategorizePrompt(descriptions, categories []string) []domain.ChatMessage {
	lines := make([]string, 0, len(descriptions))
	for i, d := range descriptions {
		lines = append(lines, fmt.Sprintf("%d. %s", i, strings.TrimSpace(d)))
	}
	system := strings.Join([]string{
		"You are an expense categorization assistant. Categorize several expenses at once.",
		"",
		"Available Categories:",
		bulletList(categories),
		"",
		"Return a JSON array with one object per expense:",
		`[{"index": <0-based expense index>, "category": "<exact name from the list>", "confidence": <0.0 to 1.0>}]`,
		"",
		jsonOnlyRule(),
	}, "\n")
	return withUserMessage(system, "Expenses to categorize:\n"+strings.Join(lines, "\n"))
}
