package handler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"expense-agent/internal/domain"
	"expense-agent/internal/usecase"
)

type outcomeResponse struct {
	Outcome    string          `json:"outcome"`
	Message    string          `json:"message"`
	Code       string          `json:"code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Expenses   []expenseView   `json:"expenses,omitempty"`
	Batch      *batchView      `json:"batch,omitempty"`
	Correction *correctionView `json:"correction,omitempty"`
	Answer     *answerView     `json:"answer,omitempty"`
}

type expenseView struct {
	ID          string         `json:"id,omitempty"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Date        string         `json:"date"`
	StoreName   string         `json:"storeName,omitempty"`
	LineItems   []lineItemView `json:"lineItems,omitempty"`
}

type lineItemView struct {
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
}

type batchView struct {
	ID            string         `json:"id"`
	StoreName     string         `json:"storeName,omitempty"`
	Expenses      []expenseView  `json:"expenses"`
	LineItems     []lineItemView `json:"lineItems,omitempty"`
	Total         string         `json:"total"`
	Sum           string         `json:"sum"`
	Currency      string         `json:"currency"`
	TotalMismatch bool           `json:"totalMismatch"`
}

type correctionView struct {
	ExpenseID   string   `json:"expenseId"`
	Changed     []string `json:"changed"`
	Amount      string   `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
}

type answerView struct {
	Type     string          `json:"type"`
	Start    string          `json:"start,omitempty"`
	End      string          `json:"end,omitempty"`
	Category string          `json:"category,omitempty"`
	Totals   []totalView     `json:"totals,omitempty"`
	Expenses []expenseView   `json:"expenses,omitempty"`
	Items    []itemPriceView `json:"items,omitempty"`
}

type totalView struct {
	Category string `json:"category"`
	Currency string `json:"currency"`
	Total    string `json:"total"`
	Count    int    `json:"count"`
}

type itemPriceView struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Currency string `json:"currency"`
	Date     string `json:"date"`
	Purchase string `json:"purchase,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func render(o usecase.Outcome) outcomeResponse {
	resp := outcomeResponse{
		Outcome:    string(o.Kind),
		Code:       string(o.Code),
		Reason:     o.Reason,
		Transcript: o.Transcript,
	}
	for _, r := range o.Recorded {
		resp.Expenses = append(resp.Expenses, recordedView(r))
	}
	if o.Batch != nil {
		resp.Batch = renderBatch(*o.Batch)
	}
	if o.Correction != nil {
		resp.Correction = renderCorrection(*o.Correction)
	}
	if o.Answer != nil {
		resp.Answer = renderAnswer(*o.Answer)
	}
	resp.Message = message(o, resp)
	return resp
}

func recordedView(r usecase.RecordedExpense) expenseView {
	v := parsedView(r.Expense)
	v.ID = r.ID
	if r.Category != nil {
		v.Category = r.Category.Name
	}
	if r.StoreName != nil {
		v.StoreName = *r.StoreName
	}
	v.LineItems = lineItemViews(r.LineItems)
	return v
}

func parsedView(e domain.ParsedExpense) expenseView {
	v := expenseView{
		Amount:      money(e.Amount),
		Currency:    e.Currency,
		Description: e.Description,
		Date:        domain.FormatDate(e.ExpenseDate),
	}
	if e.CategoryHint != nil {
		v.Category = *e.CategoryHint
	}
	return v
}

func lineItemViews(items []domain.ParsedLineItem) []lineItemView {
	var out []lineItemView
	for _, it := range items {
		out = append(out, lineItemView{
			Name:       it.Name,
			Quantity:   it.Quantity.String(),
			UnitPrice:  money(it.UnitPrice),
			TotalPrice: money(it.TotalPrice),
		})
	}
	return out
}

func renderBatch(b usecase.BatchSummary) *batchView {
	v := &batchView{
		ID:            b.ID,
		LineItems:     lineItemViews(b.LineItems),
		Total:         money(b.Total),
		Sum:           money(b.Sum),
		Currency:      b.Currency,
		TotalMismatch: b.TotalMismatch,
	}
	if b.StoreName != nil {
		v.StoreName = *b.StoreName
	}
	for _, e := range b.Expenses {
		v.Expenses = append(v.Expenses, parsedView(e))
	}
	return v
}

func renderCorrection(c usecase.CorrectionResult) *correctionView {
	return &correctionView{
		ExpenseID:   c.ExpenseID,
		Changed:     c.Changed,
		Amount:      money(c.After.Amount),
		Currency:    c.After.Currency,
		Description: c.After.Description,
		Category:    c.After.CategoryName,
	}
}

func renderAnswer(a usecase.QueryAnswer) *answerView {
	v := &answerView{Type: string(a.Query.Type)}
	if a.Start != nil {
		v.Start = domain.FormatDate(*a.Start)
	}
	if a.End != nil {
		v.End = domain.FormatDate(*a.End)
	}
	if a.Category != nil {
		v.Category = a.Category.Name
	}
	for _, t := range a.Totals {
		v.Totals = append(v.Totals, totalView{Category: t.CategoryName, Currency: t.Currency, Total: money(t.Total), Count: t.Count})
	}
	for _, e := range a.Expenses {
		ev := expenseView{
			ID:          e.ID,
			Amount:      money(e.Amount),
			Currency:    e.Currency,
			Description: e.Description,
			Date:        domain.FormatDate(e.ExpenseDate),
		}
		if e.CategoryName != nil {
			ev.Category = *e.CategoryName
		}
		v.Expenses = append(v.Expenses, ev)
	}
	for _, it := range a.Items {
		v.Items = append(v.Items, itemPriceView{
			Name:     it.Name,
			Price:    money(it.Price),
			Quantity: it.Quantity.String(),
			Currency: it.Currency,
			Date:     domain.FormatDate(it.Date),
			Purchase: it.Purchase,
		})
	}
	return v
}

// message is the plain-text reply shown to the user.
func message(o usecase.Outcome, resp outcomeResponse) string {
	switch o.Kind {
	case usecase.OutcomeExpenseRecorded, usecase.OutcomeBatchCommitted:
		lines := make([]string, 0, len(resp.Expenses))
		for _, e := range resp.Expenses {
			lines = append(lines, expenseLine(e))
		}
		return "Recorded:\n" + strings.Join(lines, "\n")
	case usecase.OutcomeBatchStaged:
		b := resp.Batch
		head := fmt.Sprintf("Found %d expenses", len(b.Expenses))
		if b.StoreName != "" {
			head += " at " + b.StoreName
		}
		lines := []string{head + ":"}
		for _, e := range b.Expenses {
			lines = append(lines, expenseLine(e))
		}
		lines = append(lines, fmt.Sprintf("Total: %s %s", b.Total, b.Currency))
		if b.TotalMismatch {
			lines = append(lines, fmt.Sprintf("Items add up to %s %s.", b.Sum, b.Currency))
		}
		lines = append(lines, "Confirm to save them all, or cancel.")
		return strings.Join(lines, "\n")
	case usecase.OutcomeCorrectionApplied:
		c := resp.Correction
		return fmt.Sprintf("Updated %s: %s %s, %s, %s", strings.Join(c.Changed, ", "), c.Amount, c.Currency, c.Description, orDash(c.Category))
	case usecase.OutcomeQueryAnswered:
		return answerMessage(resp.Answer)
	case usecase.OutcomeBatchCancelled:
		return "Cancelled. Nothing was saved."
	case usecase.OutcomeBatchUnavailable:
		return "This receipt has expired or was already handled."
	case usecase.OutcomeNoSpeech:
		return "I couldn't hear any speech in that message."
	case usecase.OutcomeUnrecognized:
		if o.Code == usecase.ErrorStaleReference {
			return "I couldn't find the expense you replied to."
		}
		return "I couldn't find an expense in that message."
	case usecase.OutcomeFailed:
		switch o.Code {
		case usecase.ErrorPayloadTooLarge:
			return "That file is too large to process."
		case usecase.ErrorServiceUnavailable:
			return "The assistant is unavailable right now. Please try again."
		default:
			return "Something went wrong while processing that message."
		}
	}
	return ""
}

func expenseLine(e expenseView) string {
	return fmt.Sprintf("%s %s %s (%s) %s", e.Amount, e.Currency, e.Description, orDash(e.Category), e.Date)
}

func answerMessage(a *answerView) string {
	period := ""
	switch {
	case a.Start != "" && a.End != "":
		period = fmt.Sprintf(" from %s to %s", a.Start, a.End)
	case a.End != "":
		period = " until " + a.End
	}
	switch domain.QueryType(a.Type) {
	case domain.QueryItemPrice:
		if len(a.Items) == 0 {
			return "No purchases of that item found."
		}
		lines := []string{"Recent prices:"}
		for _, it := range a.Items {
			line := fmt.Sprintf("%s: %s %s on %s", it.Name, it.Price, it.Currency, it.Date)
			if it.Purchase != "" {
				line += " (" + it.Purchase + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	case domain.QueryListExpenses:
		if len(a.Expenses) == 0 {
			return "No expenses" + period + "."
		}
		lines := []string{"Expenses" + period + ":"}
		for _, e := range a.Expenses {
			lines = append(lines, expenseLine(e))
		}
		return strings.Join(lines, "\n")
	default:
		if len(a.Totals) == 0 {
			return "No spending" + period + "."
		}
		lines := []string{"Spending" + period + ":"}
		for _, t := range a.Totals {
			lines = append(lines, fmt.Sprintf("%s: %s %s (%d)", t.Category, t.Total, t.Currency, t.Count))
		}
		return strings.Join(lines, "\n")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
