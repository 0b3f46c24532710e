package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"expense-agent/internal/domain"
)

// OutcomeKind is what happened to an inbound message.
type OutcomeKind string

const (
	OutcomeExpenseRecorded   OutcomeKind = "expense_recorded"
	OutcomeQueryAnswered     OutcomeKind = "query_answered"
	OutcomeCorrectionApplied OutcomeKind = "correction_applied"
	OutcomeBatchStaged       OutcomeKind = "batch_staged"
	OutcomeBatchCommitted    OutcomeKind = "batch_committed"
	OutcomeBatchCancelled    OutcomeKind = "batch_cancelled"
	OutcomeBatchUnavailable  OutcomeKind = "batch_unavailable"
	OutcomeUnrecognized      OutcomeKind = "unrecognized"
	OutcomeNoSpeech          OutcomeKind = "no_speech"
	OutcomeFailed            OutcomeKind = "failed"
)

// Outcome is the typed result of processing one message or batch action.
// Exactly one of the detail fields is set, matching Kind.
type Outcome struct {
	Kind OutcomeKind
	// Code is set for failed and some unrecognized outcomes.
	Code   ErrorCode
	Reason string
	// Transcript holds recognized speech for voice and video input.
	Transcript string

	Recorded   []RecordedExpense
	Batch      *BatchSummary
	Correction *CorrectionResult
	Answer     *QueryAnswer
}

// RecordedExpense is one persisted expense.
type RecordedExpense struct {
	ID        string
	Expense   domain.ParsedExpense
	Category  *domain.Category
	LineItems []domain.ParsedLineItem
	StoreName *string
}

// BatchSummary describes a staged receipt awaiting confirmation.
type BatchSummary struct {
	ID        string
	Expenses  []domain.ParsedExpense
	LineItems []domain.ParsedLineItem
	StoreName *string
	// Total is the receipt total when one was extracted, else the sum of
	// the expenses.
	Total         decimal.Decimal
	Sum           decimal.Decimal
	Currency      string
	TotalMismatch bool
}

// CorrectionResult is an applied edit of a previously recorded expense.
type CorrectionResult struct {
	ExpenseID string
	Before    domain.ExpenseContext
	After     domain.ExpenseContext
	Changed   []string
}

// QueryAnswer carries the data behind an analytical answer.
type QueryAnswer struct {
	Query    domain.ParsedQuery
	Start    *time.Time
	End      *time.Time
	Category *domain.Category
	Totals   []domain.CategoryTotal
	Expenses []domain.Expense
	Items    []domain.ItemPrice
}

func failed(code ErrorCode, reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Code: code, Reason: reason}
}

func unrecognized(code ErrorCode, reason string) Outcome {
	return Outcome{Kind: OutcomeUnrecognized, Code: code, Reason: reason}
}
