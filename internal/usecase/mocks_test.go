package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"expense-agent/internal/domain"
	"expense-agent/internal/media"
)

const (
	intentExpense    = "expense"
	intentQuery      = "query"
	intentCorrection = "correction"
	intentCategorize = "categorize"
	intentBulk       = "bulk"
	intentReceipt    = "receipt"
	intentDocument   = "document"
)

type llmResponse struct {
	answer string
	err    error
}

// mockLLM answers by intent, recognized from the system prompt.
type mockLLM struct {
	mu        sync.Mutex
	responses map[string]llmResponse
	calls     map[string]int
	lastOpts  map[string]domain.CompletionOptions
	lastUser  map[string]string
}

func newMockLLM(responses map[string]llmResponse) *mockLLM {
	return &mockLLM{
		responses: responses,
		calls:     map[string]int{},
		lastOpts:  map[string]domain.CompletionOptions{},
		lastUser:  map[string]string{},
	}
}

func intentOf(prompt string) string {
	switch {
	case strings.Contains(prompt, "expense parsing assistant"):
		return intentExpense
	case strings.Contains(prompt, "question about their past expenses"):
		return intentQuery
	case strings.Contains(prompt, "sent a follow-up message"):
		return intentCorrection
	case strings.Contains(prompt, "Categorize several expenses"):
		return intentBulk
	case strings.Contains(prompt, "Pick the most appropriate category"):
		return intentCategorize
	case strings.Contains(prompt, "receipt parsing assistant"):
		return intentReceipt
	case strings.Contains(prompt, "any expense or purchase information"):
		return intentDocument
	}
	return "unknown"
}

func (m *mockLLM) respond(intent, user string, opts domain.CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[intent]++
	m.lastOpts[intent] = opts
	m.lastUser[intent] = user
	r, ok := m.responses[intent]
	if !ok {
		return "", errors.New("no llm response configured for " + intent)
	}
	return r.answer, r.err
}

func (m *mockLLM) Complete(_ context.Context, msgs []domain.ChatMessage, opts domain.CompletionOptions) (string, error) {
	var system, user string
	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleSystem:
			system = msg.Content
		case domain.RoleUser:
			user = msg.Content
		}
	}
	return m.respond(intentOf(system), user, opts)
}

func (m *mockLLM) CompleteWithImage(_ context.Context, prompt string, _ []byte, _ string, opts domain.CompletionOptions) (string, error) {
	return m.respond(intentOf(prompt), "", opts)
}

func (m *mockLLM) count(intent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[intent]
}

// ----------------------------------------------------------------------------

type updateCall struct {
	id     string
	update domain.ExpenseUpdate
}

type mockExpenses struct {
	mu         sync.Mutex
	categories []domain.Category
	records    map[string]domain.Expense
	created    []domain.NewExpense
	lineItems  map[string][]domain.ParsedLineItem
	updates    []updateCall
	filters    []domain.ExpenseFilter
	totals     []domain.CategoryTotal
	listed     []domain.Expense
	items      []domain.ItemPrice
	nextID     int

	createErr error
	// dropIDs trims the ids returned from a successful create.
	dropIDs   int
	updateErr error
	getErr    error
	catErr    error
}

func newMockExpenses() *mockExpenses {
	return &mockExpenses{
		categories: testCategories(),
		records:    map[string]domain.Expense{},
		lineItems:  map[string][]domain.ParsedLineItem{},
	}
}

func testCategories() []domain.Category {
	out := make([]domain.Category, 0, len(domain.DefaultCategories))
	for i, c := range domain.DefaultCategories {
		out = append(out, domain.Category{ID: "cat-" + string(rune('a'+i)), Name: c.Name, Icon: c.Icon})
	}
	return out
}

func (m *mockExpenses) categoryByID(id *string) *string {
	if id == nil {
		return nil
	}
	for _, c := range m.categories {
		if c.ID == *id {
			name := c.Name
			return &name
		}
	}
	return nil
}

func (m *mockExpenses) CreateExpense(ctx context.Context, e domain.NewExpense) (string, error) {
	ids, err := m.CreateExpenseBatch(ctx, []domain.NewExpense{e}, nil)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *mockExpenses) CreateExpenseBatch(_ context.Context, es []domain.NewExpense, items []domain.ParsedLineItem) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	ids := make([]string, 0, len(es))
	for _, e := range es {
		m.nextID++
		id := "exp-" + strconv.Itoa(m.nextID)
		m.created = append(m.created, e)
		m.records[id] = domain.Expense{
			ID:           id,
			UserID:       e.UserID,
			GroupScope:   e.GroupScope,
			Amount:       e.Amount,
			Currency:     e.Currency,
			Description:  e.Description,
			CategoryID:   e.CategoryID,
			CategoryName: m.categoryByID(e.CategoryID),
			SourceType:   e.SourceType,
			RawInput:     e.RawInput,
			ExpenseDate:  e.ExpenseDate,
			CreatedAt:    time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
		}
		ids = append(ids, id)
	}
	if len(items) > 0 && len(ids) > 0 {
		m.lineItems[ids[0]] = items
	}
	if m.dropIDs > 0 && m.dropIDs <= len(ids) {
		ids = ids[:len(ids)-m.dropIDs]
	}
	return ids, nil
}

func (m *mockExpenses) UpdateExpense(_ context.Context, id string, u domain.ExpenseUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates = append(m.updates, updateCall{id: id, update: u})
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	if u.Amount != nil {
		rec.Amount = *u.Amount
	}
	if u.Description != nil {
		rec.Description = *u.Description
	}
	if u.CategoryID != nil {
		rec.CategoryID = u.CategoryID
		rec.CategoryName = m.categoryByID(u.CategoryID)
	}
	m.records[id] = rec
	return nil
}

func (m *mockExpenses) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockExpenses) GetCategories(_ context.Context, _ string) ([]domain.Category, error) {
	if m.catErr != nil {
		return nil, m.catErr
	}
	return m.categories, nil
}

func (m *mockExpenses) TotalsByCategory(_ context.Context, f domain.ExpenseFilter) ([]domain.CategoryTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return m.totals, nil
}

func (m *mockExpenses) ListExpenses(_ context.Context, f domain.ExpenseFilter) ([]domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return m.listed, nil
}

func (m *mockExpenses) FindItemPrices(_ context.Context, f domain.ExpenseFilter) ([]domain.ItemPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return m.items, nil
}

// ----------------------------------------------------------------------------

type mockContexts struct {
	mu     sync.Mutex
	values map[string]domain.ExpenseContext
	putErr error
	getErr error
}

func newMockContexts() *mockContexts {
	return &mockContexts{values: map[string]domain.ExpenseContext{}}
}

func (m *mockContexts) PutContext(_ context.Context, key string, c domain.ExpenseContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.values[key] = c
	return nil
}

func (m *mockContexts) GetContext(_ context.Context, key string) (*domain.ExpenseContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type mockBatches struct {
	mu      sync.Mutex
	batches map[string]domain.PendingReceiptBatch
	puts    int
	putErr  error
}

func newMockBatches() *mockBatches {
	return &mockBatches{batches: map[string]domain.PendingReceiptBatch{}}
}

func (m *mockBatches) PutBatch(_ context.Context, b domain.PendingReceiptBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.batches[b.ID] = b
	return nil
}

func (m *mockBatches) TakeBatch(_ context.Context, id, key string) (*domain.PendingReceiptBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.ConversationKey != key {
		return nil, nil
	}
	delete(m.batches, id)
	return &b, nil
}

func (m *mockBatches) DeleteBatch(_ context.Context, id, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.ConversationKey != key {
		return false, nil
	}
	delete(m.batches, id)
	return true, nil
}

// ----------------------------------------------------------------------------

type mockNormalizer struct {
	payload    media.Payload
	err        error
	frame      media.Payload
	frameErr   error
	frameCalls int
}

func (m *mockNormalizer) Normalize(_ context.Context, _ media.Kind, _ []byte, _ string) (media.Payload, error) {
	return m.payload, m.err
}

func (m *mockNormalizer) VideoFrame(_ context.Context, _ []byte, _ string) (media.Payload, error) {
	m.frameCalls++
	return m.frame, m.frameErr
}

func day(s string) time.Time {
	t, ok := domain.ParseDate(s)
	if !ok {
		panic("bad test date " + s)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string {
	return &s
}
