package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"expense-agent/internal/domain"
)

const batchIDLength = 8

// ReceiptInput is a receipt extraction ready for reconciliation.
type ReceiptInput struct {
	ConversationKey string
	Scope           domain.Scope
	Receipt         domain.ParsedReceipt
	Source          domain.SourceType
}

// Reconciler commits single-expense receipts directly and stages
// multi-expense receipts until the user confirms them.
type Reconciler struct {
	store    ExpenseStore
	batches  BatchStore
	contexts ContextStore
	resolver *CategoryResolver
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewReconciler(store ExpenseStore, batches BatchStore, contexts ContextStore, resolver *CategoryResolver, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		batches:  batches,
		contexts: contexts,
		resolver: resolver,
		log:      log,
		now:      time.Now,
		newID:    newBatchID,
	}
}

func newBatchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:batchIDLength]
}

// Reconcile never persists more than one expense without confirmation.
func (r *Reconciler) Reconcile(ctx context.Context, in ReceiptInput) (Outcome, error) {
	switch len(in.Receipt.Expenses) {
	case 0:
		return unrecognized(ErrorExtractionEmpty, "empty_receipt"), nil
	case 1:
		return r.commitSingle(ctx, in)
	}

	b := domain.PendingReceiptBatch{
		ID:              r.newID(),
		ConversationKey: in.ConversationKey,
		Scope:           in.Scope,
		Expenses:        in.Receipt.Expenses,
		LineItems:       in.Receipt.LineItems,
		StoreName:       in.Receipt.StoreName,
		Total:           in.Receipt.Total,
		SourceType:      in.Source,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.batches.PutBatch(ctx, b); err != nil {
		return Outcome{}, newError(ErrorInternal, "stage_batch_failed", err)
	}
	r.log.Info("receipt batch staged",
		zap.String("batch_id", b.ID),
		zap.Int("expenses", len(b.Expenses)),
	)
	summary := summarize(b)
	return Outcome{Kind: OutcomeBatchStaged, Batch: &summary}, nil
}

func (r *Reconciler) commitSingle(ctx context.Context, in ReceiptInput) (Outcome, error) {
	e := in.Receipt.Expenses[0]
	categories, err := r.store.GetCategories(ctx, in.Scope.UserID)
	if err != nil {
		return Outcome{}, newError(ErrorInternal, "categories_failed", err)
	}
	res := r.resolver.Resolve(ctx, e.CategoryHint, e.Description, categories)

	ids, err := r.store.CreateExpenseBatch(ctx, []domain.NewExpense{newExpense(in.Scope, e, res.Category, in.Source)}, in.Receipt.LineItems)
	if err != nil {
		return Outcome{}, newError(ErrorInternal, "persist_failed", err)
	}
	if err := r.checkIDs("", ids, 1); err != nil {
		return Outcome{}, err
	}
	r.remember(ctx, in.ConversationKey, expenseContext(ids[0], e, res.Category))

	return Outcome{
		Kind: OutcomeExpenseRecorded,
		Recorded: []RecordedExpense{{
			ID:        ids[0],
			Expense:   e,
			Category:  res.Category,
			LineItems: in.Receipt.LineItems,
			StoreName: in.Receipt.StoreName,
		}},
	}, nil
}

// Confirm persists a staged batch. A batch can be confirmed once; later
// attempts, and attempts after expiry or cancel, report batch_unavailable.
func (r *Reconciler) Confirm(ctx context.Context, conversationKey, batchID string) (Outcome, error) {
	b, err := r.batches.TakeBatch(ctx, batchID, conversationKey)
	if err != nil {
		return Outcome{}, newError(ErrorInternal, "take_batch_failed", err)
	}
	if b == nil {
		return Outcome{Kind: OutcomeBatchUnavailable, Code: ErrorStaleReference, Reason: "batch_not_found"}, nil
	}

	categories, err := r.store.GetCategories(ctx, b.Scope.UserID)
	if err != nil {
		r.restore(ctx, *b)
		return Outcome{}, newError(ErrorInternal, "categories_failed", err)
	}
	resolved := r.categorizeBatch(ctx, b.Expenses, categories)

	news := make([]domain.NewExpense, len(b.Expenses))
	for i, e := range b.Expenses {
		news[i] = newExpense(b.Scope, e, resolved[i], b.SourceType)
	}
	ids, err := r.store.CreateExpenseBatch(ctx, news, b.LineItems)
	if err != nil {
		r.restore(ctx, *b)
		return Outcome{}, newError(ErrorInternal, "persist_failed", err)
	}
	if err := r.checkIDs(b.ID, ids, len(b.Expenses)); err != nil {
		return Outcome{}, err
	}
	r.remember(ctx, conversationKey, expenseContext(ids[0], b.Expenses[0], resolved[0]))

	recorded := make([]RecordedExpense, len(ids))
	for i, id := range ids {
		recorded[i] = RecordedExpense{ID: id, Expense: b.Expenses[i], Category: resolved[i], StoreName: b.StoreName}
	}
	recorded[0].LineItems = b.LineItems
	r.log.Info("receipt batch committed", zap.String("batch_id", b.ID), zap.Int("expenses", len(ids)))
	return Outcome{Kind: OutcomeBatchCommitted, Recorded: recorded}, nil
}

// checkIDs guards against a store that committed but returned the wrong
// number of ids. The rows already exist, so the batch is not restored; the
// ids are logged for manual reconciliation.
func (r *Reconciler) checkIDs(batchID string, ids []string, want int) error {
	if len(ids) == want {
		return nil
	}
	r.log.Error("expense store returned an unexpected number of ids",
		zap.String("batch_id", batchID),
		zap.Strings("ids", ids),
		zap.Int("expected", want),
	)
	return newError(ErrorInternal, "persist_id_mismatch", fmt.Errorf("got %d ids for %d expenses", len(ids), want))
}

// Cancel drops a staged batch.
func (r *Reconciler) Cancel(ctx context.Context, conversationKey, batchID string) (Outcome, error) {
	ok, err := r.batches.DeleteBatch(ctx, batchID, conversationKey)
	if err != nil {
		return Outcome{}, newError(ErrorInternal, "delete_batch_failed", err)
	}
	if !ok {
		return Outcome{Kind: OutcomeBatchUnavailable, Code: ErrorStaleReference, Reason: "batch_not_found"}, nil
	}
	return Outcome{Kind: OutcomeBatchCancelled}, nil
}

// categorizeBatch prefers exact hint matches and categorizes the rest with
// one bulk call. Anything still unresolved falls back to "Other" when the
// user has it.
func (r *Reconciler) categorizeBatch(ctx context.Context, expenses []domain.ParsedExpense, categories []domain.Category) []*domain.Category {
	idx := newCategoryIndex(categories)
	out := make([]*domain.Category, len(expenses))

	var pending []int
	var descriptions []string
	for i, e := range expenses {
		if e.CategoryHint != nil {
			if c, ok := idx.lookup(*e.CategoryHint); ok {
				out[i] = &c
				continue
			}
		}
		pending = append(pending, i)
		descriptions = append(descriptions, describeForCategorization(e))
	}
	if len(pending) == 0 {
		return out
	}

	bulk := r.resolver.ResolveBulk(ctx, descriptions, categories)
	fallback := idx.fallback()
	for j, i := range pending {
		switch {
		case bulk[j].Category != nil:
			out[i] = bulk[j].Category
		case fallback.Category != nil:
			c := *fallback.Category
			out[i] = &c
		}
	}
	return out
}

func describeForCategorization(e domain.ParsedExpense) string {
	if e.CategoryHint != nil && strings.TrimSpace(*e.CategoryHint) != "" {
		return e.Description + " (" + strings.TrimSpace(*e.CategoryHint) + ")"
	}
	return e.Description
}

// restore puts a taken batch back so the user can retry a failed confirm.
func (r *Reconciler) restore(ctx context.Context, b domain.PendingReceiptBatch) {
	if err := r.batches.PutBatch(ctx, b); err != nil {
		r.log.Warn("failed to restore receipt batch", zap.String("batch_id", b.ID), zap.Error(err))
	}
}

func (r *Reconciler) remember(ctx context.Context, key string, c domain.ExpenseContext) {
	rememberContext(ctx, r.contexts, r.log, key, c)
}

// rememberContext stores c for key. Failures are logged only; the expense
// itself is already persisted.
func rememberContext(ctx context.Context, store ContextStore, log *zap.Logger, key string, c domain.ExpenseContext) {
	if err := store.PutContext(ctx, key, c); err != nil {
		log.Warn("failed to store expense context", zap.String("expense_id", c.ExpenseID), zap.Error(err))
	}
}

func summarize(b domain.PendingReceiptBatch) BatchSummary {
	receipt := domain.ParsedReceipt{Expenses: b.Expenses, StoreName: b.StoreName, Total: b.Total, LineItems: b.LineItems}
	sum := receipt.Sum()
	s := BatchSummary{
		ID:        b.ID,
		Expenses:  b.Expenses,
		LineItems: b.LineItems,
		StoreName: b.StoreName,
		Total:     sum,
		Sum:       sum,
	}
	if len(b.Expenses) > 0 {
		s.Currency = b.Expenses[0].Currency
	}
	if b.Total != nil {
		s.Total = *b.Total
		s.TotalMismatch = !b.Total.Equal(sum)
	}
	return s
}

func newExpense(scope domain.Scope, e domain.ParsedExpense, c *domain.Category, source domain.SourceType) domain.NewExpense {
	n := domain.NewExpense{
		Scope:       scope,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Description: e.Description,
		SourceType:  source,
		RawInput:    e.RawInput,
		ExpenseDate: e.ExpenseDate,
	}
	if c != nil {
		id := c.ID
		n.CategoryID = &id
	}
	return n
}

func expenseContext(id string, e domain.ParsedExpense, c *domain.Category) domain.ExpenseContext {
	ec := domain.ExpenseContext{
		ExpenseID:   id,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Description: e.Description,
	}
	if c != nil {
		catID := c.ID
		ec.CategoryID = &catID
		ec.CategoryName = c.Name
	}
	return ec
}
