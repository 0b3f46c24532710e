package usecase

import (
	"context"

	"expense-agent/internal/domain"
	"expense-agent/internal/media"
)

// Completer is the completion-service contract.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.CompletionOptions) (string, error)
	CompleteWithImage(ctx context.Context, prompt string, image []byte, mime string, opts domain.CompletionOptions) (string, error)
}

// ContextStore keeps the last expense per conversation key.
type ContextStore interface {
	PutContext(ctx context.Context, key string, c domain.ExpenseContext) error
	// GetContext returns nil without error when nothing is stored.
	GetContext(ctx context.Context, key string) (*domain.ExpenseContext, error)
}

// BatchStore holds receipt batches awaiting confirmation.
type BatchStore interface {
	PutBatch(ctx context.Context, b domain.PendingReceiptBatch) error
	// TakeBatch removes and returns the batch if it exists, is unexpired and
	// belongs to conversationKey. It returns nil otherwise. A batch can be
	// taken at most once.
	TakeBatch(ctx context.Context, id, conversationKey string) (*domain.PendingReceiptBatch, error)
	// DeleteBatch reports whether a live batch was removed.
	DeleteBatch(ctx context.Context, id, conversationKey string) (bool, error)
}

// ExpenseStore is the persistence collaborator.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e domain.NewExpense) (string, error)
	// CreateExpenseBatch persists all expenses atomically and attaches
	// items to the first one.
	CreateExpenseBatch(ctx context.Context, es []domain.NewExpense, items []domain.ParsedLineItem) ([]string, error)
	UpdateExpense(ctx context.Context, id string, u domain.ExpenseUpdate) error
	// GetExpense returns nil without error when id does not exist.
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	GetCategories(ctx context.Context, userID string) ([]domain.Category, error)
	TotalsByCategory(ctx context.Context, f domain.ExpenseFilter) ([]domain.CategoryTotal, error)
	ListExpenses(ctx context.Context, f domain.ExpenseFilter) ([]domain.Expense, error)
	FindItemPrices(ctx context.Context, f domain.ExpenseFilter) ([]domain.ItemPrice, error)
}

// Normalizer reduces non-text modalities to text or an image.
type Normalizer interface {
	Normalize(ctx context.Context, kind media.Kind, data []byte, mime string) (media.Payload, error)
	VideoFrame(ctx context.Context, video []byte, mime string) (media.Payload, error)
}
