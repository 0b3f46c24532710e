package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"expense-agent/internal/domain"
	"expense-agent/internal/schema"
)

const (
	extractionTemperature = 0.1

	maxTokensExpense    = 500
	maxTokensQuery      = 300
	maxTokensCorrection = 200
	maxTokensCategorize = 100
	maxTokensBulk       = 500
	maxTokensReceipt    = 2000
	maxTokensDocument   = 1000

	defaultCompletionTimeout = 30 * time.Second
)

// Extractor runs the extraction intents against the completion service.
// Every call carries a timeout; transport failures become ServiceError
// results, never NotFound.
type Extractor struct {
	llm     Completer
	timeout time.Duration
	log     *zap.Logger
}

func NewExtractor(llm Completer, timeout time.Duration, log *zap.Logger) (*Extractor, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{llm: llm, timeout: timeout, log: log}, nil
}

func (x *Extractor) ParseExpense(ctx context.Context, text string, d schema.Defaults) schema.Result[domain.ParsedExpense] {
	raw, err := x.complete(ctx, buildExpensePrompt(text, d.Today), maxTokensExpense)
	if err != nil {
		return logResult(x.log, "expense_parse", schema.ServiceError[domain.ParsedExpense](err))
	}
	return logResult(x.log, "expense_parse", schema.ParseExpense(raw, d))
}

func (x *Extractor) ParseQuery(ctx context.Context, text string, today time.Time) schema.Result[domain.ParsedQuery] {
	raw, err := x.complete(ctx, buildQueryPrompt(text, today), maxTokensQuery)
	if err != nil {
		return logResult(x.log, "query_parse", schema.ServiceError[domain.ParsedQuery](err))
	}
	return logResult(x.log, "query_parse", schema.ParseQuery(raw))
}

func (x *Extractor) UnderstandCorrection(ctx context.Context, text string, last domain.ExpenseContext, categories []domain.Category) schema.Result[domain.ExpenseCorrection] {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	raw, err := x.complete(ctx, buildCorrectionPrompt(text, last, names), maxTokensCorrection)
	if err != nil {
		return logResult(x.log, "correction_understand", schema.ServiceError[domain.ExpenseCorrection](err))
	}
	return logResult(x.log, "correction_understand", schema.ParseCorrection(raw))
}

func (x *Extractor) ParseReceipt(ctx context.Context, image []byte, mime string, d schema.Defaults) schema.Result[domain.ParsedReceipt] {
	raw, err := x.completeImage(ctx, buildReceiptPrompt(), image, mime, maxTokensReceipt)
	if err != nil {
		return logResult(x.log, "receipt_parse", schema.ServiceError[domain.ParsedReceipt](err))
	}
	return logResult(x.log, "receipt_parse", schema.ParseReceipt(raw, d))
}

// ParseDocument is the looser variant used for statements and screenshots
// when receipt extraction finds nothing.
func (x *Extractor) ParseDocument(ctx context.Context, image []byte, mime string, d schema.Defaults) schema.Result[domain.ParsedReceipt] {
	raw, err := x.completeImage(ctx, buildDocumentPrompt(), image, mime, maxTokensDocument)
	if err != nil {
		return logResult(x.log, "document_parse", schema.ServiceError[domain.ParsedReceipt](err))
	}
	return logResult(x.log, "document_parse", schema.ParseReceipt(raw, d))
}

func (x *Extractor) complete(ctx context.Context, msgs []domain.ChatMessage, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.llm.Complete(ctx, msgs, domain.CompletionOptions{Temperature: extractionTemperature, MaxTokens: maxTokens})
}

func (x *Extractor) completeImage(ctx context.Context, prompt string, image []byte, mime string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.llm.CompleteWithImage(ctx, prompt, image, mime, domain.CompletionOptions{Temperature: extractionTemperature, MaxTokens: maxTokens})
}

func logResult[T any](log *zap.Logger, intent string, r schema.Result[T]) schema.Result[T] {
	switch r.Status {
	case schema.StatusNotFound:
		log.Debug("extraction empty", zap.String("intent", intent))
	case schema.StatusMalformed:
		log.Warn("malformed completion response", zap.String("intent", intent), zap.Error(r.Err))
	case schema.StatusServiceError:
		log.Warn("completion service failed", zap.String("intent", intent), zap.String("reason", serviceReason(r.Err)), zap.Error(r.Err))
	}
	return r
}
