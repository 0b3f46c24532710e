package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"expense-agent/internal/domain"
	"expense-agent/internal/media"
	"expense-agent/internal/schema"
)

const defaultCurrency = "USD"

// MessageInput is one inbound message.
type MessageInput struct {
	// ConversationKey scopes context and batches: a private chat or a group.
	ConversationKey string
	UserID          string
	GroupScope      *int64
	Kind            media.Kind
	// Text is the message text, or the caption of a media message.
	Text     string
	Media    []byte
	MIME     string
	FileName string
	// ReplyToExpenseID is set when the message replies to the confirmation
	// of a recorded expense.
	ReplyToExpenseID string
	Today            time.Time
	DefaultCurrency  string
}

func (in MessageInput) scope() domain.Scope {
	return domain.Scope{UserID: in.UserID, GroupScope: in.GroupScope}
}

// Dependencies wires a Pipeline.
type Dependencies struct {
	Completer         Completer
	Expenses          ExpenseStore
	Contexts          ContextStore
	Batches           BatchStore
	Normalizer        Normalizer
	Logger            *zap.Logger
	CompletionTimeout time.Duration
	DefaultCurrency   string
}

// Pipeline turns inbound messages into expenses, answers and corrections.
type Pipeline struct {
	extractor  *Extractor
	classifier *QueryClassifier
	resolver   *CategoryResolver
	answerer   *Answerer
	reconciler *Reconciler
	normalizer Normalizer
	expenses   ExpenseStore
	contexts   ContextStore
	locks      *keyLock
	log        *zap.Logger
	currency   string
	now        func() time.Time
}

func NewPipeline(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Expenses == nil:
		return nil, errors.New("usecase: expense store must not be nil")
	case deps.Contexts == nil:
		return nil, errors.New("usecase: context store must not be nil")
	case deps.Batches == nil:
		return nil, errors.New("usecase: batch store must not be nil")
	case deps.Normalizer == nil:
		return nil, errors.New("usecase: normalizer must not be nil")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	x, err := NewExtractor(deps.Completer, deps.CompletionTimeout, log)
	if err != nil {
		return nil, err
	}
	currency, ok := domain.NormalizeCurrency(deps.DefaultCurrency)
	if !ok {
		currency = defaultCurrency
	}

	resolver := NewCategoryResolver(x)
	return &Pipeline{
		extractor:  x,
		classifier: NewQueryClassifier(x),
		resolver:   resolver,
		answerer:   NewAnswerer(deps.Expenses, resolver),
		reconciler: NewReconciler(deps.Expenses, deps.Batches, deps.Contexts, resolver, log),
		normalizer: deps.Normalizer,
		expenses:   deps.Expenses,
		contexts:   deps.Contexts,
		locks:      newKeyLock(),
		log:        log,
		currency:   currency,
		now:        time.Now,
	}, nil
}

// HandleMessage processes one message. Extraction and media failures are
// reported as failed or unrecognized outcomes; the error return is reserved
// for invalid input and persistence failures.
func (p *Pipeline) HandleMessage(ctx context.Context, in MessageInput) (Outcome, error) {
	if strings.TrimSpace(in.ConversationKey) == "" || strings.TrimSpace(in.UserID) == "" {
		return Outcome{}, newError(ErrorInvalidInput, "conversation_and_user_required", nil)
	}
	if in.Today.IsZero() {
		in.Today = p.now()
	}
	in.Today = domain.DateOf(in.Today)
	if c, ok := domain.NormalizeCurrency(in.DefaultCurrency); ok {
		in.DefaultCurrency = c
	} else {
		in.DefaultCurrency = p.currency
	}

	log := p.log.With(zap.String("conversation", in.ConversationKey), zap.String("kind", string(in.Kind)))
	switch in.Kind {
	case "", media.KindText:
		return p.handleText(ctx, in, in.Text, domain.SourceText)
	case media.KindVoice, media.KindAudio:
		payload, err := p.normalizer.Normalize(ctx, in.Kind, in.Media, in.MIME)
		if err != nil {
			return p.mediaFailure(log, err), nil
		}
		out, err := p.handleText(ctx, in, payload.Text, domain.SourceVoice)
		out.Transcript = payload.Text
		return out, err
	case media.KindVideo:
		return p.handleVideo(ctx, log, in)
	case media.KindPhoto:
		payload, err := p.normalizer.Normalize(ctx, in.Kind, in.Media, in.MIME)
		if err != nil {
			return p.mediaFailure(log, err), nil
		}
		return p.handleReceipt(ctx, in, payload, domain.SourceImage)
	case media.KindDocument:
		payload, err := p.normalizer.Normalize(ctx, in.Kind, in.Media, in.MIME)
		if err != nil {
			return p.mediaFailure(log, err), nil
		}
		return p.handleReceipt(ctx, in, payload, domain.SourceDocument)
	default:
		return Outcome{}, newError(ErrorInvalidInput, "unsupported_kind", fmt.Errorf("kind %q", in.Kind))
	}
}

// ConfirmBatch commits a staged receipt batch.
func (p *Pipeline) ConfirmBatch(ctx context.Context, conversationKey, batchID string) (Outcome, error) {
	if strings.TrimSpace(batchID) == "" {
		return Outcome{}, newError(ErrorInvalidInput, "batch_id_required", nil)
	}
	return p.reconciler.Confirm(ctx, conversationKey, batchID)
}

// CancelBatch discards a staged receipt batch.
func (p *Pipeline) CancelBatch(ctx context.Context, conversationKey, batchID string) (Outcome, error) {
	if strings.TrimSpace(batchID) == "" {
		return Outcome{}, newError(ErrorInvalidInput, "batch_id_required", nil)
	}
	return p.reconciler.Cancel(ctx, conversationKey, batchID)
}

// handleText runs query detection, then expense extraction, then
// correction of the last expense. The order matters: a question must never
// be recorded as an expense.
func (p *Pipeline) handleText(ctx context.Context, in MessageInput, text string, source domain.SourceType) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return unrecognized(ErrorExtractionEmpty, "empty_text"), nil
	}

	q, err := p.classifier.Classify(ctx, text, in.Today)
	if err != nil {
		var uerr *Error
		if errors.As(err, &uerr) && uerr.Code == ErrorServiceUnavailable {
			return failed(uerr.Code, uerr.Reason), nil
		}
		return Outcome{}, err
	}
	if q.Type != domain.QueryNotAQuery {
		ans, err := p.answerer.Answer(ctx, in.scope(), q, in.Today)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeQueryAnswered, Answer: &ans}, nil
	}

	parsed := p.extractor.ParseExpense(ctx, text, schema.Defaults{
		Today:    in.Today,
		Currency: in.DefaultCurrency,
		RawInput: text,
	})
	switch parsed.Status {
	case schema.StatusFound:
		return p.reconciler.Reconcile(ctx, ReceiptInput{
			ConversationKey: in.ConversationKey,
			Scope:           in.scope(),
			Receipt:         domain.ParsedReceipt{Expenses: []domain.ParsedExpense{parsed.Value}},
			Source:          source,
		})
	case schema.StatusServiceError:
		return failed(ErrorServiceUnavailable, serviceReason(parsed.Err)), nil
	}

	out, handled, err := p.correct(ctx, in, text)
	if err != nil || handled {
		return out, err
	}
	if parsed.Status == schema.StatusMalformed {
		return failed(ErrorMalformedResponse, "expense_parse"), nil
	}
	return out, nil
}

// correct interprets text as an edit of the conversation's last expense.
// handled is false when there is nothing to correct; out then carries the
// unrecognized outcome to report.
func (p *Pipeline) correct(ctx context.Context, in MessageInput, text string) (out Outcome, handled bool, err error) {
	unlock := p.locks.Lock(in.ConversationKey)
	defer unlock()

	last, stale := p.lastExpense(ctx, in)
	if last == nil {
		if stale {
			return unrecognized(ErrorStaleReference, "reply_reference_unresolvable"), true, nil
		}
		return unrecognized(ErrorExtractionEmpty, "no_expense_found"), false, nil
	}

	categories, err := p.expenses.GetCategories(ctx, in.UserID)
	if err != nil {
		return Outcome{}, true, newError(ErrorInternal, "categories_failed", err)
	}
	res := p.extractor.UnderstandCorrection(ctx, text, *last, categories)
	switch res.Status {
	case schema.StatusServiceError:
		return failed(ErrorServiceUnavailable, serviceReason(res.Err)), true, nil
	case schema.StatusMalformed:
		return failed(ErrorMalformedResponse, "correction_understand"), true, nil
	case schema.StatusNotFound:
		return unrecognized(ErrorAmbiguousCorrection, "not_a_correction"), true, nil
	}
	if !res.Value.IsCorrection {
		return unrecognized(ErrorAmbiguousCorrection, "not_a_correction"), true, nil
	}

	update, after, changed := applyCorrection(*last, res.Value, newCategoryIndex(categories))
	if update.IsEmpty() {
		return unrecognized(ErrorAmbiguousCorrection, "nothing_to_change"), true, nil
	}
	if err := p.expenses.UpdateExpense(ctx, last.ExpenseID, update); err != nil {
		return Outcome{}, true, newError(ErrorInternal, "update_failed", err)
	}
	rememberContext(ctx, p.contexts, p.log, in.ConversationKey, after)

	p.log.Info("expense corrected", zap.String("expense_id", last.ExpenseID), zap.Strings("fields", changed))
	return Outcome{
		Kind: OutcomeCorrectionApplied,
		Correction: &CorrectionResult{
			ExpenseID: last.ExpenseID,
			Before:    *last,
			After:     after,
			Changed:   changed,
		},
	}, true, nil
}

// lastExpense resolves the expense a correction targets. An explicit reply
// reference wins over the stored context; stale reports a reply reference
// that no longer resolves.
func (p *Pipeline) lastExpense(ctx context.Context, in MessageInput) (last *domain.ExpenseContext, stale bool) {
	if ref := strings.TrimSpace(in.ReplyToExpenseID); ref != "" {
		e, err := p.expenses.GetExpense(ctx, ref)
		if err != nil {
			p.log.Warn("failed to load replied-to expense", zap.String("expense_id", ref), zap.Error(err))
			return nil, true
		}
		if e == nil || !ownedBy(*e, in.scope()) {
			return nil, true
		}
		c := domain.ContextFromExpense(*e)
		return &c, false
	}

	c, err := p.contexts.GetContext(ctx, in.ConversationKey)
	if err != nil {
		p.log.Warn("failed to load expense context", zap.Error(err))
		return nil, false
	}
	return c, false
}

func ownedBy(e domain.Expense, s domain.Scope) bool {
	if s.GroupScope != nil {
		return e.GroupScope != nil && *e.GroupScope == *s.GroupScope
	}
	return e.UserID == s.UserID
}

// applyCorrection builds the update for the fields that actually change.
// A category outside the user's list is ignored.
func applyCorrection(last domain.ExpenseContext, c domain.ExpenseCorrection, idx categoryIndex) (domain.ExpenseUpdate, domain.ExpenseContext, []string) {
	var (
		update  domain.ExpenseUpdate
		changed []string
	)
	after := last

	if c.NewAmount != nil && !c.NewAmount.Equal(last.Amount) {
		amt := *c.NewAmount
		update.Amount = &amt
		after.Amount = amt
		changed = append(changed, "amount")
	}
	if c.NewDescription != nil {
		desc := strings.TrimSpace(*c.NewDescription)
		if desc != "" && desc != last.Description {
			update.Description = &desc
			after.Description = desc
			changed = append(changed, "description")
		}
	}
	if c.NewCategory != nil {
		if cat, ok := idx.lookup(*c.NewCategory); ok && (last.CategoryID == nil || *last.CategoryID != cat.ID) {
			id := cat.ID
			update.CategoryID = &id
			after.CategoryID = &id
			after.CategoryName = cat.Name
			changed = append(changed, "category")
		}
	}
	return update, after, changed
}

// handleVideo prefers the spoken track and falls back to a still frame when
// there is no usable speech.
func (p *Pipeline) handleVideo(ctx context.Context, log *zap.Logger, in MessageInput) (Outcome, error) {
	payload, err := p.normalizer.Normalize(ctx, media.KindVideo, in.Media, in.MIME)
	switch {
	case err == nil:
		out, err := p.handleText(ctx, in, payload.Text, domain.SourceVideo)
		if err != nil || out.Kind != OutcomeUnrecognized {
			out.Transcript = payload.Text
			return out, err
		}
		log.Debug("video transcript unusable, trying a still frame")
	case errors.Is(err, media.ErrNoSpeech):
		log.Debug("video has no speech, trying a still frame", zap.Error(err))
	default:
		return p.mediaFailure(log, err), nil
	}

	frame, err := p.normalizer.VideoFrame(ctx, in.Media, in.MIME)
	if err != nil {
		if errors.Is(err, media.ErrPayloadTooLarge) {
			return p.mediaFailure(log, err), nil
		}
		log.Warn("failed to extract video frame", zap.Error(err))
		return Outcome{Kind: OutcomeNoSpeech, Transcript: payload.Text}, nil
	}
	out, err := p.handleReceipt(ctx, in, frame, domain.SourceVideo)
	out.Transcript = payload.Text
	return out, err
}

// handleReceipt extracts a receipt from an image. Documents retry with the
// looser document prompt when the receipt prompt finds nothing.
func (p *Pipeline) handleReceipt(ctx context.Context, in MessageInput, payload media.Payload, source domain.SourceType) (Outcome, error) {
	d := schema.Defaults{Today: in.Today, Currency: in.DefaultCurrency, RawInput: rawInputFor(in, source)}

	res := p.extractor.ParseReceipt(ctx, payload.Image, payload.MIME, d)
	if source == domain.SourceDocument && (res.Status == schema.StatusNotFound || res.Status == schema.StatusMalformed) {
		res = p.extractor.ParseDocument(ctx, payload.Image, payload.MIME, d)
	}
	switch res.Status {
	case schema.StatusServiceError:
		return failed(ErrorServiceUnavailable, serviceReason(res.Err)), nil
	case schema.StatusMalformed:
		return failed(ErrorMalformedResponse, "receipt_parse"), nil
	case schema.StatusNotFound:
		return unrecognized(ErrorExtractionEmpty, "no_receipt_found"), nil
	}
	return p.reconciler.Reconcile(ctx, ReceiptInput{
		ConversationKey: in.ConversationKey,
		Scope:           in.scope(),
		Receipt:         res.Value,
		Source:          source,
	})
}

func rawInputFor(in MessageInput, source domain.SourceType) string {
	if caption := strings.TrimSpace(in.Text); caption != "" {
		return caption
	}
	if in.FileName != "" {
		return fmt.Sprintf("[%s: %s]", source, in.FileName)
	}
	return fmt.Sprintf("[%s]", source)
}

func (p *Pipeline) mediaFailure(log *zap.Logger, err error) Outcome {
	switch {
	case errors.Is(err, media.ErrNoSpeech):
		return Outcome{Kind: OutcomeNoSpeech}
	case errors.Is(err, media.ErrPayloadTooLarge):
		log.Info("media payload too large", zap.Error(err))
		return failed(ErrorPayloadTooLarge, "payload_too_large")
	case errors.Is(err, media.ErrUnsupportedMedia):
		log.Info("unsupported media", zap.Error(err))
		return failed(ErrorInvalidInput, "unsupported_media")
	default:
		log.Warn("media normalization failed", zap.Error(err))
		return failed(ErrorServiceUnavailable, serviceReason(err))
	}
}
