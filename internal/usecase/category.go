package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"expense-agent/internal/domain"
	"expense-agent/internal/schema"
)

const (
	exactMatchConfidence    = 1.0
	fallbackOtherConfidence = 0.5
)

// Resolution is the outcome of mapping a hint or description onto one of a
// user's categories. Category is nil when nothing could be chosen.
type Resolution struct {
	Category   *domain.Category
	Confidence float64
	// Fallback is set when the service answer did not match and "Other" was
	// used instead.
	Fallback bool
}

// categoryIndex is a case-insensitive lookup over a user's categories.
type categoryIndex struct {
	byName map[string]domain.Category
	names  []string
}

func newCategoryIndex(categories []domain.Category) categoryIndex {
	idx := categoryIndex{
		byName: make(map[string]domain.Category, len(categories)),
		names:  make([]string, 0, len(categories)),
	}
	for _, c := range categories {
		key := normalizeCategoryName(c.Name)
		if key == "" {
			continue
		}
		if _, dup := idx.byName[key]; dup {
			continue
		}
		idx.byName[key] = c
		idx.names = append(idx.names, c.Name)
	}
	return idx
}

func normalizeCategoryName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (i categoryIndex) lookup(name string) (domain.Category, bool) {
	c, ok := i.byName[normalizeCategoryName(name)]
	return c, ok
}

func (i categoryIndex) other() (domain.Category, bool) {
	return i.lookup(domain.OtherCategoryName)
}

func (i categoryIndex) empty() bool {
	return len(i.names) == 0
}

// CategoryResolver maps free-text hints onto a user's stored categories. It
// never returns a category outside the supplied list.
type CategoryResolver struct {
	x *Extractor
}

func NewCategoryResolver(x *Extractor) *CategoryResolver {
	return &CategoryResolver{x: x}
}

// Resolve tries an exact case-insensitive match of hint first and asks the
// completion service otherwise.
func (r *CategoryResolver) Resolve(ctx context.Context, hint *string, description string, categories []domain.Category) Resolution {
	idx := newCategoryIndex(categories)
	if idx.empty() {
		return Resolution{}
	}
	if hint != nil {
		if c, ok := idx.lookup(*hint); ok {
			return Resolution{Category: &c, Confidence: exactMatchConfidence}
		}
	}

	subject := strings.TrimSpace(description)
	if hint != nil && strings.TrimSpace(*hint) != "" {
		subject = strings.TrimSpace(subject + " (" + strings.TrimSpace(*hint) + ")")
	}
	if subject == "" {
		return idx.fallback()
	}

	raw, err := r.x.complete(ctx, buildCategorizePrompt(subject, idx.names), maxTokensCategorize)
	var res schema.Result[schema.Categorization]
	if err != nil {
		res = schema.ServiceError[schema.Categorization](err)
	} else {
		res = schema.ParseCategorization(raw)
	}
	res = logResult(r.x.log, "categorize", res)

	switch res.Status {
	case schema.StatusFound:
		if c, ok := idx.lookup(res.Value.Category); ok {
			return Resolution{Category: &c, Confidence: res.Value.Confidence}
		}
		r.x.log.Debug("categorization answer not in category list", zap.String("answer", res.Value.Category))
		return idx.fallback()
	case schema.StatusServiceError:
		return Resolution{}
	default:
		return idx.fallback()
	}
}

func (i categoryIndex) fallback() Resolution {
	if c, ok := i.other(); ok {
		return Resolution{Category: &c, Confidence: fallbackOtherConfidence, Fallback: true}
	}
	return Resolution{}
}

// ResolveBulk categorizes many descriptions with one completion call. The
// result is index-aligned with descriptions; entries the service skipped,
// indexed out of range or named an unknown category for stay empty.
func (r *CategoryResolver) ResolveBulk(ctx context.Context, descriptions []string, categories []domain.Category) []Resolution {
	out := make([]Resolution, len(descriptions))
	idx := newCategoryIndex(categories)
	if len(descriptions) == 0 || idx.empty() {
		return out
	}

	raw, err := r.x.complete(ctx, buildBulkCategorizePrompt(descriptions, idx.names), maxTokensBulk)
	var res schema.Result[[]schema.Categorization]
	if err != nil {
		res = schema.ServiceError[[]schema.Categorization](err)
	} else {
		res = schema.ParseBulkCategorization(raw)
	}
	res = logResult(r.x.log, "bulk_categorize", res)
	if !res.IsFound() {
		return out
	}

	for _, item := range res.Value {
		if item.Index < 0 || item.Index >= len(out) {
			continue
		}
		c, ok := idx.lookup(item.Category)
		if !ok {
			continue
		}
		out[item.Index] = Resolution{Category: &c, Confidence: item.Confidence}
	}
	return out
}
