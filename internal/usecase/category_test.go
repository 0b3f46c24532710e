package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"expense-agent/internal/domain"
)

func newTestResolver(t *testing.T, llm *mockLLM) *CategoryResolver {
	t.Helper()
	x, err := NewExtractor(llm, 0, zap.NewNop())
	require.NoError(t, err)
	return NewCategoryResolver(x)
}

func TestResolveExactHintSkipsService(t *testing.T) {
	llm := newMockLLM(nil)
	res := newTestResolver(t, llm).Resolve(context.Background(), strPtr("  food & DINING "), "lunch", testCategories())

	require.NotNil(t, res.Category)
	require.Equal(t, "Food & Dining", res.Category.Name)
	require.Equal(t, 1.0, res.Confidence)
	require.False(t, res.Fallback)
	require.Zero(t, llm.count(intentCategorize))
}

func TestResolveAsksService(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{
		intentCategorize: {answer: `{"category": "transportation", "confidence": 0.9}`},
	})
	res := newTestResolver(t, llm).Resolve(context.Background(), strPtr("petrol"), "Shell station", testCategories())

	require.NotNil(t, res.Category)
	require.Equal(t, "Transportation", res.Category.Name)
	require.Equal(t, 0.9, res.Confidence)
	require.Equal(t, 1, llm.count(intentCategorize))
	require.Contains(t, llm.lastUser[intentCategorize], "Shell station (petrol)")
	require.Equal(t, maxTokensCategorize, llm.lastOpts[intentCategorize].MaxTokens)
}

func TestResolveHallucinatedCategoryFallsBackToOther(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{
		intentCategorize: {answer: `{"category": "Pets", "confidence": 0.95}`},
	})
	res := newTestResolver(t, llm).Resolve(context.Background(), nil, "dog food", testCategories())

	require.NotNil(t, res.Category)
	require.Equal(t, domain.OtherCategoryName, res.Category.Name)
	require.True(t, res.Fallback)
	require.Equal(t, 0.5, res.Confidence)
}

func TestResolveHallucinatedCategoryWithoutOther(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{
		intentCategorize: {answer: `{"category": "Pets"}`},
	})
	categories := []domain.Category{{ID: "1", Name: "Food"}, {ID: "2", Name: "Travel"}}
	res := newTestResolver(t, llm).Resolve(context.Background(), nil, "dog food", categories)

	require.Nil(t, res.Category)
	require.Zero(t, res.Confidence)
}

func TestResolveServiceErrorLeavesUncategorized(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{intentCategorize: {err: errors.New("timeout")}})
	res := newTestResolver(t, llm).Resolve(context.Background(), nil, "dog food", testCategories())
	require.Nil(t, res.Category)
}

func TestResolveNoCategories(t *testing.T) {
	llm := newMockLLM(nil)
	res := newTestResolver(t, llm).Resolve(context.Background(), strPtr("Food"), "lunch", nil)
	require.Nil(t, res.Category)
	require.Zero(t, llm.count(intentCategorize))
}

func TestResolveBulkDiscardsInvalidEntries(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{
		intentBulk: {answer: `Sure: [
			{"index": 0, "category": "Groceries", "confidence": 0.8},
			{"index": 1, "category": "Spaceships", "confidence": 0.9},
			{"index": 7, "category": "Health", "confidence": 0.9},
			{"index": -1, "category": "Health"},
			{"category": "Health"},
			{"index": 2, "category": "health", "confidence": 3}
		]`},
	})
	out := newTestResolver(t, llm).ResolveBulk(context.Background(), []string{"milk", "rocket", "aspirin"}, testCategories())

	require.Len(t, out, 3)
	require.Equal(t, "Groceries", out[0].Category.Name)
	require.Equal(t, 0.8, out[0].Confidence)
	require.Nil(t, out[1].Category)
	require.Equal(t, "Health", out[2].Category.Name)
	require.Equal(t, 1.0, out[2].Confidence)
	require.Equal(t, 1, llm.count(intentBulk))
}

func TestResolveBulkNeverReturnsUnknownNames(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{
		intentBulk: {answer: `[{"index": 0, "category": "Crypto"}, {"index": 1, "category": "Gadgets"}]`},
	})
	categories := []domain.Category{{ID: "1", Name: "Food"}}
	out := newTestResolver(t, llm).ResolveBulk(context.Background(), []string{"a", "b"}, categories)
	for _, r := range out {
		require.Nil(t, r.Category)
	}
}

func TestResolveBulkServiceError(t *testing.T) {
	llm := newMockLLM(map[string]llmResponse{intentBulk: {err: errors.New("boom")}})
	out := newTestResolver(t, llm).ResolveBulk(context.Background(), []string{"a"}, testCategories())
	require.Len(t, out, 1)
	require.Nil(t, out[0].Category)
}

func TestCategoryIndexSkipsDuplicatesAndBlanks(t *testing.T) {
	idx := newCategoryIndex([]domain.Category{
		{ID: "1", Name: "Food"},
		{ID: "2", Name: "food"},
		{ID: "3", Name: "  "},
	})
	require.Equal(t, []string{"Food"}, idx.names)
	c, ok := idx.lookup("FOOD ")
	require.True(t, ok)
	require.Equal(t, "1", c.ID)
}
