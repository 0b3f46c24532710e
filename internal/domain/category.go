package domain

// Category is one of a user's spending categories.
type Category struct {
	ID   string
	Name string
	Icon string
}

// OtherCategoryName is the fallback category used when a categorization
// answer cannot be matched.
const OtherCategoryName = "Other"

// DefaultCategory is an entry in the seed category set.
type DefaultCategory struct {
	Name string
	Icon string
}

// DefaultCategories is the canonical category set every user starts with.
var DefaultCategories = []DefaultCategory{
	{Name: "Food & Dining", Icon: "🍔"},
	{Name: "Transportation", Icon: "🚗"},
	{Name: "Shopping", Icon: "🛍"},
	{Name: "Entertainment", Icon: "🎬"},
	{Name: "Bills & Utilities", Icon: "💡"},
	{Name: "Health", Icon: "💊"},
	{Name: "Travel", Icon: "✈️"},
	{Name: "Education", Icon: "📚"},
	{Name: "Groceries", Icon: "🛒"},
	{Name: OtherCategoryName, Icon: "📦"},
}

// DefaultCategoryNames returns the canonical category names in order.
func DefaultCategoryNames() []string {
	names := make([]string, 0, len(DefaultCategories))
	for _, c := range DefaultCategories {
		names = append(names, c.Name)
	}
	return names
}
