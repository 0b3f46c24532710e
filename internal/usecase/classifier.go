package usecase

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"expense-agent/internal/domain"
	"expense-agent/internal/schema"
)

var (
	apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

	summaryCue = regexp.MustCompile(`\b(how much|total|sum of|what did i spend|what have i spent|spending)\b`)
	detailCue  = regexp.MustCompile(`\b(list|show|what did i buy|what have i bought|details?|itemi[sz]e|breakdown)\b`)
	digit      = regexp.MustCompile(`\d`)
	isoDate    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	lastNDays  = regexp.MustCompile(`\b(?:in the )?(?:last|past) (\d{1,3}) days?\b`)

	// Openers that make a message read as a request for information.
	questionOpener = regexp.MustCompile(`^(?:how|what|when|where|which|who|did|do|does|have|has|can|could|would|give me|tell me|show me|show my|show all|list my|list all|list (?:the|our)|list (?:expenses|purchases|spending))\b`)

	itemPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bprice of (?:the |a |an |my )?(.+)$`),
		regexp.MustCompile(`\bwhat did i pay for (?:the |a |an |my )?(.+)$`),
		regexp.MustCompile(`\bhow much (?:was|were|is|are|does|do|did) (?:the |a |an |my )?(.+?)(?: costs?)?$`),
	}
	categoryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:spen[dt]|spending) (?:on|for) (?:the |my )?(.+)$`),
		regexp.MustCompile(`\bhow much (?:on|for) (?:the |my )?(.+)$`),
		regexp.MustCompile(`\b(?:expenses|purchases) (?:for|on|in) (?:the |my )?(.+)$`),
		regexp.MustCompile(`\b([a-z&]+(?: [a-z&]+)?) (?:expenses|spending|purchases)\b`),
	}

	// Leading words stripped from captured hints.
	hintStopwords = map[string]bool{
		"list": true, "show": true, "me": true, "my": true, "all": true, "the": true,
		"total": true, "what": true, "of": true, "our": true, "see": true, "details": true,
		"detail": true, "much": true, "how": true, "a": true, "any": true,
	}
	// Trailing words stripped from captured hints.
	hintTrailers = map[string]bool{
		"on": true, "in": true, "for": true, "from": true, "to": true, "during": true,
		"since": true, "at": true, "and": true, "between": true, "cost": true, "costs": true,
		"time": true, "last": true,
	}
	// Captured item names that are really about spending as a whole.
	itemRejects = regexp.MustCompile(`^(i|we|you|it|that|this)\b|\b(spen[dt]|spending|total|expenses?)\b`)
)

type periodRule struct {
	pattern *regexp.Regexp
	resolve func(today time.Time) (time.Time, time.Time)
}

// Checked in order; the first hit sets the period. Every hit is removed from
// the text before item and category extraction.
var periodRules = []periodRule{
	{regexp.MustCompile(`\bthis week(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		return domain.WeekStart(t), t
	}},
	{regexp.MustCompile(`\blast week(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		start := domain.WeekStart(t).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 6)
	}},
	{regexp.MustCompile(`\bthis month(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		return domain.MonthStart(t), t
	}},
	{regexp.MustCompile(`\blast month(?:'s)?\b`), domain.PreviousMonth},
	{regexp.MustCompile(`\bthis year(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), t
	}},
	{regexp.MustCompile(`\blast year(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		y := t.Year() - 1
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
	}},
	{regexp.MustCompile(`\byesterday(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		y := t.AddDate(0, 0, -1)
		return y, y
	}},
	{regexp.MustCompile(`\btoday(?:'s)?\b`), func(t time.Time) (time.Time, time.Time) {
		return t, t
	}},
}

// lexicalQuery is what the keyword pass could tell about a message.
type lexicalQuery struct {
	summary   bool
	detail    bool
	question  bool
	hasAmount bool
	item      *string
	category  *string
	start     *time.Time
	end       *time.Time
}

func (l lexicalQuery) hasCue() bool {
	return l.summary || l.detail || l.item != nil
}

func (l lexicalQuery) query() domain.ParsedQuery {
	q := domain.ParsedQuery{StartDate: l.start, EndDate: l.end, IsValid: true}
	switch {
	case l.detail && !l.summary:
		q.Type = domain.QueryListExpenses
		q.CategoryHint = l.category
	case l.category != nil:
		q.Type = domain.QueryCategorySpending
		q.CategoryHint = l.category
	case l.item != nil:
		q.Type = domain.QueryItemPrice
		q.ItemName = l.item
	default:
		q.Type = domain.QueryDateSpending
	}
	return q
}

func analyzeQuery(text string, today time.Time) lexicalQuery {
	today = domain.DateOf(today)
	s := strings.ToLower(apostrophes.Replace(strings.TrimSpace(text)))
	asked := strings.HasSuffix(s, "?")
	s = strings.TrimRight(s, "?!. ")

	var l lexicalQuery
	l.summary = summaryCue.MatchString(s)
	l.detail = detailCue.MatchString(s)

	rest, start, end := extractPeriod(s, today)
	l.start, l.end = start, end
	l.question = asked || start != nil || questionOpener.MatchString(s)
	rest = collapseSpaces(rest)
	l.hasAmount = digit.MatchString(rest)

	for _, p := range categoryPatterns {
		if m := p.FindStringSubmatch(rest); m != nil {
			if hint := cleanHint(m[1]); hint != "" {
				l.category = &hint
				break
			}
		}
	}
	if l.category == nil {
		for _, p := range itemPatterns {
			m := p.FindStringSubmatch(rest)
			if m == nil {
				continue
			}
			item := cleanHint(m[1])
			if item == "" || itemRejects.MatchString(item) {
				continue
			}
			l.item = &item
			break
		}
	}
	return l
}

func extractPeriod(s string, today time.Time) (string, *time.Time, *time.Time) {
	var start, end *time.Time
	set := func(a, b time.Time) {
		if start != nil {
			return
		}
		a, b = domain.DateOf(a), domain.DateOf(b)
		if b.Before(a) {
			a, b = b, a
		}
		start, end = &a, &b
	}

	if m := lastNDays.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if n < 1 {
				n = 1
			}
			set(today.AddDate(0, 0, -(n - 1)), today)
		}
		s = lastNDays.ReplaceAllString(s, " ")
	}
	for _, r := range periodRules {
		if r.pattern.MatchString(s) {
			set(r.resolve(today))
			s = r.pattern.ReplaceAllString(s, " ")
		}
	}
	if dates := isoDate.FindAllString(s, -1); len(dates) > 0 {
		var parsed []time.Time
		for _, d := range dates {
			if t, ok := domain.ParseDate(d); ok {
				parsed = append(parsed, t)
			}
		}
		switch len(parsed) {
		case 0:
		case 1:
			set(parsed[0], parsed[0])
		default:
			set(parsed[0], parsed[len(parsed)-1])
		}
		s = isoDate.ReplaceAllString(s, " ")
	}
	return s, start, end
}

func cleanHint(s string) string {
	words := strings.Fields(strings.Trim(s, " ?!.,'\""))
	for len(words) > 0 && hintStopwords[words[0]] {
		words = words[1:]
	}
	for len(words) > 0 && hintTrailers[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// QueryClassifier decides whether a message asks about past spending.
type QueryClassifier struct {
	x *Extractor
}

func NewQueryClassifier(x *Extractor) *QueryClassifier {
	return &QueryClassifier{x: x}
}

// Classify returns the query a message expresses, or a not_a_query result.
// Question-shaped messages with a cue and no amount are answered from the
// keyword pass alone; messages with an amount and no cue are treated as
// expenses without a service call. Everything else goes to query_parse,
// whose dates and summary/detail choice are corrected from the keyword pass.
// A cue word alone ("list it under transport") is not enough to skip the
// service, since follow-up corrections use the same words.
func (q *QueryClassifier) Classify(ctx context.Context, text string, today time.Time) (domain.ParsedQuery, error) {
	if strings.TrimSpace(text) == "" {
		return domain.NotAQuery(), nil
	}
	lex := analyzeQuery(text, today)
	switch {
	case lex.hasCue() && lex.question && !lex.hasAmount:
		return lex.query(), nil
	case !lex.hasCue() && lex.hasAmount:
		return domain.NotAQuery(), nil
	}

	res := q.x.ParseQuery(ctx, text, today)
	switch res.Status {
	case schema.StatusServiceError:
		return domain.ParsedQuery{}, newError(ErrorServiceUnavailable, serviceReason(res.Err), res.Err)
	case schema.StatusFound:
	default:
		return domain.NotAQuery(), nil
	}

	parsed := res.Value
	if !parsed.IsValid || parsed.Type == domain.QueryNotAQuery {
		return domain.NotAQuery(), nil
	}
	merged := mergeLexical(parsed, lex)
	q.x.log.Debug("query classified", zap.String("type", string(merged.Type)))
	return merged, nil
}

func mergeLexical(q domain.ParsedQuery, lex lexicalQuery) domain.ParsedQuery {
	if q.StartDate == nil && q.EndDate == nil {
		q.StartDate, q.EndDate = lex.start, lex.end
	}
	if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
		q.StartDate, q.EndDate = q.EndDate, q.StartDate
	}
	switch {
	case q.Type == domain.QueryDateSpending && lex.detail && !lex.summary:
		q.Type = domain.QueryListExpenses
	case q.Type == domain.QueryListExpenses && lex.summary && !lex.detail:
		q.Type = domain.QueryDateSpending
		q.CategoryHint = nil
	}
	if q.CategoryHint == nil && (q.Type == domain.QueryCategorySpending || q.Type == domain.QueryListExpenses) {
		q.CategoryHint = lex.category
	}
	if q.ItemName == nil && q.Type == domain.QueryItemPrice {
		q.ItemName = lex.item
	}
	return q
}
