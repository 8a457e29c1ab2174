package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/supportdesk/triage-service/internal/domain"
)

var (
	urgentTerms = []string{
		"urgent", "asap", "immediately", "emergency", "critical",
		"down", "broken", "not working", "can't access", "crashed",
		"losing money", "losing business", "production down",
		"security breach", "data loss", "can't login",
	}
	highTerms = []string{
		"important", "soon", "issue", "problem", "error",
		"billing issue", "charged twice", "refund needed",
		"account locked", "payment failed",
	}
	complaintTerms = []string{
		"terrible", "awful", "worst", "disappointed", "frustrated",
		"angry", "unacceptable", "scam", "fraud", "complaint",
		"urgent", "asap", "emergency", "immediately", "refund",
	}
	questionTerms = []string{"how", "what", "why", "when", "where", "can i", "is there"}
	requestTerms  = []string{"please add", "can you", "request", "need", "want", "would like"}
	bugTerms      = []string{"bug", "error", "crash", "crashes", "not working", "broken", "exception"}
	feedbackTerms = []string{"love", "great", "awesome", "thanks", "thank you", "appreciate"}
)

type tagPattern struct {
	tag   string
	terms []string
}

var tagPatterns = []tagPattern{
	{"billing", []string{"payment", "invoice", "charge", "charged", "refund", "billing", "subscription"}},
	{"technical", []string{"error", "bug", "crash", "not working", "broken", "issue"}},
	{"account", []string{"login", "password", "access", "signup", "register", "account"}},
	{"sales", []string{"pricing", "plan", "upgrade", "purchase", "buy"}},
	{"api", []string{"api", "integration", "webhook", "endpoint"}},
	{"mobile", []string{"mobile", "app", "ios", "android"}},
	{"dashboard", []string{"dashboard", "interface", "ui", "frontend"}},
	{"data", []string{"export", "import", "data", "csv", "excel"}},
	{"feature-request", []string{"add", "feature", "request", "need", "would like"}},
	{"documentation", []string{"docs", "documentation", "guide", "tutorial", "how to"}},
}

type termSet struct {
	patterns []*regexp.Regexp
}

func compileTerms(terms []string) termSet {
	set := termSet{patterns: make([]*regexp.Regexp, 0, len(terms))}
	for _, term := range terms {
		set.patterns = append(set.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return set
}

func (s termSet) matches(text string) bool {
	for _, p := range s.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Rules is the deterministic keyword classifier. It has no external dependency
// and always produces a value.
type Rules struct {
	urgent    termSet
	high      termSet
	complaint termSet
	question  termSet
	request   termSet
	bug       termSet
	feedback  termSet
	leading   []string
	tags      []compiledTag
}

type compiledTag struct {
	tag   string
	terms termSet
}

// NewRules compiles the built-in keyword tables.
func NewRules() *Rules {
	r := &Rules{
		urgent:    compileTerms(urgentTerms),
		high:      compileTerms(highTerms),
		complaint: compileTerms(complaintTerms),
		question:  compileTerms(questionTerms),
		request:   compileTerms(requestTerms),
		bug:       compileTerms(bugTerms),
		feedback:  compileTerms(feedbackTerms),
		leading:   questionTerms,
	}
	for _, p := range tagPatterns {
		r.tags = append(r.tags, compiledTag{tag: p.tag, terms: compileTerms(p.terms)})
	}
	return r
}

// Classify applies the keyword tables to subject and content.
func (r *Rules) Classify(in Input) Classification {
	text := strings.ToLower(strings.TrimSpace(in.Subject + " " + in.Content))
	category := r.category(text)
	sentiment := "neutral"
	if category == domain.CategoryComplaint {
		sentiment = "negative"
	}
	return Classification{
		Category:  category,
		Priority:  r.priority(text),
		Tags:      r.extractTags(text),
		Reasoning: "rule-based classification",
		Sentiment: sentiment,
	}
}

func (r *Rules) category(text string) domain.QueryCategory {
	switch {
	case r.complaint.matches(text):
		return domain.CategoryComplaint
	case strings.Contains(text, "?") || r.question.matches(text):
		return domain.CategoryQuestion
	case r.request.matches(text):
		return domain.CategoryRequest
	case r.bug.matches(text):
		return domain.CategoryBugReport
	case r.feedback.matches(text):
		return domain.CategoryFeedback
	}
	return domain.CategoryGeneral
}

func (r *Rules) priority(text string) domain.Priority {
	switch {
	case r.urgent.matches(text):
		return domain.PriorityUrgent
	case r.high.matches(text), r.complaint.matches(text):
		return domain.PriorityHigh
	}
	for _, word := range r.leading {
		if strings.HasPrefix(text, word+" ") {
			return domain.PriorityLow
		}
	}
	return domain.PriorityMedium
}

func (r *Rules) extractTags(text string) []string {
	tags := make([]string, 0, MaxTags)
	for _, t := range r.tags {
		if t.terms.matches(text) {
			tags = append(tags, t.tag)
		}
	}
	sort.Strings(tags)
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	return tags
}
