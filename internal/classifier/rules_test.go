package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/supportdesk/triage-service/internal/domain"
)

func TestRulesUrgentSubjectIsUrgentComplaint(t *testing.T) {
	rules := NewRules()

	got := rules.Classify(Input{Subject: "URGENT: cannot reach support", Content: "Nobody answers my emails."})

	assert.Equal(t, domain.CategoryComplaint, got.Category)
	assert.Equal(t, domain.PriorityUrgent, got.Priority)
	assert.Equal(t, "negative", got.Sentiment)
}

func TestRulesCategories(t *testing.T) {
	rules := NewRules()

	cases := []struct {
		name     string
		subject  string
		content  string
		category domain.QueryCategory
	}{
		{"question mark", "Plans", "Do you offer yearly plans?", domain.CategoryQuestion},
		{"question word", "Exports", "how do I export my invoices", domain.CategoryQuestion},
		{"request", "Dark mode", "We would like a dark mode option.", domain.CategoryRequest},
		{"bug", "Export", "The export crashes with an error.", domain.CategoryBugReport},
		{"feedback", "Nice", "Love the new dashboard, thanks!", domain.CategoryFeedback},
		{"complaint", "Service", "This is unacceptable.", domain.CategoryComplaint},
		{"general", "Hello", "Just saying hello.", domain.CategoryGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rules.Classify(Input{Subject: tc.subject, Content: tc.content})
			assert.Equal(t, tc.category, got.Category)
		})
	}
}

func TestRulesPriorities(t *testing.T) {
	rules := NewRules()

	assert.Equal(t, domain.PriorityHigh, rules.Classify(Input{Subject: "Payment failed", Content: "My card was declined."}).Priority)
	assert.Equal(t, domain.PriorityLow, rules.Classify(Input{Subject: "how does sharing work", Content: "Curious."}).Priority)
	assert.Equal(t, domain.PriorityMedium, rules.Classify(Input{Subject: "Hello", Content: "Just saying hello."}).Priority)
}

func TestRulesWordBoundaries(t *testing.T) {
	rules := NewRules()

	// "download" must not match the urgent term "down".
	got := rules.Classify(Input{Subject: "Hello", Content: "I tried the download page."})
	assert.NotEqual(t, domain.PriorityUrgent, got.Priority)
}

func TestRulesTags(t *testing.T) {
	rules := NewRules()

	got := rules.Classify(Input{Subject: "Invoice", Content: "The API returns an error for my invoice."})

	assert.Contains(t, got.Tags, "billing")
	assert.Contains(t, got.Tags, "api")
	assert.Contains(t, got.Tags, "technical")
	assert.IsNonDecreasing(t, got.Tags)
}

func TestRulesAlwaysProduceValidClassification(t *testing.T) {
	rules := NewRules()

	rapid.Check(t, func(t *rapid.T) {
		in := Input{
			Subject: rapid.String().Draw(t, "subject"),
			Content: rapid.String().Draw(t, "content"),
		}
		got := rules.Classify(in)
		require.NoError(t, got.Validate())
		require.LessOrEqual(t, len(got.Tags), MaxTags)
	})
}
