// Package classifier turns raw message text into a category, priority and tag set.
// A remote AI capability is tried first; the deterministic keyword rules answer
// whenever it fails, times out or returns something unusable.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/domain"
)

// Input is the part of a query the classifier reads.
type Input struct {
	Subject string
	Content string
	Channel domain.QueryChannel
	Sender  string
}

// InputFromQuery extracts classifier input from q.
func InputFromQuery(q *domain.Query) Input {
	sender := q.SenderName
	if sender == "" {
		sender = q.SenderEmail
	}
	if sender == "" {
		sender = q.SenderID
	}
	return Input{Subject: q.Subject, Content: q.Content, Channel: q.Channel, Sender: sender}
}

// Classification is a category, priority and tag set.
type Classification struct {
	Category  domain.QueryCategory
	Priority  domain.Priority
	Tags      []string
	Reasoning string
	Sentiment string
}

// Validate rejects classifications the engine cannot route on.
func (c Classification) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", c.Priority)
	}
	return nil
}

// Remote is an external classification capability that may fail.
type Remote interface {
	Classify(ctx context.Context, in Input) (Classification, error)
}

// Source records which path produced a Result.
type Source string

const (
	SourceAI    Source = "ai"
	SourceRules Source = "rules"
)

// Result is the tagged outcome of Hybrid.Classify: either the AI answer or the
// rule fallback together with why the fallback ran.
type Result struct {
	Classification
	Source         Source
	FallbackReason string
}

// Fallback reports whether the rule path produced r.
func (r Result) Fallback() bool {
	return r.Source == SourceRules
}

// ErrRemoteDisabled is the fallback reason when no remote capability is wired.
var ErrRemoteDisabled = errors.New("ai classification disabled")

// Hybrid classifies with Remote under a hard timeout and falls back to Rules.
type Hybrid struct {
	remote  Remote
	rules   *Rules
	timeout time.Duration
	logger  *zap.Logger
}

// NewHybrid builds the classifier. remote may be nil, in which case every call
// takes the rule path.
func NewHybrid(remote Remote, rules *Rules, timeout time.Duration, logger *zap.Logger) *Hybrid {
	if rules == nil {
		rules = NewRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{remote: remote, rules: rules, timeout: timeout, logger: logger}
}

// Classify never fails: callers only see which path answered.
func (h *Hybrid) Classify(ctx context.Context, in Input) Result {
	classification, err := h.callRemote(ctx, in)
	if err == nil {
		return Result{Classification: classification, Source: SourceAI}
	}
	h.logger.Warn("ai classification unavailable, using rules", zap.Error(err))
	return Result{
		Classification: h.rules.Classify(in),
		Source:         SourceRules,
		FallbackReason: err.Error(),
	}
}

func (h *Hybrid) callRemote(ctx context.Context, in Input) (Classification, error) {
	if h.remote == nil {
		return Classification{}, ErrRemoteDisabled
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	type reply struct {
		classification Classification
		err            error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("ai classifier panic: %v", r)}
			}
		}()
		c, err := h.remote.Classify(ctx, in)
		done <- reply{classification: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return Classification{}, fmt.Errorf("ai classification: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return Classification{}, r.err
		}
		if err := r.classification.Validate(); err != nil {
			return Classification{}, fmt.Errorf("ai classification unparsable: %w", err)
		}
		r.classification.Tags = NormalizeTags(r.classification.Tags)
		return r.classification, nil
	}
}

// MaxTags bounds the tags kept on any classification.
const MaxTags = 5

// NormalizeTags lowercases, trims, de-duplicates and sorts tags, keeping the
// first MaxTags in sorted order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) > MaxTags {
		out = out[:MaxTags]
	}
	return out
}
