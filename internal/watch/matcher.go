package watch

import (
	"strings"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// Verdict is the outcome of evaluating one candidate message.
type Verdict int

const (
	// VerdictStale means the message arrived at or before the watermark
	// and was already seen by an earlier cycle.
	VerdictStale Verdict = iota

	// VerdictNoMatch means the sender or keyword gate failed.
	VerdictNoMatch

	// VerdictSuppressed means the message matched but its recipient is
	// on the exclusion list.
	VerdictSuppressed

	// VerdictNotify means a webhook notification should be sent.
	VerdictNotify
)

// String returns a short label for logging.
func (v Verdict) String() string {
	switch v {
	case VerdictStale:
		return "stale"
	case VerdictNoMatch:
		return "no-match"
	case VerdictSuppressed:
		return "suppressed"
	case VerdictNotify:
		return "notify"
	}
	return "unknown"
}

// Matcher decides whether a candidate message qualifies for a
// notification. Evaluate is a pure function of its inputs.
type Matcher struct {
	// Senders are case-insensitive substrings matched against the
	// sender address. A configured "alerts@example.com" also matches
	// "noreply-alerts@example.com".
	Senders []string

	// Keywords are case-insensitive substrings matched against the
	// concatenation of subject and body.
	Keywords []string

	// ExcludeRecipients are addresses whose matches are suppressed.
	// Compared by case-insensitive equality, not substring.
	ExcludeRecipients []string
}

// Evaluate applies the recency gate, then the sender and keyword gates,
// then recipient suppression. The recency gate requires the arrival
// timestamp to be strictly later than the watermark; a message dated
// exactly at the watermark is stale.
func (m *Matcher) Evaluate(msg *model.Candidate, watermark time.Time) Verdict {
	if !msg.Date.After(watermark) {
		return VerdictStale
	}
	if !containsAnyFold(msg.Sender, m.Senders) {
		return VerdictNoMatch
	}
	if !containsAnyFold(msg.Subject+msg.Body.SearchText(), m.Keywords) {
		return VerdictNoMatch
	}
	for _, r := range m.ExcludeRecipients {
		if strings.EqualFold(msg.Recipient, r) {
			return VerdictSuppressed
		}
	}
	return VerdictNotify
}

// containsAnyFold reports whether s contains any of the needles,
// case-insensitively. The first hit short-circuits.
func containsAnyFold(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
