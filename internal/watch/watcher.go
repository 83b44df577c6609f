package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/obs"
)

// Session is a scoped mailbox session for one poll cycle: acquired at
// cycle start, released (best effort) at cycle end.
type Session interface {
	// SearchSince lists the UIDs of messages dated on or after the
	// given day. The search is day-granular; exact recency filtering
	// happens client-side in the Matcher.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	// Fetch retrieves and parses one message by UID.
	Fetch(ctx context.Context, uid uint32) (*model.Candidate, error)

	// Close logs out of the mailbox.
	Close() error
}

// Mailbox opens sessions against the watched mail store.
type Mailbox interface {
	Open(ctx context.Context) (Session, error)
}

// Notifier delivers a single outbound alert for a matched message.
type Notifier interface {
	Notify(ctx context.Context, msg *model.Candidate) error
}

// Recorder appends sent notifications to the audit log.
type Recorder interface {
	Record(ctx context.Context, rec model.NotificationRecord) error
}

// Watcher drives the poll loop. It owns the only mutable state in the
// process: the watermark, the UTC start time of the last completed
// cycle. The watermark lives in memory only; a restart re-arms it to
// the current time and silently drops any backlog.
type Watcher struct {
	log      *zap.Logger
	mailbox  Mailbox
	notifier Notifier
	recorder Recorder
	matcher  Matcher
	interval time.Duration
	metrics  *obs.Metrics

	watermark time.Time

	now func() time.Time
}

// New creates a Watcher. The watermark starts at the current time, so
// only mail arriving after process start can ever notify.
func New(
	log *zap.Logger,
	mailbox Mailbox,
	notifier Notifier,
	matcher Matcher,
	interval time.Duration,
) *Watcher {
	w := &Watcher{
		log:      log,
		mailbox:  mailbox,
		notifier: notifier,
		matcher:  matcher,
		interval: interval,
		now:      time.Now,
	}
	w.watermark = w.now().UTC()
	return w
}

// WithRecorder attaches an audit log. Recording failures are logged,
// never escalated.
func (w *Watcher) WithRecorder(r Recorder) *Watcher {
	w.recorder = r
	return w
}

// WithMetrics attaches poll loop counters.
func (w *Watcher) WithMetrics(m *obs.Metrics) *Watcher {
	w.metrics = m
	return w
}

// Run executes cycles until the context is canceled: cycle, sleep the
// configured interval, repeat. The sleep is the only suspension point.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		w.runCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(w.interval)
	}
}

// runCycle performs one poll: open a session, search since the day of
// the watermark, evaluate every message, notify survivors, then advance
// the watermark to this cycle's start time. Connect and search failures
// abandon the cycle with the watermark untouched, so the failed window
// is retried next cycle. Message-local failures skip that message only.
func (w *Watcher) runCycle(ctx context.Context) {
	cycleStart := w.now().UTC()
	wallStart := time.Now()
	if w.metrics != nil {
		w.metrics.Cycles.Inc()
	}

	w.log.Info("connecting to mailbox")
	sess, err := w.mailbox.Open(ctx)
	if err != nil {
		w.cycleError("mailbox connect failed", err)
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			w.log.Error("mailbox logout failed", zap.Error(err))
		}
	}()

	w.log.Info("checking for new emails")
	uids, err := sess.SearchSince(ctx, dayOf(w.watermark))
	if err != nil {
		w.cycleError("mailbox search failed", err)
		return
	}
	w.log.Info("search returned messages", zap.Int("count", len(uids)))

	found := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			// Interrupted mid-cycle: discard progress, keep watermark.
			return
		}

		w.log.Debug("fetching message", zap.Uint32("uid", uid))
		msg, err := sess.Fetch(ctx, uid)
		if err != nil {
			if w.metrics != nil {
				w.metrics.Errors.Inc()
			}
			w.log.Debug("skipping unreadable message",
				zap.Uint32("uid", uid), zap.Error(err))
			continue
		}

		if w.metrics != nil {
			w.metrics.Checked.Inc()
		}
		verdict := w.matcher.Evaluate(msg, w.watermark)
		w.log.Debug("evaluated message",
			zap.Uint32("uid", uid),
			zap.String("sender", msg.Sender),
			zap.Time("date", msg.Date),
			zap.Stringer("verdict", verdict),
		)

		switch verdict {
		case VerdictNotify:
			if w.metrics != nil {
				w.metrics.Matched.Inc()
			}
			w.log.Info("relevant email found", zap.String("subject", msg.Subject))
			w.deliver(ctx, msg)
			found++
		case VerdictSuppressed:
			if w.metrics != nil {
				w.metrics.Matched.Inc()
				w.metrics.Suppressed.Inc()
			}
			w.log.Info("skipping notification for excluded recipient",
				zap.String("recipient", msg.Recipient),
				zap.String("subject", msg.Subject),
			)
		case VerdictStale:
			w.log.Debug("message arrived before the last check start time",
				zap.Uint32("uid", uid))
		case VerdictNoMatch:
			w.log.Debug("message did not match the search criteria",
				zap.Uint32("uid", uid))
		}
	}

	w.log.Info("finished search",
		zap.Int("processed", len(uids)),
		zap.Int("found", found),
	)

	w.watermark = cycleStart
	if w.metrics != nil {
		w.metrics.CycleDuration.Observe(time.Since(wallStart).Seconds())
	}
}

// deliver sends the webhook call for one match and appends the audit
// record. Delivery is fire-and-forget: a failure is a lost
// notification, logged and not retried.
func (w *Watcher) deliver(ctx context.Context, msg *model.Candidate) {
	if err := w.notifier.Notify(ctx, msg); err != nil {
		if w.metrics != nil {
			w.metrics.Errors.Inc()
		}
		w.log.Error("failed to send webhook",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.Notified.Inc()
	}

	if w.recorder == nil {
		return
	}
	rec := model.NotificationRecord{
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		SentAt:    w.now().UTC(),
	}
	if err := w.recorder.Record(ctx, rec); err != nil {
		w.log.Error("recording notification failed", zap.Error(err))
	}
}

// cycleError logs a cycle-fatal failure. The loop itself continues; the
// watermark stays put so the same window is searched again.
func (w *Watcher) cycleError(msg string, err error) {
	if w.metrics != nil {
		w.metrics.Errors.Inc()
	}
	w.log.Error(msg, zap.Error(err))
}

// dayOf truncates a timestamp to the start of its UTC day, matching the
// date-only granularity of the IMAP SINCE search.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
