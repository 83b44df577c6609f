package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
)

// fakeSession serves canned messages and tracks lifecycle calls.
type fakeSession struct {
	uids       []uint32
	messages   map[uint32]*model.Candidate
	fetchErrs  map[uint32]error
	searchErr  error
	searchedAt time.Time
	closed     int
}

func (s *fakeSession) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	s.searchedAt = since
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.uids, nil
}

func (s *fakeSession) Fetch(_ context.Context, uid uint32) (*model.Candidate, error) {
	if err := s.fetchErrs[uid]; err != nil {
		return nil, err
	}
	return s.messages[uid], nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeMailbox struct {
	session *fakeSession
	openErr error
	opens   int
}

func (m *fakeMailbox) Open(context.Context) (Session, error) {
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.session, nil
}

type fakeNotifier struct {
	sent []*model.Candidate
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg *model.Candidate) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type fakeRecorder struct {
	records []model.NotificationRecord
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, rec model.NotificationRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestWatcher(mb Mailbox, n Notifier) *Watcher {
	m := Matcher{
		Senders:           []string{"alerts@acme.com"},
		Keywords:          []string{"urgent"},
		ExcludeRecipients: []string{"ops@acme.com"},
	}
	return New(zap.NewNop(), mb, n, m, time.Second)
}

// clock returns a now func that yields base, then advances one minute
// per call.
func clock(base time.Time) func() time.Time {
	calls := 0
	return func() time.Time {
		t := base.Add(time.Duration(calls) * time.Minute)
		calls++
		return t
	}
}

func matching(date time.Time) *model.Candidate {
	return &model.Candidate{
		Sender:    "noreply-alerts@acme.com",
		Subject:   "URGENT: disk full",
		Body:      model.Body{Kind: model.BodySimple},
		Recipient: "admin@acme.com",
		Date:      date,
	}
}

func TestCycleNotifiesAndAdvancesWatermark(t *testing.T) {
	sess := &fakeSession{
		uids: []uint32{7},
		messages: map[uint32]*model.Candidate{
			7: matching(baseTime.Add(30 * time.Second)),
		},
	}
	mb := &fakeMailbox{session: sess}
	n := &fakeNotifier{}

	w := newTestWatcher(mb, n)
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	w.runCycle(context.Background())

	if len(n.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(n.sent))
	}
	if !w.watermark.Equal(baseTime) {
		t.Fatalf("watermark = %v, want cycle start %v", w.watermark, baseTime)
	}
	if sess.closed != 1 {
		t.Fatalf("session closed %d times, want 1", sess.closed)
	}
}

func TestCycleSearchesFromWatermarkDay(t *testing.T) {
	sess := &fakeSession{}
	mb := &fakeMailbox{session: sess}

	w := newTestWatcher(mb, &fakeNotifier{})
	w.now = clock(baseTime)
	w.watermark = time.Date(2025, 3, 9, 18, 45, 12, 0, time.UTC)

	w.runCycle(context.Background())

	wantDay := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	if !sess.searchedAt.Equal(wantDay) {
		t.Fatalf("searched since %v, want day-truncated %v", sess.searchedAt, wantDay)
	}
}

func TestFailedConnectLeavesWatermark(t *testing.T) {
	mb := &fakeMailbox{openErr: errors.New("login failed")}
	n := &fakeNotifier{}

	w := newTestWatcher(mb, n)
	w.now = clock(baseTime)
	before := w.watermark

	w.runCycle(context.Background())

	if !w.watermark.Equal(before) {
		t.Fatalf("watermark moved on failed connect: %v", w.watermark)
	}
	if len(n.sent) != 0 {
		t.Fatal("notified despite failed connect")
	}
}

func TestFailedSearchLeavesWatermarkAndClosesSession(t *testing.T) {
	sess := &fakeSession{searchErr: errors.New("SEARCH BAD")}
	mb := &fakeMailbox{session: sess}

	w := newTestWatcher(mb, &fakeNotifier{})
	w.now = clock(baseTime)
	before := w.watermark

	w.runCycle(context.Background())

	if !w.watermark.Equal(before) {
		t.Fatalf("watermark moved on failed search: %v", w.watermark)
	}
	if sess.closed != 1 {
		t.Fatalf("session closed %d times, want 1", sess.closed)
	}
}

func TestFetchFailureSkipsSingleMessage(t *testing.T) {
	sess := &fakeSession{
		uids: []uint32{1, 2},
		messages: map[uint32]*model.Candidate{
			2: matching(baseTime.Add(time.Second)),
		},
		fetchErrs: map[uint32]error{1: errors.New("FETCH failed")},
	}
	mb := &fakeMailbox{session: sess}
	n := &fakeNotifier{}

	w := newTestWatcher(mb, n)
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	w.runCycle(context.Background())

	if len(n.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1 (bad message skipped)", len(n.sent))
	}
	if !w.watermark.Equal(baseTime) {
		t.Fatal("message-local failure must still complete the cycle")
	}
}

func TestSuppressedRecipientNotDelivered(t *testing.T) {
	msg := matching(baseTime.Add(time.Second))
	msg.Recipient = "ops@acme.com"
	sess := &fakeSession{
		uids:     []uint32{1},
		messages: map[uint32]*model.Candidate{1: msg},
	}
	mb := &fakeMailbox{session: sess}
	n := &fakeNotifier{}

	w := newTestWatcher(mb, n)
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	w.runCycle(context.Background())

	if len(n.sent) != 0 {
		t.Fatal("suppressed match must not reach the webhook")
	}
}

func TestNotifierErrorDoesNotAbortCycle(t *testing.T) {
	sess := &fakeSession{
		uids: []uint32{1},
		messages: map[uint32]*model.Candidate{
			1: matching(baseTime.Add(time.Second)),
		},
	}
	mb := &fakeMailbox{session: sess}
	n := &fakeNotifier{err: errors.New("503")}

	w := newTestWatcher(mb, n)
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	w.runCycle(context.Background())

	// Delivery failure is a lost notification; the cycle still completes.
	if !w.watermark.Equal(baseTime) {
		t.Fatal("watermark must advance despite delivery failure")
	}
}

func TestRecorderReceivesSentNotifications(t *testing.T) {
	sess := &fakeSession{
		uids: []uint32{1},
		messages: map[uint32]*model.Candidate{
			1: matching(baseTime.Add(time.Second)),
		},
	}
	mb := &fakeMailbox{session: sess}
	rec := &fakeRecorder{}

	w := newTestWatcher(mb, &fakeNotifier{}).WithRecorder(rec)
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	w.runCycle(context.Background())

	if len(rec.records) != 1 {
		t.Fatalf("recorded %d notifications, want 1", len(rec.records))
	}
	if rec.records[0].Recipient != "admin@acme.com" {
		t.Fatalf("recorded recipient = %q", rec.records[0].Recipient)
	}
}

func TestWatermarkMonotonicAcrossCycles(t *testing.T) {
	sess := &fakeSession{}
	mb := &fakeMailbox{session: sess}

	w := newTestWatcher(mb, &fakeNotifier{})
	w.now = clock(baseTime)
	w.watermark = baseTime.Add(-time.Hour)

	var marks []time.Time
	for i := 0; i < 3; i++ {
		w.runCycle(context.Background())
		marks = append(marks, w.watermark)
	}

	for i := 1; i < len(marks); i++ {
		if !marks[i].After(marks[i-1]) {
			t.Fatalf("watermark not strictly increasing: %v then %v", marks[i-1], marks[i])
		}
	}

	// A failed cycle in between leaves the last value intact.
	mb.openErr = errors.New("down")
	last := w.watermark
	w.runCycle(context.Background())
	if !w.watermark.Equal(last) {
		t.Fatal("failed cycle changed the watermark")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sess := &fakeSession{}
	mb := &fakeMailbox{session: sess}

	w := newTestWatcher(mb, &fakeNotifier{})
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if mb.opens == 0 {
		t.Fatal("Run never opened a session")
	}
}
