package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/bus"
	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// netState is a switchable Connectivity.
type netState struct {
	mu     sync.Mutex
	online bool
}

func (n *netState) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *netState) set(online bool) {
	n.mu.Lock()
	n.online = online
	n.mu.Unlock()
}

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu       sync.Mutex
	calls    []remote.Batch
	err      error
	notReady error
}

func (m *mockSender) Ready(context.Context) error {
	return m.notReady
}

func (m *mockSender) SendBatch(_ context.Context, b remote.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, b)
	return m.err
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func seedContacts(t *testing.T, db *store.DB, userID string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		c := &store.CachedContact{ID: id, UserID: userID, Name: fmt.Sprintf("Contact %d", i), Phone: fmt.Sprintf("+25078%07d", i), Source: store.SourceManual}
		if err := db.UpsertContact(c); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSendQueuesBatch(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, &netState{online: true}, nil, nil, nil)

	q, err := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1", "c2"}, Text: "  hello  "})
	if err != nil {
		t.Fatal(err)
	}
	if q.Offline {
		t.Error("Offline = true while online")
	}
	if q.Estimate.Cost != 30 {
		t.Errorf("cost = %d, want 30", q.Estimate.Cost)
	}

	b, err := db.GetBatch(q.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Message != "hello" || b.Priority != DefaultPriority || b.Status != store.BatchPending {
		t.Errorf("batch = %+v", b)
	}
	if b.MessageID == "" || b.MessageID == b.ID {
		t.Errorf("message id = %q, want distinct uuid", b.MessageID)
	}
}

func TestSendValidation(t *testing.T) {
	c := NewComposer(testDB(t), nil, nil, nil, nil)

	if _, err := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank text error = %v, want ErrEmptyMessage", err)
	}
	if _, err := c.Send(ComposeRequest{UserID: "u1", Text: "hi"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("no recipients error = %v, want ErrNoRecipients", err)
	}
}

func TestSendOfflineRaisesAdvisory(t *testing.T) {
	db := testDB(t)
	adv := advisory.New(nil)
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.", 4)
	defer unsub()
	c := NewComposer(db, &netState{online: false}, adv, b, nil)

	q, err := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "later"})
	if err != nil {
		t.Fatal(err)
	}
	if !q.Offline {
		t.Error("Offline = false, want true")
	}
	if adv.Current() != advisory.OfflineMessage {
		t.Errorf("advisory = %q, want offline message", adv.Current())
	}
	if evt := <-ch; evt.Kind != bus.KindBatchQueued || evt.Payload != q.BatchID {
		t.Errorf("event = %+v, want batch_queued for %s", evt, q.BatchID)
	}

	pending := store.BatchPending
	batches, err := db.ListBatches("u1", &pending)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Errorf("got %d pending batches, want 1 (queued while offline)", len(batches))
	}
}

func TestDraftRoundTrip(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, nil, nil, nil, nil)
	c.now = func() time.Time { return time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC) }

	ids := []string{"c1", "c2", "c3"}
	d, err := c.SaveDraft(DraftRequest{UserID: "u1", Text: "content C", ContactIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Draft 2025-03-04" {
		t.Errorf("title = %q, want default", d.Title)
	}

	s, err := c.LoadDraft("u1", d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Text != "content C" || s.RecipientCount != len(ids) {
		t.Errorf("session = %+v, want content C with %d recipients", s, len(ids))
	}

	// Loading does not consume the draft.
	if _, err := db.GetDraft("u1", d.ID); err != nil {
		t.Errorf("draft gone after load: %v", err)
	}
}

func TestSaveDraftUpdatesInPlace(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, nil, nil, nil, nil)

	d, err := c.SaveDraft(DraftRequest{UserID: "u1", Title: "Promo", Text: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SaveDraft(DraftRequest{UserID: "u1", ID: d.ID, Title: "Promo", Text: "v2", ContactIDs: []string{"c1"}}); err != nil {
		t.Fatal(err)
	}
	drafts, err := db.ListDraftsForUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].Content != "v2" || drafts[0].RecipientCount != 1 {
		t.Errorf("drafts = %+v, want one updated draft", drafts)
	}
}

func TestSaveEmptyDraftRejected(t *testing.T) {
	c := NewComposer(testDB(t), nil, nil, nil, nil)
	if _, err := c.SaveDraft(DraftRequest{UserID: "u1", Text: " "}); !errors.Is(err, ErrEmptyDraft) {
		t.Errorf("error = %v, want ErrEmptyDraft", err)
	}
}

func TestLoadMissingDraft(t *testing.T) {
	c := NewComposer(testDB(t), nil, nil, nil, nil)
	if _, err := c.LoadDraft("u1", "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, nil, nil, nil, nil)

	q, err := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Cancel(q.BatchID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetBatch(q.BatchID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("batch still present after cancel: %v", err)
	}

	q2, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "y"})
	_ = db.UpdateBatchStatus(q2.BatchID, store.BatchSending, "")
	if err := c.Cancel(q2.BatchID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel while sending error = %v, want ErrNotCancellable", err)
	}
}

func TestRetryFailedBatch(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, nil, nil, nil, nil)

	q, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "x", Priority: 5})
	if _, err := c.Retry(q.BatchID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry pending error = %v, want ErrNotRetryable", err)
	}
	_ = db.UpdateBatchStatus(q.BatchID, store.BatchSending, "")
	_ = db.UpdateBatchStatus(q.BatchID, store.BatchFailed, "boom")

	again, err := c.Retry(q.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.GetBatch(again.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != store.BatchPending || b.Priority != 5 || b.Message != "x" {
		t.Errorf("retried batch = %+v", b)
	}
}

func TestEstimateMessage(t *testing.T) {
	tests := []struct {
		text       string
		recipients int
		segments   int
		remaining  int
		cost       int
	}{
		{"", 1, 1, 160, 15},
		{"hi", 3, 1, 158, 45},
		{string(make([]byte, 160)), 1, 1, 0, 15},
		{string(make([]byte, 161)), 2, 2, 159, 60},
		{"é", 1, 1, 159, 15},
	}
	for _, tt := range tests {
		e := EstimateMessage(tt.text, tt.recipients)
		if e.Segments != tt.segments || e.Remaining != tt.remaining || e.Cost != tt.cost {
			t.Errorf("EstimateMessage(len %d, %d) = %+v, want segments=%d remaining=%d cost=%d",
				len(tt.text), tt.recipients, e, tt.segments, tt.remaining, tt.cost)
		}
	}
}

func TestSenderDrainsPendingBatches(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1", "c2")
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.batch_completed", 10)
	defer unsub()

	mock := &mockSender{}
	logger, _ := zap.NewDevelopment()
	net := &netState{online: true}
	c := NewComposer(db, net, nil, b, nil)
	q, err := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1", "c2"}, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	s := NewSender(db, "u1", mock, net, b, logger, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if evt.Payload != q.BatchID {
			t.Errorf("completed batch = %v, want %s", evt.Payload, q.BatchID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch_completed")
	}

	if mock.count() != 1 {
		t.Fatalf("got %d send calls, want 1", mock.count())
	}
	sent := mock.calls[0]
	if sent.Message != "hello" || len(sent.Recipients) != 2 {
		t.Errorf("sent batch = %+v", sent)
	}

	got, err := db.GetBatch(q.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.BatchCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestSenderWaitsForOnline(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1")
	net := &netState{}
	mock := &mockSender{}
	c := NewComposer(db, net, nil, nil, nil)
	q, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "queued offline"})

	s := NewSender(db, "u1", mock, net, nil, nil, time.Hour)
	if n := s.Drain(context.Background()); n != 0 || mock.count() != 0 {
		t.Fatalf("drained %d batches while offline", n)
	}

	net.set(true)
	if n := s.Drain(context.Background()); n != 1 {
		t.Fatalf("drained %d batches after reconnect, want 1", n)
	}
	got, _ := db.GetBatch(q.BatchID)
	if got.Status != store.BatchCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestSenderOrderAndSchedule(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1")
	net := &netState{online: true}
	mock := &mockSender{}
	c := NewComposer(db, net, nil, nil, nil)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	_, _ = c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "low"})
	c.now = func() time.Time { return base.Add(time.Second) }
	_, _ = c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "high", Priority: 9})
	later := base.Add(time.Hour)
	_, _ = c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "scheduled", Priority: 10, ScheduledAt: &later})

	s := NewSender(db, "u1", mock, net, nil, nil, time.Hour)
	s.now = func() time.Time { return base.Add(time.Minute) }
	if n := s.Drain(context.Background()); n != 2 {
		t.Fatalf("drained %d, want 2", n)
	}
	if mock.calls[0].Message != "high" || mock.calls[1].Message != "low" {
		t.Errorf("order = %q, %q; want high, low", mock.calls[0].Message, mock.calls[1].Message)
	}

	s.now = func() time.Time { return later }
	if n := s.Drain(context.Background()); n != 1 {
		t.Errorf("drained %d once due, want 1", n)
	}
}

func TestSenderMarksFailure(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1")
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.batch_failed", 10)
	defer unsub()
	mock := &mockSender{err: &remote.APIError{StatusCode: 402, Message: "insufficient balance"}}
	net := &netState{online: true}
	c := NewComposer(db, net, nil, nil, nil)
	q, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "x"})

	NewSender(db, "u1", mock, net, b, nil, time.Hour).Drain(context.Background())

	got, _ := db.GetBatch(q.BatchID)
	if got.Status != store.BatchFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
	evt := <-ch
	payload := evt.Payload.(map[string]string)
	if payload["batch_id"] != q.BatchID {
		t.Errorf("payload = %v", payload)
	}
}

func TestSenderRequeuesOnConnectivityLoss(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1")
	net := &netState{online: true}
	mock := &mockSender{err: fmt.Errorf("%w: connection refused", remote.ErrOffline)}
	c := NewComposer(db, net, nil, nil, nil)
	first, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "a", Priority: 3})
	_, _ = c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "b"})

	s := NewSender(db, "u1", mock, net, nil, nil, time.Hour)
	s.Drain(context.Background())
	if mock.count() != 1 {
		t.Errorf("send attempts = %d, want 1", mock.count())
	}

	got, _ := db.GetBatch(first.BatchID)
	if got.Status != store.BatchFailed {
		t.Fatalf("interrupted batch status = %s, want failed", got.Status)
	}
	if _, err := c.Retry(first.BatchID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of requeued batch error = %v, want ErrNotRetryable", err)
	}

	pending := store.BatchPending
	left, _ := db.ListBatches("u1", &pending)
	if len(left) != 2 {
		t.Fatalf("pending after offline = %d, want 2", len(left))
	}
	cp := left[0]
	if cp.Message != "a" || cp.Priority != 3 || cp.MessageID != got.MessageID || cp.ID == first.BatchID {
		t.Errorf("requeued copy = %+v", cp)
	}

	// Once delivery works again nothing is lost.
	mock.mu.Lock()
	mock.err = nil
	mock.mu.Unlock()
	if n := s.Drain(context.Background()); n != 2 {
		t.Errorf("drained %d after recovery, want 2", n)
	}
}

func TestSenderLeavesQueueWhenNotReady(t *testing.T) {
	db := testDB(t)
	seedContacts(t, db, "u1", "c1")
	net := &netState{online: true}
	mock := &mockSender{notReady: fmt.Errorf("%w: broker down", remote.ErrOffline)}
	c := NewComposer(db, net, nil, nil, nil)
	for _, text := range []string{"a", "b", "c"} {
		_, _ = c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: text})
	}

	s := NewSender(db, "u1", mock, net, nil, nil, time.Hour)
	for range 3 {
		s.Drain(context.Background())
	}
	if mock.count() != 0 {
		t.Errorf("send attempts = %d while not ready, want 0", mock.count())
	}
	counts, _ := db.GetStorageCounts("u1")
	pending := store.BatchPending
	left, _ := db.ListBatches("u1", &pending)
	if len(left) != 3 || counts.QueuedBatches != 3 {
		t.Errorf("pending = %d of %d, want all 3 untouched", len(left), counts.QueuedBatches)
	}
}

func TestSenderFailsUnknownRecipients(t *testing.T) {
	db := testDB(t)
	net := &netState{online: true}
	mock := &mockSender{}
	c := NewComposer(db, net, nil, nil, nil)
	q, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"ghost"}, Text: "x"})

	NewSender(db, "u1", mock, net, nil, nil, time.Hour).Drain(context.Background())
	if mock.count() != 0 {
		t.Error("batch without resolvable recipients was sent")
	}
	got, _ := db.GetBatch(q.BatchID)
	if got.Status != store.BatchFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestSenderRecoversInterrupted(t *testing.T) {
	db := testDB(t)
	c := NewComposer(db, nil, nil, nil, nil)
	q, _ := c.Send(ComposeRequest{UserID: "u1", ContactIDs: []string{"c1"}, Text: "x"})
	_ = db.UpdateBatchStatus(q.BatchID, store.BatchSending, "")

	s := NewSender(db, "u1", &mockSender{}, &netState{}, nil, nil, time.Hour)
	s.Start(context.Background())
	s.Stop()

	got, _ := db.GetBatch(q.BatchID)
	if got.Status != store.BatchFailed || got.ErrorMessage == "" {
		t.Errorf("batch = %+v, want failed with reason", got)
	}
}
