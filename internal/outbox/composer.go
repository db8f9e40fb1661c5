// Package outbox queues composed messages and drains them when online.
package outbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/bus"
	"github.com/matheus3301/smsq/internal/store"
	"go.uber.org/zap"
)

// DefaultPriority is the priority of a batch composed without one.
const DefaultPriority = 1

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrNoRecipients   = errors.New("no recipients selected")
	ErrEmptyDraft     = errors.New("draft has neither text nor recipients")
	ErrNotCancellable = errors.New("batch is no longer pending")
	ErrNotRetryable   = errors.New("only failed batches can be retried")
)

// Connectivity reports whether the backend was last seen reachable.
type Connectivity interface {
	IsOnline() bool
}

// ComposeRequest is a message the user asked to send.
type ComposeRequest struct {
	UserID      string
	ContactIDs  []string
	Text        string
	Priority    int        // zero means DefaultPriority
	ScheduledAt *time.Time // nil sends as soon as possible
}

// Queued is the outcome of Send.
type Queued struct {
	BatchID   string
	MessageID string
	Offline   bool // queued while offline; delivery waits for reconnect
	Estimate  Estimate
}

// DraftRequest is a composition to keep for later.
type DraftRequest struct {
	UserID     string
	ID         string // empty creates a new draft
	Title      string // empty defaults to "Draft <date>"
	Text       string
	ContactIDs []string
}

// ComposeSession is a draft loaded back into the compose flow.
type ComposeSession struct {
	DraftID        string
	Text           string
	ContactIDs     []string
	RecipientCount int
}

// Composer turns compose actions into durable store records.
type Composer struct {
	db       *store.DB
	net      Connectivity
	advisory *advisory.Advisory
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewComposer creates a composer. net, adv and b may be nil.
func NewComposer(db *store.DB, net Connectivity, adv *advisory.Advisory, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{db: db, net: net, advisory: adv, bus: b, logger: logger, now: time.Now}
}

func (c *Composer) online() bool {
	return c.net != nil && c.net.IsOnline()
}

// Send queues a message for delivery. It never talks to the network: the
// batch is always persisted first, and the sender drains it once online.
func (c *Composer) Send(req ComposeRequest) (*Queued, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(req.ContactIDs) == 0 {
		return nil, ErrNoRecipients
	}
	priority := req.Priority
	if priority == 0 {
		priority = DefaultPriority
	}

	b := &store.QueuedBatch{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		MessageID:   uuid.NewString(),
		ContactIDs:  req.ContactIDs,
		Message:     text,
		Priority:    priority,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   c.now(),
	}
	if err := c.db.EnqueueBatch(b); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}

	q := &Queued{
		BatchID:   b.ID,
		MessageID: b.MessageID,
		Offline:   !c.online(),
		Estimate:  EstimateMessage(text, len(req.ContactIDs)),
	}
	if q.Offline && c.advisory != nil {
		c.advisory.Raise(advisory.OfflineMessage, advisory.DefaultTTL)
	}
	c.logger.Info("batch queued",
		zap.String("batch_id", b.ID),
		zap.Int("recipients", len(b.ContactIDs)),
		zap.Bool("offline", q.Offline))
	c.bus.Emit(bus.KindBatchQueued, b.ID)
	return q, nil
}

// Retry queues a copy of a failed batch. The failed record is kept. A
// batch the sender already requeued is not retryable.
func (c *Composer) Retry(batchID string) (*Queued, error) {
	b, err := c.db.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != store.BatchFailed || strings.Contains(b.ErrorMessage, requeuedNote) {
		return nil, ErrNotRetryable
	}
	return c.Send(ComposeRequest{
		UserID:     b.UserID,
		ContactIDs: b.ContactIDs,
		Text:       b.Message,
		Priority:   b.Priority,
	})
}

// Cancel removes a batch that has not started sending.
func (c *Composer) Cancel(batchID string) error {
	b, err := c.db.GetBatch(batchID)
	if err != nil {
		return err
	}
	if b.Status != store.BatchPending {
		return ErrNotCancellable
	}
	return c.db.DeleteBatch(batchID)
}

// SaveDraft stores the composition. Text is kept as typed.
func (c *Composer) SaveDraft(req DraftRequest) (*store.DraftMessage, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.ContactIDs) == 0 {
		return nil, ErrEmptyDraft
	}
	now := c.now()
	d := &store.DraftMessage{
		ID:         req.ID,
		UserID:     req.UserID,
		Title:      req.Title,
		Content:    req.Text,
		ContactIDs: req.ContactIDs,
		UpdatedAt:  now,
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
		d.CreatedAt = now
	} else if existing, err := c.db.GetDraft(req.UserID, req.ID); err == nil {
		d.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if d.Title == "" {
		d.Title = "Draft " + now.Format("2006-01-02")
	}
	if err := c.db.UpsertDraft(d); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// LoadDraft returns a draft ready to continue composing. The draft itself
// is left in place.
func (c *Composer) LoadDraft(userID, draftID string) (*ComposeSession, error) {
	d, err := c.db.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}
	return &ComposeSession{
		DraftID:        d.ID,
		Text:           d.Content,
		ContactIDs:     d.ContactIDs,
		RecipientCount: d.RecipientCount,
	}, nil
}

// ListDrafts returns the user's drafts, most recently edited first.
func (c *Composer) ListDrafts(userID string) ([]store.DraftMessage, error) {
	return c.db.ListDraftsForUser(userID)
}

// DeleteDraft discards a draft.
func (c *Composer) DeleteDraft(userID, draftID string) error {
	if _, err := c.db.GetDraft(userID, draftID); err != nil {
		return err
	}
	return c.db.DeleteDraft(userID, draftID)
}
