package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/smsq/internal/bus"
	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/store"
	"go.uber.org/zap"
)

// DefaultDrainInterval is how often the sender polls the queue.
const DefaultDrainInterval = 500 * time.Millisecond

// BatchSender delivers one batch to its recipients. Ready reports whether
// a send can be attempted now; a non-nil error leaves the queue untouched.
type BatchSender interface {
	Ready(ctx context.Context) error
	SendBatch(ctx context.Context, b remote.Batch) error
}

// Sender drains the user's pending batches while the backend is reachable.
type Sender struct {
	db       *store.DB
	userID   string
	sender   BatchSender
	net      Connectivity
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender. A zero interval uses DefaultDrainInterval.
func NewSender(db *store.DB, userID string, sender BatchSender, net Connectivity, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Sender{
		db:       db,
		userID:   userID,
		sender:   sender,
		net:      net,
		bus:      b,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start fails batches left in sending by a previous run and begins polling.
func (s *Sender) Start(ctx context.Context) {
	s.recoverInterrupted()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// recoverInterrupted marks batches stuck in sending as failed. Delivery
// state of such a batch is unknown, so it is not resent automatically.
func (s *Sender) recoverInterrupted() {
	status := store.BatchSending
	stuck, err := s.db.ListBatches(s.userID, &status)
	if err != nil {
		s.logger.Error("failed to read interrupted batches", zap.Error(err))
		return
	}
	for _, b := range stuck {
		if err := s.db.UpdateBatchStatus(b.ID, store.BatchFailed, "interrupted while sending"); err != nil {
			s.logger.Error("failed to fail interrupted batch", zap.Error(err), zap.String("batch_id", b.ID))
			continue
		}
		s.logger.Warn("interrupted batch marked failed", zap.String("batch_id", b.ID))
	}
}

// Drain sends every due pending batch in priority order. It does nothing
// while offline or while the batch sender is not ready, and stops early if
// the backend becomes unreachable.
func (s *Sender) Drain(ctx context.Context) int {
	if s.net != nil && !s.net.IsOnline() {
		return 0
	}
	if err := s.sender.Ready(ctx); err != nil {
		s.logger.Warn("batch sender not ready", zap.Error(err))
		return 0
	}
	status := store.BatchPending
	pending, err := s.db.ListBatches(s.userID, &status)
	if err != nil {
		s.logger.Error("failed to read queue", zap.Error(err))
		return 0
	}

	sent := 0
	now := s.now()
	for _, b := range pending {
		if ctx.Err() != nil {
			return sent
		}
		if b.ScheduledAt != nil && b.ScheduledAt.After(now) {
			continue
		}
		ok, offline := s.process(ctx, &b)
		if ok {
			sent++
		}
		if offline {
			return sent
		}
	}
	return sent
}

func (s *Sender) process(ctx context.Context, b *store.QueuedBatch) (ok, offline bool) {
	if err := s.db.UpdateBatchStatus(b.ID, store.BatchSending, ""); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("batch_id", b.ID))
		return false, false
	}
	s.bus.Emit(bus.KindBatchSending, b.ID)

	recipients, err := s.resolve(b)
	if err == nil {
		err = s.sender.SendBatch(ctx, remote.Batch{
			ID:         b.ID,
			UserID:     b.UserID,
			Message:    b.Message,
			Recipients: recipients,
		})
	}
	if err != nil {
		s.logger.Error("failed to send batch", zap.Error(err), zap.String("batch_id", b.ID))
		offline = errors.Is(err, remote.ErrOffline)
		msg := err.Error()
		var copyID string
		if offline {
			copyID = s.requeue(b)
			if copyID != "" {
				msg += requeuedNote + copyID
			}
		}
		if uerr := s.db.UpdateBatchStatus(b.ID, store.BatchFailed, msg); uerr != nil {
			s.logger.Error("failed to mark failed", zap.Error(uerr), zap.String("batch_id", b.ID))
		}
		s.bus.Emit(bus.KindBatchFailed, map[string]string{
			"batch_id":    b.ID,
			"error":       err.Error(),
			"requeued_as": copyID,
		})
		return false, offline
	}

	if err := s.db.UpdateBatchStatus(b.ID, store.BatchCompleted, ""); err != nil {
		s.logger.Error("failed to mark completed", zap.Error(err), zap.String("batch_id", b.ID))
	}
	s.logger.Info("batch sent", zap.String("batch_id", b.ID), zap.Int("recipients", len(recipients)))
	s.bus.Emit(bus.KindBatchCompleted, b.ID)
	return true, false
}

// requeue queues a pending copy of a batch whose send was cut off by a
// connectivity loss. The copy keeps the original message id, priority,
// schedule and creation time, so it drains in the same place.
func (s *Sender) requeue(b *store.QueuedBatch) string {
	cp := &store.QueuedBatch{
		ID:          uuid.NewString(),
		UserID:      b.UserID,
		MessageID:   b.MessageID,
		ContactIDs:  b.ContactIDs,
		Message:     b.Message,
		Priority:    b.Priority,
		ScheduledAt: b.ScheduledAt,
		CreatedAt:   b.CreatedAt,
	}
	if err := s.db.EnqueueBatch(cp); err != nil {
		s.logger.Error("failed to requeue batch", zap.Error(err), zap.String("batch_id", b.ID))
		return ""
	}
	s.logger.Info("batch requeued after connectivity loss", zap.String("batch_id", b.ID), zap.String("copy_id", cp.ID))
	s.bus.Emit(bus.KindBatchQueued, cp.ID)
	return cp.ID
}

const requeuedNote = "; requeued as "

var errNoRecipients = errors.New("none of the batch recipients are in the contact cache")

func (s *Sender) resolve(b *store.QueuedBatch) ([]remote.Recipient, error) {
	contacts, err := s.db.GetContactsByID(b.UserID, b.ContactIDs)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, errNoRecipients
	}
	out := make([]remote.Recipient, 0, len(contacts))
	for _, c := range contacts {
		id := c.ServerID
		if id == "" {
			id = c.ID
		}
		out = append(out, remote.Recipient{Name: c.Name, Phone: c.Phone, ContactID: id})
	}
	return out, nil
}
