package sync

import (
	"context"

	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/bus"
	"github.com/matheus3301/smsq/internal/network"
	"go.uber.org/zap"
)

// Engine triggers contact reconciliation for the signed-in user once at
// start and again on every offline to online transition.
type Engine struct {
	reconciler *Reconciler
	userID     string
	bus        *bus.Bus
	advisory   *advisory.Advisory
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine. adv may be nil.
func NewEngine(r *Reconciler, userID string, b *bus.Bus, adv *advisory.Advisory, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reconciler: r,
		userID:     userID,
		bus:        b,
		advisory:   adv,
		logger:     logger,
	}
}

// Start subscribes to connectivity events and runs the initial refresh.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("network.", 16)

	go func() {
		defer close(e.done)
		defer unsub()
		e.Sync(ctx)
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for any running reconciliation.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	if evt.Kind != bus.KindNetworkStatusChanged {
		return
	}
	change, ok := evt.Payload.(network.StatusChange)
	if !ok {
		return
	}
	switch change.To {
	case network.Offline:
		if e.advisory != nil {
			e.advisory.Raise(advisory.OfflineMessage, advisory.DefaultTTL)
		}
	case network.Online:
		if e.advisory != nil {
			e.advisory.Dismiss()
		}
		if change.Reconnected() {
			e.logger.Info("reconnected, reconciling contacts")
			e.Sync(ctx)
		}
	}
}

// Sync runs one reconciliation for the engine's user and publishes the outcome.
func (e *Engine) Sync(ctx context.Context) {
	if e.userID == "" {
		return
	}
	res, err := e.reconciler.Reconcile(ctx, e.userID)
	if err != nil && res != nil && res.Skipped {
		return
	}
	if err != nil {
		e.logger.Warn("contact reconciliation failed", zap.String("user_id", e.userID), zap.Error(err))
		e.bus.Emit(bus.KindContactsSyncFailed, err)
		return
	}
	e.logger.Info("contacts reconciled",
		zap.Int("contacts", len(res.Contacts)),
		zap.Int("pushed", res.Pushed),
		zap.Int("push_failed", res.PushFailed),
		zap.Bool("offline", res.Offline))
	e.bus.Emit(bus.KindContactsReconciled, res)
}
