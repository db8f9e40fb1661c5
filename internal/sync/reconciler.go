// Package sync reconciles the local contact cache with the backend.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/store"
	"go.uber.org/zap"
)

// ErrInProgress is returned when a reconciliation for the same user is
// already running.
var ErrInProgress = errors.New("reconciliation already in progress")

// Result describes one reconciliation run.
type Result struct {
	Contacts   []store.CachedContact
	Pushed     int
	PushFailed int
	Offline    bool // the backend was unreachable; Contacts is the cached list
	Skipped    bool // another run for the same user was in flight
}

// Reconciler merges local-only contacts with the backend's contact list.
// At most one run per user is in flight at a time.
type Reconciler struct {
	db     *store.DB
	client remote.Client
	logger *zap.Logger

	mu       gosync.Mutex
	inFlight map[string]struct{}
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, client remote.Client, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:       db,
		client:   client,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

func (r *Reconciler) acquire(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[userID]; busy {
		return false
	}
	r.inFlight[userID] = struct{}{}
	return true
}

func (r *Reconciler) release(userID string) {
	r.mu.Lock()
	delete(r.inFlight, userID)
	r.mu.Unlock()
}

// Reconcile pushes every local-only contact, fetches the server list and
// merges it into the cache without dropping contacts whose push failed.
//
// An unreachable backend is not an error: the cached list is returned with
// Offline set. Storage errors and other fetch errors are returned together
// with the best list available.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Result, error) {
	if !r.acquire(userID) {
		return &Result{Skipped: true}, ErrInProgress
	}
	defer r.release(userID)

	local, err := r.db.ListContactsForUser(userID)
	if err != nil {
		return &Result{}, err
	}

	res := &Result{Contacts: local}
	var pushed []string
	for _, c := range local {
		if !c.IsLocalOnly() {
			continue
		}
		created, err := r.client.CreateContact(ctx, remote.NewContact{
			Name:   c.Name,
			Phone:  c.Phone,
			Source: string(c.Source),
		})
		if err != nil {
			r.logger.Warn("contact push failed", zap.String("contact_id", c.ID), zap.Error(err))
			res.PushFailed++
			continue
		}
		if err := r.db.MarkContactSynced(userID, c.ID, created.ID); err != nil {
			return res, err
		}
		pushed = append(pushed, created.ID)
		res.Pushed++
	}

	serverContacts, err := r.client.GetContacts(ctx)
	if errors.Is(err, remote.ErrOffline) {
		r.logger.Info("backend unreachable, using cached contacts", zap.String("user_id", userID))
		res.Offline = true
		return r.snapshot(userID, res)
	}
	if err != nil {
		if _, serr := r.snapshot(userID, res); serr != nil {
			return res, serr
		}
		return res, fmt.Errorf("fetch contacts: %w", err)
	}

	if err := r.db.MergeServerContacts(userID, fromRemote(userID, serverContacts), pushed); err != nil {
		return res, err
	}
	return r.snapshot(userID, res)
}

// Refresh runs a reconciliation and always yields the best list available.
// Only storage errors are returned; remote failures are logged.
func (r *Reconciler) Refresh(ctx context.Context, userID string) ([]store.CachedContact, error) {
	res, err := r.Reconcile(ctx, userID)
	switch {
	case err == nil:
		return res.Contacts, nil
	case store.IsStorageError(err):
		return nil, err
	case errors.Is(err, ErrInProgress):
		r.logger.Debug("reconciliation skipped", zap.String("user_id", userID))
		return r.db.ListContactsForUser(userID)
	default:
		r.logger.Warn("contact sync failed, showing cached contacts", zap.String("user_id", userID), zap.Error(err))
		return res.Contacts, nil
	}
}

func (r *Reconciler) snapshot(userID string, res *Result) (*Result, error) {
	contacts, err := r.db.ListContactsForUser(userID)
	if err != nil {
		return res, err
	}
	res.Contacts = dedupe(contacts)
	return res, nil
}

func fromRemote(userID string, in []remote.Contact) []store.CachedContact {
	out := make([]store.CachedContact, 0, len(in))
	for _, c := range in {
		source := store.ContactSource(c.Source)
		if source == "" {
			source = store.SourceServer
		}
		out = append(out, store.CachedContact{
			ID:        c.ID,
			UserID:    userID,
			Name:      c.Name,
			Phone:     c.Phone,
			Source:    source,
			ServerID:  c.ID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return out
}

func dedupe(contacts []store.CachedContact) []store.CachedContact {
	seen := make(map[string]struct{}, len(contacts))
	out := contacts[:0]
	for _, c := range contacts {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
