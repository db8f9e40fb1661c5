// Package contacts manages the user's address book: online writes go to
// the backend first, offline writes stay local-only until the next sync.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/store"
	"go.uber.org/zap"
)

var (
	ErrInvalidContact  = errors.New("contact needs a name and a phone number")
	ErrNothingToImport = errors.New("no contacts to import")
)

// Connectivity reports whether the backend was last seen reachable.
type Connectivity interface {
	IsOnline() bool
}

// Entry is a name and phone number typed or picked by the user.
type Entry struct {
	Name  string
	Phone string
}

// Outcome is the result of a write. Offline means the change was only
// applied to the cache.
type Outcome struct {
	Contacts []store.CachedContact
	Offline  bool
}

// Service applies contact changes to the backend and the cache.
type Service struct {
	db       *store.DB
	client   remote.Client
	net      Connectivity
	advisory *advisory.Advisory
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a contact service. net and adv may be nil; a nil net
// is treated as offline.
func NewService(db *store.DB, client remote.Client, net Connectivity, adv *advisory.Advisory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, client: client, net: net, advisory: adv, logger: logger, now: time.Now}
}

func (s *Service) online() bool {
	return s.net != nil && s.net.IsOnline()
}

func (s *Service) wentOffline() {
	if s.advisory != nil {
		s.advisory.Raise(advisory.OfflineMessage, advisory.DefaultTTL)
	}
}

func clean(entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		e.Phone = strings.TrimSpace(e.Phone)
		if e.Name == "" || e.Phone == "" {
			return nil, fmt.Errorf("%w: name %q, phone %q", ErrInvalidContact, e.Name, e.Phone)
		}
		out = append(out, e)
	}
	return out, nil
}

// List returns the cached contacts in name order.
func (s *Service) List(userID string) ([]store.CachedContact, error) {
	return s.db.ListContactsForUser(userID)
}

// Add creates a contact on the backend and caches it as synced. When the
// backend is unreachable the contact is saved local-only instead. A
// rejection by the backend is returned and nothing is stored.
func (s *Service) Add(ctx context.Context, userID string, e Entry) (*Outcome, error) {
	entries, err := clean([]Entry{e})
	if err != nil {
		return nil, err
	}
	e = entries[0]

	if s.online() {
		created, err := s.client.CreateContact(ctx, remote.NewContact{Name: e.Name, Phone: e.Phone, Source: string(store.SourceManual)})
		switch {
		case err == nil:
			saved, err := s.db.SaveServerContacts(userID, []store.CachedContact{fromServer(*created, store.SourceManual)})
			if err != nil {
				return nil, err
			}
			s.logger.Info("contact added", zap.String("contact_id", saved[0].ID))
			return &Outcome{Contacts: saved}, nil
		case !errors.Is(err, remote.ErrOffline):
			return nil, fmt.Errorf("create contact: %w", err)
		}
		s.logger.Info("backend unreachable, saving contact locally", zap.Error(err))
	}
	return s.saveLocal(userID, store.SourceManual, entries)
}

// Import adds phonebook contacts in one backend request. Offline, every
// entry is saved local-only and pushed by the next reconciliation.
func (s *Service) Import(ctx context.Context, userID string, entries []Entry) (*Outcome, error) {
	if len(entries) == 0 {
		return nil, ErrNothingToImport
	}
	entries, err := clean(entries)
	if err != nil {
		return nil, err
	}

	if s.online() {
		batch := make([]remote.NewContact, 0, len(entries))
		for _, e := range entries {
			batch = append(batch, remote.NewContact{Name: e.Name, Phone: e.Phone, Source: string(store.SourcePhonebook)})
		}
		created, err := s.client.BulkCreateContacts(ctx, batch)
		switch {
		case err == nil:
			rows := make([]store.CachedContact, 0, len(created))
			for _, c := range created {
				rows = append(rows, fromServer(c, store.SourcePhonebook))
			}
			saved, err := s.db.SaveServerContacts(userID, rows)
			if err != nil {
				return nil, err
			}
			s.logger.Info("contacts imported", zap.Int("count", len(saved)))
			return &Outcome{Contacts: saved}, nil
		case !errors.Is(err, remote.ErrOffline):
			return nil, fmt.Errorf("import contacts: %w", err)
		}
		s.logger.Info("backend unreachable, importing locally", zap.Error(err))
	}
	return s.saveLocal(userID, store.SourcePhonebook, entries)
}

func (s *Service) saveLocal(userID string, source store.ContactSource, entries []Entry) (*Outcome, error) {
	s.wentOffline()
	now := s.now()
	out := &Outcome{Offline: true}
	for _, e := range entries {
		c := store.CachedContact{
			ID:        "local-" + uuid.NewString(),
			UserID:    userID,
			Name:      e.Name,
			Phone:     e.Phone,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.db.UpsertContact(&c); err != nil {
			return nil, err
		}
		out.Contacts = append(out.Contacts, c)
	}
	s.logger.Info("contacts saved locally", zap.Int("count", len(out.Contacts)))
	return out, nil
}

// Delete removes a contact from the backend and then from the cache. A
// local-only contact never reached the backend and is only removed from
// the cache. Offline, a synced contact is removed from the cache only and
// comes back with the next reconciliation if the backend still has it.
func (s *Service) Delete(ctx context.Context, userID, contactID string) (*Outcome, error) {
	c, err := s.db.GetContact(userID, contactID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Contacts: []store.CachedContact{*c}}

	if c.ServerID != "" {
		if !s.online() {
			out.Offline = true
		} else {
			err := s.client.DeleteContact(ctx, c.ServerID)
			var apiErr *remote.APIError
			switch {
			case err == nil:
			case errors.Is(err, remote.ErrOffline):
				out.Offline = true
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
				s.logger.Debug("contact already gone upstream", zap.String("server_id", c.ServerID))
			default:
				return nil, fmt.Errorf("delete contact: %w", err)
			}
		}
	}
	if out.Offline {
		s.wentOffline()
	}

	if err := s.db.DeleteContact(userID, contactID); err != nil {
		return nil, err
	}
	s.logger.Info("contact deleted", zap.String("contact_id", contactID), zap.Bool("offline", out.Offline))
	return out, nil
}

func fromServer(c remote.Contact, fallback store.ContactSource) store.CachedContact {
	source := store.ContactSource(c.Source)
	if source == "" {
		source = fallback
	}
	return store.CachedContact{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Source:    source,
		ServerID:  c.ID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
