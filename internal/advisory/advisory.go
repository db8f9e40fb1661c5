// Package advisory holds the dismissable offline warning shown to the user.
package advisory

import (
	"sync"
	"time"

	"github.com/matheus3301/smsq/internal/bus"
)

// OfflineMessage is the text raised when the backend cannot be reached.
const OfflineMessage = "You're offline. Messages will be queued and sent when you reconnect."

// DefaultTTL is how long an advisory stays visible unless dismissed.
const DefaultTTL = 5 * time.Second

// Advisory holds at most one transient message.
type Advisory struct {
	mu      sync.RWMutex
	message string
	expires time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// New creates an empty advisory. b may be nil.
func New(b *bus.Bus) *Advisory {
	return &Advisory{bus: b, now: time.Now}
}

// Raise stores msg until ttl elapses or Dismiss is called.
func (a *Advisory) Raise(msg string, ttl time.Duration) {
	a.mu.Lock()
	a.message = msg
	a.expires = a.now().Add(ttl)
	a.mu.Unlock()
	a.bus.Emit(bus.KindAdvisoryRaised, msg)
}

// Dismiss clears the current message.
func (a *Advisory) Dismiss() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.message = ""
	a.expires = time.Time{}
}

// Current returns the active message, or empty if dismissed or expired.
func (a *Advisory) Current() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.now().Before(a.expires) {
		return ""
	}
	return a.message
}
