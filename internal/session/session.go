// Package session holds the decrypted secret set in memory for a bounded
// time. Exactly one session exists per agent process; it is replaced
// wholesale on re-unlock and destroyed on lock, expiry, or shutdown.
//
// Readers (Status, ReadAll) run concurrently under a read lock; Begin and
// Lock take the write lock, so clearing or replacing the secret memory
// always waits out in-flight reads and a reader can never observe a
// partially zeroized mapping.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lazylocker/lazylocker/internal/secmem"
)

// ErrLocked is returned by ReadAll when no session is active, either
// because the agent was never unlocked or because the TTL elapsed.
var ErrLocked = errors.New("session: locked")

// Manager owns the single in-memory session. The zero value is not
// usable; construct with NewManager.
type Manager struct {
	mu      sync.RWMutex
	secrets map[string][]byte
	// expiresAt is fixed at Begin time. The TTL is absolute: nothing but
	// a fresh Begin may extend it.
	expiresAt time.Time
	timer     *time.Timer
	// gen counts Begin calls. The expiry timer captures the generation it
	// was armed for, so a stale timer that fires after a re-unlock cannot
	// purge the new session.
	gen uint64
}

// NewManager returns a Manager in the locked state.
func NewManager() *Manager {
	return &Manager{}
}

// Begin installs a new session holding the given secrets for ttl,
// replacing and zeroizing any previous session first. The manager takes
// ownership of the secret values; callers must not retain them.
//
// A non-positive ttl leaves the manager locked.
func (m *Manager) Begin(secrets map[string][]byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()
	if ttl <= 0 {
		secmem.ZeroMap(secrets)
		return
	}

	m.secrets = secrets
	m.expiresAt = time.Now().Add(ttl)
	m.gen++
	gen := m.gen
	// Proactive purge at expiry; unlockedLocked guards the window between
	// the deadline passing and the timer firing.
	m.timer = time.AfterFunc(ttl, func() { m.expire(gen) })
}

// expire is the timer callback for the session generation gen.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.clearLocked()
	}
}

// Status reports the lock state and the remaining TTL. It always
// succeeds. The remaining duration is zero while locked. The clock is
// read exactly once, so an unlocked result always carries a positive
// remaining duration: nothing can observe unlocked state at or past the
// deadline.
func (m *Manager) Status() (locked bool, remaining time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	if !m.activeAt(now) {
		return true, 0
	}
	return false, m.expiresAt.Sub(now)
}

// ReadAll returns a copy of the current secrets, or ErrLocked if no
// session is active. Mutating the returned mapping does not affect the
// session.
func (m *Manager) ReadAll() (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.activeAt(time.Now()) {
		return nil, ErrLocked
	}

	out := make(map[string][]byte, len(m.secrets))
	for name, value := range m.secrets {
		copied := make([]byte, len(value))
		copy(copied, value)
		out[name] = copied
	}
	return out, nil
}

// Lock clears and zeroizes the secret memory immediately, regardless of
// remaining TTL. It is idempotent and safe to call concurrently with
// readers; it waits for in-flight reads to complete.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// Close releases the session on agent shutdown. Equivalent to Lock.
func (m *Manager) Close() {
	m.Lock()
}

// Keys returns the sorted names of the current secrets without their
// values, or ErrLocked if no session is active.
func (m *Manager) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.activeAt(time.Now()) {
		return nil, ErrLocked
	}

	names := make([]string, 0, len(m.secrets))
	for name := range m.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// activeAt reports whether a session is active at the given instant.
// Callers must hold at least the read lock and pass a single time.Now()
// capture, so the expiry decision and any duration derived from it agree
// on one instant. The time check makes expiry visible even before the
// purge timer has fired.
func (m *Manager) activeAt(now time.Time) bool {
	return m.secrets != nil && now.Before(m.expiresAt)
}

// clearLocked zeroizes and drops the secret mapping and stops the expiry
// timer. Callers must hold the write lock.
func (m *Manager) clearLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.secrets != nil {
		secmem.ZeroMap(m.secrets)
		m.secrets = nil
	}
	m.expiresAt = time.Time{}
}
