package spoof

import (
	"errors"
	"net/netip"
	"sort"
	"sync"

	"github.com/projectdiscovery/kancut/pkg/types"
)

// ErrConflict is returned when an active session already poisons the same
// target on the same interface
var ErrConflict = errors.New("session conflict")

type targetKey struct {
	ip    netip.Addr
	iface string
}

// Registry tracks every admitted session
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	targets  map[targetKey]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		targets:  make(map[targetKey]string),
	}
}

// Admit inserts s unless a session for the same target and interface is
// registered. The check and the insert are one step.
func (r *Registry) Admit(s *Session) error {
	key := targetKey{ip: s.targetIP, iface: s.iface}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.targets[key]; ok {
		return types.NewSpoofingError(ErrConflict, "target %s on %s is already spoofed by session %s", s.targetIP, s.iface, id)
	}
	r.sessions[s.id] = s
	r.targets[key] = s.id
	return nil
}

// Remove drops s, it is a no-op for unknown sessions
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		return
	}
	delete(r.sessions, s.id)
	key := targetKey{ip: s.targetIP, iface: s.iface}
	if r.targets[key] == s.id {
		delete(r.targets, key)
	}
}

// Get returns the session with the given id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Stop signals the session with the given id, see Session.Stop
func (r *Registry) Stop(id string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	return s.Stop()
}

// StopAll signals every session and returns them so callers can wait on Done
func (r *Registry) StopAll() []*Session {
	sessions := r.all()
	for _, s := range sessions {
		s.Stop()
	}
	return sessions
}

// List returns snapshots of all registered sessions, oldest first
func (r *Registry) List() []types.SessionSnapshot {
	sessions := r.all()
	out := make([]types.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].createdAt.Equal(sessions[j].createdAt) {
			return sessions[i].createdAt.Before(sessions[j].createdAt)
		}
		return sessions[i].id < sessions[j].id
	})
	return sessions
}

// IsConflict reports whether err is a registry admission conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
