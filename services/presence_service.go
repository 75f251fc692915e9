package services

import (
	"sync"
	"time"
)

// PresenceState is a user's last-known connection state.
type PresenceState struct {
	Online    bool
	ChangedAt time.Time

	// arrival orders transitions by when the tracker observed them,
	// independent of client clocks.
	arrival uint64
}

// PresenceService records online/offline transitions reported by the
// transport layer's connect and disconnect hooks. It never infers
// liveness on its own, and an unknown user is simply offline.
// Last write wins, ordered by arrival at the tracker.
type PresenceService struct {
	mu      sync.RWMutex
	arrival uint64
	states  map[string]PresenceState
}

func NewPresenceService() *PresenceService {
	return &PresenceService{states: make(map[string]PresenceState)}
}

func (s *PresenceService) SetOnline(userID string) {
	s.record(userID, true)
}

func (s *PresenceService) SetOffline(userID string) {
	s.record(userID, false)
}

func (s *PresenceService) record(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrival++
	s.states[userID] = PresenceState{
		Online:    online,
		ChangedAt: time.Now().UTC(),
		arrival:   s.arrival,
	}
}

func (s *PresenceService) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[userID].Online
}

func (s *PresenceService) State(userID string) PresenceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[userID]
}

// Online returns the ids of every user currently marked online.
func (s *PresenceService) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var online []string
	for userID, state := range s.states {
		if state.Online {
			online = append(online, userID)
		}
	}
	return online
}
