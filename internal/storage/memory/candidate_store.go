package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// DefaultCandidateLimit bounds a CandidateStore built without WithLimit.
const DefaultCandidateLimit = 10000

// CandidateStore keeps accepted candidates keyed by source URL. It holds at
// most limit entries; once full the oldest entry is evicted and its URL can
// be accepted again.
type CandidateStore struct {
	mu    sync.RWMutex
	byURL map[string]storedCandidate
	order []string
	limit int
}

// CandidateOption customises a CandidateStore.
type CandidateOption func(*CandidateStore)

// WithLimit caps the number of stored candidates. Non-positive values keep
// the default.
func WithLimit(n int) CandidateOption {
	return func(s *CandidateStore) {
		if n > 0 {
			s.limit = n
		}
	}
}

type storedCandidate struct {
	taskID  string
	profile discovery.CandidateProfile
}

// NewCandidateStore creates an empty store.
func NewCandidateStore(opts ...CandidateOption) *CandidateStore {
	s := &CandidateStore{byURL: make(map[string]storedCandidate), limit: DefaultCandidateLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveCandidates stores profiles whose source URL is new and returns how
// many were added.
func (s *CandidateStore) SaveCandidates(_ context.Context, taskID string, profiles []discovery.CandidateProfile) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, p := range profiles {
		key := strings.ToLower(strings.TrimRight(strings.TrimSpace(p.SourceURL), "/"))
		if _, exists := s.byURL[key]; exists {
			continue
		}
		if len(s.order) >= s.limit {
			delete(s.byURL, s.order[0])
			s.order = s.order[1:]
		}
		s.byURL[key] = storedCandidate{taskID: taskID, profile: p.Clone()}
		s.order = append(s.order, key)
		added++
	}
	return added, nil
}

// Len reports how many candidates are held.
func (s *CandidateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns stored candidates in insertion order.
func (s *CandidateStore) All() []discovery.CandidateProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.CandidateProfile, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byURL[key].profile.Clone())
	}
	return out
}

// ForTask returns candidates first stored by taskID.
func (s *CandidateStore) ForTask(taskID string) []discovery.CandidateProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []discovery.CandidateProfile
	for _, key := range s.order {
		if c := s.byURL[key]; c.taskID == taskID {
			out = append(out, c.profile.Clone())
		}
	}
	return out
}
