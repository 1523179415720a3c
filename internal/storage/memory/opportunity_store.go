package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// OpportunityStore keeps opportunities keyed by fingerprint. The check and
// insert happen under one lock, so concurrent duplicates converge to one row.
type OpportunityStore struct {
	mu   sync.RWMutex
	rows map[string]crawler.StoredOpportunity
	seq  int
}

// NewOpportunityStore constructs an empty store.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{rows: make(map[string]crawler.StoredOpportunity)}
}

// InsertIfAbsent stores opp unless its fingerprint is already present.
func (s *OpportunityStore) InsertIfAbsent(_ context.Context, opp crawler.StoredOpportunity) (string, bool, error) {
	if opp.Fingerprint == "" {
		return "", false, fmt.Errorf("fingerprint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[opp.Fingerprint]; exists {
		return "", false, nil
	}
	s.seq++
	opp.ID = fmt.Sprintf("opp-%d", s.seq)
	s.rows[opp.Fingerprint] = opp
	return opp.ID, true, nil
}

// All returns every stored row.
func (s *OpportunityStore) All() []crawler.StoredOpportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.StoredOpportunity, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out
}

// Len reports the number of stored rows.
func (s *OpportunityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
