package memory

import (
	"context"
	"sort"
	"time"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// UpsertPrincipal inserts or updates a directory entry.
func (s *Store) UpsertPrincipal(ctx context.Context, p *model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	if p.TenantID != nil {
		tenantID := *p.TenantID
		stored.TenantID = &tenantID
	}
	s.principals[p.ID] = &stored
	if _, ok := s.counters[p.ID]; !ok {
		s.counters[p.ID] = 0
	}
	return nil
}

// CreateMessage stores a message and increments every recipient's counter.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) ([]model.CountChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[msg.ID]; ok {
		return nil, repository.ErrMessageExists
	}

	stored := *msg
	stored.Seen = false
	s.messages[msg.ID] = &stored

	receipts := make(map[string]*time.Time)
	s.receipts[msg.ID] = receipts

	var changes []model.CountChange
	for _, id := range s.sortedPrincipalIDs() {
		p := s.principals[id]
		if !p.CanSee(msg) {
			continue
		}
		receipts[id] = nil
		s.counters[id]++
		changes = append(changes, model.CountChange{PrincipalID: id, Count: s.counters[id]})
	}
	return changes, nil
}

// UnseenCount returns a principal's unseen message count.
func (s *Store) UnseenCount(ctx context.Context, principalID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.counters[principalID]
	if !ok {
		return 0, repository.ErrPrincipalNotFound
	}
	return count, nil
}

// MarkSeen zeroes the counter and flags the principal's receipts as seen.
func (s *Store) MarkSeen(ctx context.Context, principalID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.counters[principalID]
	if !ok {
		return false, repository.ErrPrincipalNotFound
	}
	s.counters[principalID] = 0

	changed := previous > 0
	for messageID, receipts := range s.receipts {
		seenAt, ok := receipts[principalID]
		if !ok || seenAt != nil {
			continue
		}
		ts := at
		receipts[principalID] = &ts
		s.messages[messageID].Seen = true
		changed = true
	}
	return changed, nil
}

// DeleteMessage removes a message and lowers unseen recipients' counters.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) ([]model.CountChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return nil, repository.ErrMessageNotFound
	}

	var changes []model.CountChange
	for principalID, seenAt := range s.receipts[messageID] {
		if seenAt != nil {
			continue
		}
		if s.counters[principalID] > 0 {
			s.counters[principalID]--
		}
		changes = append(changes, model.CountChange{PrincipalID: principalID, Count: s.counters[principalID]})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].PrincipalID < changes[j].PrincipalID })

	delete(s.messages, messageID)
	delete(s.receipts, messageID)
	return changes, nil
}

// GetMessage returns a stored message.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, repository.ErrMessageNotFound
	}
	c := *msg
	return &c, nil
}

func (s *Store) sortedPrincipalIDs() []string {
	ids := make([]string, 0, len(s.principals))
	for id := range s.principals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
