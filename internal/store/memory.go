package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/peer-network-service/internal/domain"
)

// MemoryRelationshipStore is a process-local RelationshipStore. Mutations of one pair are serialized
// by a per-key lock; reads work on clones.
type MemoryRelationshipStore struct {
	mu    sync.RWMutex
	rels  map[domain.PairKey]*domain.PeerRelationship
	locks keyedMutex
	now   func() time.Time
}

func NewMemoryRelationshipStore() *MemoryRelationshipStore {
	return &MemoryRelationshipStore{
		rels: make(map[domain.PairKey]*domain.PeerRelationship),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryRelationshipStore) Get(ctx context.Context, a, b string) (*domain.PeerRelationship, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.rels[key]
	if !ok {
		return nil, domain.NewNotFound("relationship", key.String(), domain.ErrRelationshipNotFound)
	}
	return rel.Clone(), nil
}

func (s *MemoryRelationshipStore) Upsert(ctx context.Context, rel *domain.PeerRelationship) error {
	key, err := domain.NewPairKey(rel.CustomerA, rel.CustomerB)
	if err != nil {
		return err
	}
	stored := rel.Clone()
	stored.CustomerA, stored.CustomerB = key.A, key.B
	stored.TrustScore = domain.ClampScore(stored.TrustScore)
	stored.ReliabilityScore = domain.ClampScore(stored.ReliabilityScore)

	unlock := s.locks.Lock(key.String())
	defer unlock()
	s.mu.Lock()
	s.rels[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryRelationshipStore) EnsureRelationship(ctx context.Context, a, b string) (*domain.PeerRelationship, bool, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, false, err
	}
	unlock := s.locks.Lock(key.String())
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.rels[key]; ok {
		return rel.Clone(), false, nil
	}
	rel := domain.NewPeerRelationship(key, s.now())
	s.rels[key] = rel
	return rel.Clone(), true, nil
}

func (s *MemoryRelationshipStore) Seed(ctx context.Context, keys []domain.PairKey) (int, error) {
	now := s.now()
	created := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if _, ok := s.rels[key]; ok {
			continue
		}
		s.rels[key] = domain.NewPeerRelationship(key, now)
		created++
	}
	return created, nil
}

func (s *MemoryRelationshipStore) RecordOutcome(ctx context.Context, a, b string, amount int64, method string, success bool) (*domain.PeerRelationship, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(key.String())
	defer unlock()

	now := s.now()
	s.mu.RLock()
	current, ok := s.rels[key]
	s.mu.RUnlock()
	var rel *domain.PeerRelationship
	if ok {
		rel = current.Clone()
	} else {
		rel = domain.NewPeerRelationship(key, now)
	}
	rel.ApplyOutcome(amount, method, success, now)

	s.mu.Lock()
	s.rels[key] = rel
	s.mu.Unlock()
	return rel.Clone(), nil
}

func (s *MemoryRelationshipStore) ListForCustomer(ctx context.Context, customerID string) ([]*domain.PeerRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PeerRelationship, 0)
	for key, rel := range s.rels {
		if key.A == customerID || key.B == customerID {
			out = append(out, rel.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *MemoryRelationshipStore) CustomersByPaymentMethod(ctx context.Context, method string, exclude string, limit int) ([]string, error) {
	s.mu.RLock()
	latest := make(map[string]time.Time)
	for key, rel := range s.rels {
		if rel.Archived || !rel.CommonPaymentMethods.Contains(method) {
			continue
		}
		for _, id := range []string{key.A, key.B} {
			if id == exclude {
				continue
			}
			if t, seen := latest[id]; !seen || rel.UpdatedAt.After(t) {
				latest[id] = rel.UpdatedAt
			}
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := latest[ids[i]], latest[ids[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryRelationshipStore) Archive(ctx context.Context, a, b string) error {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(key.String())
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.rels[key]
	if !ok {
		return domain.NewNotFound("relationship", key.String(), domain.ErrRelationshipNotFound)
	}
	rel.Archived = true
	rel.UpdatedAt = s.now()
	return nil
}

// MemoryGroupStore is a process-local GroupStore.
type MemoryGroupStore struct {
	mu     sync.RWMutex
	groups map[string]*domain.PeerGroup
	byName map[string]string
	locks  keyedMutex
	now    func() time.Time
}

func NewMemoryGroupStore() *MemoryGroupStore {
	return &MemoryGroupStore{
		groups: make(map[string]*domain.PeerGroup),
		byName: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryGroupStore) Create(ctx context.Context, group *domain.PeerGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[group.ID]; exists {
		return fmt.Errorf("group %s already exists", group.ID)
	}
	if _, taken := s.byName[strings.ToLower(group.Name)]; taken {
		return domain.NewValidationError("name", "is already taken")
	}
	stored := group.Clone()
	s.groups[group.ID] = stored
	s.byName[strings.ToLower(group.Name)] = group.ID
	return nil
}

func (s *MemoryGroupStore) Get(ctx context.Context, groupID string) (*domain.PeerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
	}
	return g.Clone(), nil
}

func (s *MemoryGroupStore) FindByName(ctx context.Context, name string) (*domain.PeerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, domain.NewNotFound("group", name, domain.ErrGroupNotFound)
	}
	return s.groups[id].Clone(), nil
}

func (s *MemoryGroupStore) ListByMember(ctx context.Context, customerID string) ([]*domain.PeerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PeerGroup, 0)
	for _, g := range s.groups {
		if g.HasMember(customerID) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryGroupStore) AddMembers(ctx context.Context, groupID string, members []string, maxMembers int) (*domain.PeerGroup, []string, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
	}
	added := make([]string, 0, len(members))
	for _, m := range members {
		if m == "" || g.HasMember(m) || containsString(added, m) {
			continue
		}
		added = append(added, m)
	}
	if maxMembers > 0 && len(g.Members)+len(added) > maxMembers {
		return nil, nil, &domain.LimitExceededError{
			Scope:     domain.LimitScopeGroupMembers,
			SubjectID: groupID,
			Limit:     int64(maxMembers),
			Current:   int64(len(g.Members)),
			Requested: int64(len(added)),
		}
	}
	if len(added) > 0 {
		g.Members = append(g.Members, added...)
		sort.Strings(g.Members)
		g.UpdatedAt = s.now()
	}
	return g.Clone(), added, nil
}

func (s *MemoryGroupStore) RecordOutcome(ctx context.Context, groupID string, amount int64, success bool) (*domain.PeerGroup, error) {
	unlock := s.locks.Lock(groupID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
	}
	g.ApplyOutcome(amount, success, s.now())
	return g.Clone(), nil
}

// MemoryLedger is a process-local TransactionLedger.
type MemoryLedger struct {
	mu  sync.RWMutex
	txs map[uuid.UUID]*domain.Transaction
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{txs: make(map[uuid.UUID]*domain.Transaction)}
}

func (l *MemoryLedger) Save(ctx context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.txs[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	l.txs[tx.ID] = tx.Clone()
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.txs[id]
	if !ok {
		return nil, domain.NewNotFound("transaction", id.String(), domain.ErrTransactionNotFound)
	}
	return tx.Clone(), nil
}

func (l *MemoryLedger) Update(ctx context.Context, tx *domain.Transaction, from domain.TransferStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.txs[tx.ID]
	if !ok {
		return domain.NewNotFound("transaction", tx.ID.String(), domain.ErrTransactionNotFound)
	}
	if current.Status != from {
		return fmt.Errorf("%w: transaction %s is %s, expected %s", domain.ErrInvalidTransition, tx.ID, current.Status, from)
	}
	l.txs[tx.ID] = tx.Clone()
	return nil
}

func (l *MemoryLedger) SumAmounts(ctx context.Context, customerID string, since time.Time) (int64, error) {
	return l.sum(func(tx *domain.Transaction) bool { return tx.RequesterID == customerID }, since), nil
}

func (l *MemoryLedger) SumGroupAmounts(ctx context.Context, groupID string, since time.Time) (int64, error) {
	return l.sum(func(tx *domain.Transaction) bool { return tx.GroupID != "" && tx.GroupID == groupID }, since), nil
}

func (l *MemoryLedger) sum(match func(*domain.Transaction) bool, since time.Time) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, tx := range l.txs {
		if match(tx) && !tx.CreatedAt.Before(since) && tx.Status.ReservesAllocation() {
			total += tx.Amount
		}
	}
	return total
}

func (l *MemoryLedger) CountSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, tx := range l.txs {
		if tx.RequesterID == customerID && !tx.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) CompletedCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int)
	for _, tx := range l.txs {
		if tx.Status != domain.StatusCompleted || tx.CreatedAt.Before(since) {
			continue
		}
		counts[tx.RequesterID]++
		counts[tx.PeerID]++
	}
	return counts, nil
}

func (l *MemoryLedger) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Transaction, error) {
	out := l.filter(func(tx *domain.Transaction) bool {
		return tx.RequesterID == customerID || tx.PeerID == customerID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (l *MemoryLedger) ListPendingReview(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	out := l.filter(func(tx *domain.Transaction) bool { return tx.Status == domain.StatusPendingReview })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (l *MemoryLedger) filter(match func(*domain.Transaction) bool) []*domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.Transaction, 0)
	for _, tx := range l.txs {
		if match(tx) {
			out = append(out, tx.Clone())
		}
	}
	return out
}

func truncate(txs []*domain.Transaction, limit int) []*domain.Transaction {
	if limit > 0 && len(txs) > limit {
		return txs[:limit]
	}
	return txs
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
