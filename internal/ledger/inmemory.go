package ledger

import (
	"context"
	"sync"
)

type balanceKey struct {
	asset   AssetID
	account AccountID
}

type approvalKey struct {
	owner    AccountID
	operator AccountID
}

// memoryState holds the mappings without any locking; inMemoryStore guards it.
type memoryState struct {
	balances      map[balanceKey]Amount
	supplies      map[AssetID]Amount
	descriptors   map[AssetID][]byte
	approvals     map[approvalKey]bool
	mintApprovals map[balanceKey]bool
	assetCount    Amount
}

type inMemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests and the development profile.
func NewInMemory() Store {
	return &inMemoryStore{state: &memoryState{
		balances:      make(map[balanceKey]Amount),
		supplies:      make(map[AssetID]Amount),
		descriptors:   make(map[AssetID][]byte),
		approvals:     make(map[approvalKey]bool),
		mintApprovals: make(map[balanceKey]bool),
	}}
}

func (s *inMemoryStore) Balance(ctx context.Context, asset AssetID, account AccountID) (Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Balance(ctx, asset, account)
}

func (s *inMemoryStore) TotalSupply(ctx context.Context, asset AssetID) (Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TotalSupply(ctx, asset)
}

func (s *inMemoryStore) Descriptor(ctx context.Context, asset AssetID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Descriptor(ctx, asset)
}

func (s *inMemoryStore) AssetCount(ctx context.Context) (Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AssetCount(ctx)
}

func (s *inMemoryStore) OperatorApproval(ctx context.Context, owner, operator AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.OperatorApproval(ctx, owner, operator)
}

func (s *inMemoryStore) MintApproval(ctx context.Context, asset AssetID, account AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.MintApproval(ctx, asset, account)
}

func (s *inMemoryStore) Commit(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.checkGuards(ctx, s.state); err != nil {
		return err
	}
	// Applying to maps cannot fail, so once the guards hold every write lands.
	for _, w := range b.writes {
		s.state.apply(w)
	}
	return nil
}

func (s *inMemoryStore) Ping(context.Context) error { return nil }

func (s *inMemoryStore) Close() error { return nil }

func (m *memoryState) Balance(_ context.Context, asset AssetID, account AccountID) (Amount, error) {
	amount, ok := m.balances[balanceKey{asset, account}]
	if !ok {
		return Amount{}, ErrNotFound
	}
	return amount, nil
}

func (m *memoryState) TotalSupply(_ context.Context, asset AssetID) (Amount, error) {
	amount, ok := m.supplies[asset]
	if !ok {
		return Amount{}, ErrNotFound
	}
	return amount, nil
}

func (m *memoryState) Descriptor(_ context.Context, asset AssetID) ([]byte, error) {
	data, ok := m.descriptors[asset]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *memoryState) AssetCount(context.Context) (Amount, error) {
	return m.assetCount, nil
}

func (m *memoryState) OperatorApproval(_ context.Context, owner, operator AccountID) (bool, error) {
	approved, ok := m.approvals[approvalKey{owner, operator}]
	if !ok {
		return false, ErrNotFound
	}
	return approved, nil
}

func (m *memoryState) MintApproval(_ context.Context, asset AssetID, account AccountID) (bool, error) {
	approved, ok := m.mintApprovals[balanceKey{asset, account}]
	if !ok {
		return false, ErrNotFound
	}
	return approved, nil
}

func (m *memoryState) apply(w write) {
	switch w.kind {
	case writeBalance:
		key := balanceKey{w.asset, w.account}
		if w.remove {
			delete(m.balances, key)
			return
		}
		m.balances[key] = w.amount
	case writeTotalSupply:
		m.supplies[w.asset] = w.amount
	case writeDescriptor:
		m.descriptors[w.asset] = w.data
	case writeAssetCount:
		m.assetCount = w.amount
	case writeOperatorApproval:
		m.approvals[approvalKey{w.account, w.operator}] = w.flag
	case writeMintApproval:
		m.mintApprovals[balanceKey{w.asset, w.account}] = w.flag
	}
}
