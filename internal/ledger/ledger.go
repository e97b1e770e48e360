package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Ledger applies mint, transfer and approval operations to a Store. Each
// operation validates its preconditions, builds one Batch and commits it,
// then publishes a single event. Validation and commit are serialized;
// publishing and reads are not.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// New builds a ledger over store. publisher and logger may be nil.
func New(store Store, publisher Publisher, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, publisher: publisher, logger: logger}
}

// Mint creates asset id with amount credited to to. The caller is already
// authenticated and is not checked against any allow-list.
func (l *Ledger) Mint(ctx context.Context, caller, to AccountID, id AssetID, amount Amount, descriptor []byte) (TokenMinted, error) {
	event, err := l.commitMint(ctx, to, id, amount, descriptor)
	if err != nil {
		return TokenMinted{}, err
	}
	l.publish(ctx, event, slog.String("caller", string(caller)))
	return event, nil
}

func (l *Ledger) commitMint(ctx context.Context, to AccountID, id AssetID, amount Amount, descriptor []byte) (TokenMinted, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.assetExists(ctx, id)
	if err != nil {
		return TokenMinted{}, err
	}
	if exists {
		return TokenMinted{}, ErrAssetAlreadyExists
	}
	if amount.IsZero() {
		return TokenMinted{}, ErrZeroAmount
	}

	count, err := l.store.AssetCount(ctx)
	if err != nil {
		return TokenMinted{}, fmt.Errorf("read asset count: %w", err)
	}
	next, ok := count.CheckedAdd(oneAmount)
	if !ok {
		return TokenMinted{}, ErrOverflow
	}

	b := NewBatch()
	b.ExpectAssetAbsent(id)
	b.ExpectAssetCount(count)
	b.SetTotalSupply(id, amount)
	b.SetDescriptor(id, descriptor)
	b.SetBalance(id, to, amount)
	b.SetAssetCount(next)
	if err := l.store.Commit(ctx, b); err != nil {
		return TokenMinted{}, err
	}

	return TokenMinted{To: to, ID: id, Amount: amount}, nil
}

// Transfer moves amount of asset id from caller to to.
func (l *Ledger) Transfer(ctx context.Context, caller, to AccountID, id AssetID, amount Amount) (TokenTransferred, error) {
	if amount.IsZero() {
		return TokenTransferred{}, ErrZeroAmount
	}
	if to == caller {
		return TokenTransferred{}, ErrSameAddress
	}

	event, err := l.commitTransfer(ctx, caller, to, id, amount)
	if err != nil {
		return TokenTransferred{}, err
	}
	l.publish(ctx, event)
	return event, nil
}

func (l *Ledger) commitTransfer(ctx context.Context, caller, to AccountID, id AssetID, amount Amount) (TokenTransferred, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.assetExists(ctx, id)
	if err != nil {
		return TokenTransferred{}, err
	}
	if !exists {
		return TokenTransferred{}, ErrAssetNotFound
	}

	fromBalance, fromPresent, err := l.balance(ctx, id, caller)
	if err != nil {
		return TokenTransferred{}, err
	}
	toBalance, toPresent, err := l.balance(ctx, id, to)
	if err != nil {
		return TokenTransferred{}, err
	}

	newFrom, ok := fromBalance.CheckedSub(amount)
	if !ok {
		return TokenTransferred{}, ErrInsufficientBalance
	}
	newTo, ok := toBalance.CheckedAdd(amount)
	if !ok {
		return TokenTransferred{}, ErrOverflow
	}

	b := NewBatch()
	b.ExpectAssetPresent(id)
	b.ExpectBalance(id, caller, fromBalance, fromPresent)
	b.ExpectBalance(id, to, toBalance, toPresent)
	b.SetBalance(id, caller, newFrom)
	b.SetBalance(id, to, newTo)
	if err := l.store.Commit(ctx, b); err != nil {
		return TokenTransferred{}, err
	}

	return TokenTransferred{From: caller, To: to, ID: id, Amount: amount}, nil
}

// SetApprovalForAll records whether operator may act for caller.
func (l *Ledger) SetApprovalForAll(ctx context.Context, caller, operator AccountID, approved bool) (ApprovalForAll, error) {
	if operator == caller {
		return ApprovalForAll{}, ErrSelfApproval
	}

	b := NewBatch()
	b.SetOperatorApproval(caller, operator, approved)
	l.mu.Lock()
	err := l.store.Commit(ctx, b)
	l.mu.Unlock()
	if err != nil {
		return ApprovalForAll{}, err
	}

	event := ApprovalForAll{Owner: caller, Operator: operator, Approved: approved}
	l.publish(ctx, event)
	return event, nil
}

// AssetCount returns how many assets have ever been minted.
func (l *Ledger) AssetCount(ctx context.Context) (Amount, error) {
	return l.store.AssetCount(ctx)
}

// TotalSupply returns the issued amount of id.
func (l *Ledger) TotalSupply(ctx context.Context, id AssetID) (Amount, error) {
	supply, err := l.store.TotalSupply(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Amount{}, ErrAssetNotFound
	}
	return supply, err
}

// Descriptor returns the metadata blob stored for id at mint.
func (l *Ledger) Descriptor(ctx context.Context, id AssetID) ([]byte, error) {
	data, err := l.store.Descriptor(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAssetNotFound
	}
	return data, err
}

// AssetInfo is the asset record: supply and descriptor.
type AssetInfo struct {
	ID          AssetID
	TotalSupply Amount
	Descriptor  []byte
}

// Asset returns the asset record for id.
func (l *Ledger) Asset(ctx context.Context, id AssetID) (AssetInfo, error) {
	supply, err := l.TotalSupply(ctx, id)
	if err != nil {
		return AssetInfo{}, err
	}
	descriptor, err := l.Descriptor(ctx, id)
	if err != nil {
		return AssetInfo{}, err
	}
	return AssetInfo{ID: id, TotalSupply: supply, Descriptor: descriptor}, nil
}

// BalanceOf returns how much of id account holds; no record reads as zero.
func (l *Ledger) BalanceOf(ctx context.Context, id AssetID, account AccountID) (Amount, error) {
	amount, _, err := l.balance(ctx, id, account)
	return amount, err
}

// IsApprovedForAll reports whether operator may act for owner.
func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator AccountID) (bool, error) {
	approved, err := l.store.OperatorApproval(ctx, owner, operator)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return approved, err
}

// MintApproval reads the per-asset mint approval flag. Nothing in the
// ledger writes or enforces it; it is kept for compatibility with modules
// that share the storage layout.
func (l *Ledger) MintApproval(ctx context.Context, id AssetID, account AccountID) (bool, error) {
	approved, err := l.store.MintApproval(ctx, id, account)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return approved, err
}

func (l *Ledger) assetExists(ctx context.Context, id AssetID) (bool, error) {
	_, err := l.store.TotalSupply(ctx, id)
	exists, err := presence(err)
	if err != nil {
		return false, fmt.Errorf("read supply of %s: %w", id, err)
	}
	return exists, nil
}

// balance reads a balance record, reporting absence separately so callers
// can both treat it as zero and guard on it.
func (l *Ledger) balance(ctx context.Context, id AssetID, account AccountID) (Amount, bool, error) {
	amount, err := l.store.Balance(ctx, id, account)
	present, err := presence(err)
	if err != nil {
		return Amount{}, false, fmt.Errorf("read balance of %s/%s: %w", id, account, err)
	}
	return amount, present, nil
}

// publish runs after the commit; a delivery failure is logged, the state change stands.
func (l *Ledger) publish(ctx context.Context, event Event, attrs ...any) {
	if l.logger != nil {
		l.logger.Info("ledger event", append([]any{slog.String("event", event.EventName())}, attrs...)...)
	}
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil && l.logger != nil {
		l.logger.Warn("publish ledger event", slog.String("event", event.EventName()), slog.Any("error", err))
	}
}
