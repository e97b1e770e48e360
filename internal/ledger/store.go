package ledger

import (
	"context"
	"errors"
)

// Reader exposes the persisted mappings. Absent keys yield ErrNotFound,
// except AssetCount which reads as zero before the first mint.
type Reader interface {
	Balance(ctx context.Context, asset AssetID, account AccountID) (Amount, error)
	TotalSupply(ctx context.Context, asset AssetID) (Amount, error)
	Descriptor(ctx context.Context, asset AssetID) ([]byte, error)
	AssetCount(ctx context.Context) (Amount, error)
	OperatorApproval(ctx context.Context, owner, operator AccountID) (bool, error)
	MintApproval(ctx context.Context, asset AssetID, account AccountID) (bool, error)
}

// Store is implemented by ledger persistence backends (memory, LevelDB,
// PostgreSQL). Stores hold no validation logic.
type Store interface {
	Reader
	// Commit verifies every guard in b and applies every write in b as one
	// unit. When a guard fails it returns ErrConflict and writes nothing.
	Commit(ctx context.Context, b *Batch) error
	Ping(ctx context.Context) error
	Close() error
}

type writeKind uint8

const (
	writeBalance writeKind = iota
	writeTotalSupply
	writeDescriptor
	writeAssetCount
	writeOperatorApproval
	writeMintApproval
)

// write is a single pending mutation. Which fields are meaningful depends on kind:
// balance and mint approval use asset+account, operator approval uses
// account (owner) + operator.
type write struct {
	kind     writeKind
	asset    AssetID
	account  AccountID
	operator AccountID
	amount   Amount
	data     []byte
	flag     bool
	remove   bool
}

type guardKind uint8

const (
	guardAssetAbsent guardKind = iota
	guardAssetPresent
	guardBalance
	guardAssetCount
)

// guard is a precondition an operation read before building its batch.
// For guardBalance, present=false means the record must still be absent.
type guard struct {
	kind    guardKind
	asset   AssetID
	account AccountID
	amount  Amount
	present bool
}

// Batch collects the writes of one operation together with the reads its
// preconditions depended on.
type Batch struct {
	writes []write
	guards []guard
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Len reports the number of pending writes.
func (b *Batch) Len() int {
	return len(b.writes)
}

func (b *Batch) SetBalance(asset AssetID, account AccountID, amount Amount) {
	b.writes = append(b.writes, write{kind: writeBalance, asset: asset, account: account, amount: amount})
}

// RemoveBalance deletes a balance record. No ledger operation uses it yet.
func (b *Batch) RemoveBalance(asset AssetID, account AccountID) {
	b.writes = append(b.writes, write{kind: writeBalance, asset: asset, account: account, remove: true})
}

func (b *Batch) SetTotalSupply(asset AssetID, amount Amount) {
	b.writes = append(b.writes, write{kind: writeTotalSupply, asset: asset, amount: amount})
}

func (b *Batch) SetDescriptor(asset AssetID, descriptor []byte) {
	data := make([]byte, len(descriptor))
	copy(data, descriptor)
	b.writes = append(b.writes, write{kind: writeDescriptor, asset: asset, data: data})
}

func (b *Batch) SetAssetCount(count Amount) {
	b.writes = append(b.writes, write{kind: writeAssetCount, amount: count})
}

func (b *Batch) SetOperatorApproval(owner, operator AccountID, approved bool) {
	b.writes = append(b.writes, write{kind: writeOperatorApproval, account: owner, operator: operator, flag: approved})
}

func (b *Batch) SetMintApproval(asset AssetID, account AccountID, approved bool) {
	b.writes = append(b.writes, write{kind: writeMintApproval, asset: asset, account: account, flag: approved})
}

// ExpectAssetAbsent requires that asset still has no supply record at commit.
func (b *Batch) ExpectAssetAbsent(asset AssetID) {
	b.guards = append(b.guards, guard{kind: guardAssetAbsent, asset: asset})
}

// ExpectAssetPresent requires that asset has a supply record at commit.
func (b *Batch) ExpectAssetPresent(asset AssetID) {
	b.guards = append(b.guards, guard{kind: guardAssetPresent, asset: asset})
}

// ExpectBalance requires the balance record to be unchanged at commit: equal
// to amount when present is true, absent otherwise.
func (b *Batch) ExpectBalance(asset AssetID, account AccountID, amount Amount, present bool) {
	b.guards = append(b.guards, guard{kind: guardBalance, asset: asset, account: account, amount: amount, present: present})
}

// ExpectAssetCount requires the asset counter to still equal count.
func (b *Batch) ExpectAssetCount(count Amount) {
	b.guards = append(b.guards, guard{kind: guardAssetCount, amount: count})
}

// checkGuards evaluates every guard through r. Backends call it from inside
// their exclusive section so the reads observe the state the writes will
// replace.
func (b *Batch) checkGuards(ctx context.Context, r Reader) error {
	for _, g := range b.guards {
		ok, err := g.holds(ctx, r)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
	}
	return nil
}

func (g guard) holds(ctx context.Context, r Reader) (bool, error) {
	switch g.kind {
	case guardAssetAbsent, guardAssetPresent:
		_, err := r.TotalSupply(ctx, g.asset)
		exists, err := presence(err)
		if err != nil {
			return false, err
		}
		return exists == (g.kind == guardAssetPresent), nil
	case guardBalance:
		current, err := r.Balance(ctx, g.asset, g.account)
		exists, err := presence(err)
		if err != nil {
			return false, err
		}
		if exists != g.present {
			return false, nil
		}
		return !exists || current == g.amount, nil
	case guardAssetCount:
		current, err := r.AssetCount(ctx)
		if err != nil {
			return false, err
		}
		return current == g.amount, nil
	default:
		return false, nil
	}
}

// presence turns a reader error into an existence flag, passing through
// anything other than ErrNotFound.
func presence(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
