package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/blake2b"
)

// Key layout, one prefix byte per mapping:
//
//	0x01 balance          h(asset)  h(account)  -> Amount (16 bytes)
//	0x02 total supply     h(asset)              -> Amount (16 bytes)
//	0x03 descriptor       h(asset)              -> raw bytes
//	0x04 asset count                            -> Amount (16 bytes)
//	0x05 operator approval h(owner) h(operator) -> 0x00 | 0x01
//	0x06 mint approval    h(asset)  h(account)  -> 0x00 | 0x01
//
// where h(x) = blake2b-128(x) || uvarint(len(x)) || x, so keys spread evenly
// while staying reversible.
const (
	prefixBalance byte = iota + 1
	prefixTotalSupply
	prefixDescriptor
	prefixAssetCount
	prefixOperatorApproval
	prefixMintApproval
)

const keyHashSize = 16

// LevelDBStore persists the ledger in an embedded LevelDB database. Writes
// of one batch are applied with a single atomic leveldb.Batch.
type LevelDBStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewLevelDBStore wraps an open database. The store owns db and closes it.
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func (s *LevelDBStore) Balance(ctx context.Context, asset AssetID, account AccountID) (Amount, error) {
	return s.amount(storageKey(prefixBalance, string(asset), string(account)))
}

func (s *LevelDBStore) TotalSupply(ctx context.Context, asset AssetID) (Amount, error) {
	return s.amount(storageKey(prefixTotalSupply, string(asset)))
}

func (s *LevelDBStore) Descriptor(ctx context.Context, asset AssetID) ([]byte, error) {
	return s.get(storageKey(prefixDescriptor, string(asset)))
}

func (s *LevelDBStore) AssetCount(ctx context.Context) (Amount, error) {
	count, err := s.amount(storageKey(prefixAssetCount))
	if errors.Is(err, ErrNotFound) {
		return Amount{}, nil
	}
	return count, err
}

func (s *LevelDBStore) OperatorApproval(ctx context.Context, owner, operator AccountID) (bool, error) {
	return s.flag(storageKey(prefixOperatorApproval, string(owner), string(operator)))
}

func (s *LevelDBStore) MintApproval(ctx context.Context, asset AssetID, account AccountID) (bool, error) {
	return s.flag(storageKey(prefixMintApproval, string(asset), string(account)))
}

// Commit checks the guards and writes the batch while holding the store
// lock; every write in this process goes through Commit, and LevelDB's file
// lock keeps other processes out.
func (s *LevelDBStore) Commit(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.checkGuards(ctx, s); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, w := range b.writes {
		key, value := encodeWrite(w)
		if value == nil {
			batch.Delete(key)
			continue
		}
		batch.Put(key, value)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

// Ping reports whether the database is still open.
func (s *LevelDBStore) Ping(context.Context) error {
	_, err := s.db.GetProperty("leveldb.stats")
	return err
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return value, nil
}

func (s *LevelDBStore) amount(key []byte) (Amount, error) {
	value, err := s.get(key)
	if err != nil {
		return Amount{}, err
	}
	return AmountFromBytes(value)
}

func (s *LevelDBStore) flag(key []byte) (bool, error) {
	value, err := s.get(key)
	if err != nil {
		return false, err
	}
	if len(value) != 1 {
		return false, fmt.Errorf("decode flag: want 1 byte, got %d", len(value))
	}
	return value[0] == 1, nil
}

// encodeWrite returns the key and value for w; a nil value means delete.
func encodeWrite(w write) ([]byte, []byte) {
	switch w.kind {
	case writeBalance:
		key := storageKey(prefixBalance, string(w.asset), string(w.account))
		if w.remove {
			return key, nil
		}
		return key, w.amount.Bytes()
	case writeTotalSupply:
		return storageKey(prefixTotalSupply, string(w.asset)), w.amount.Bytes()
	case writeDescriptor:
		// LevelDB cannot tell an empty value from a nil one here, so keep
		// a non-nil slice for empty descriptors.
		data := w.data
		if data == nil {
			data = []byte{}
		}
		return storageKey(prefixDescriptor, string(w.asset)), data
	case writeAssetCount:
		return storageKey(prefixAssetCount), w.amount.Bytes()
	case writeOperatorApproval:
		return storageKey(prefixOperatorApproval, string(w.account), string(w.operator)), flagByte(w.flag)
	case writeMintApproval:
		return storageKey(prefixMintApproval, string(w.asset), string(w.account)), flagByte(w.flag)
	default:
		panic(fmt.Sprintf("ledger: unknown write kind %d", w.kind))
	}
}

func flagByte(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func storageKey(prefix byte, parts ...string) []byte {
	key := []byte{prefix}
	for _, part := range parts {
		key = appendHashedPart(key, part)
	}
	return key
}

func appendHashedPart(dst []byte, part string) []byte {
	h, err := blake2b.New(keyHashSize, nil)
	if err != nil {
		panic(err) // only for invalid sizes
	}
	h.Write([]byte(part))
	dst = h.Sum(dst)
	dst = binary.AppendUvarint(dst, uint64(len(part)))
	return append(dst, part...)
}
