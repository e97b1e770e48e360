package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) last() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

const (
	alice AccountID = "A"
	bob   AccountID = "B"
	carol AccountID = "C"
	asset AssetID   = "7"
)

func newTestLedger(t *testing.T) (*Ledger, Store, *recordingPublisher) {
	t.Helper()
	store := NewInMemory()
	pub := &recordingPublisher{}
	return New(store, pub, nil), store, pub
}

func mustBalance(t *testing.T, l *Ledger, id AssetID, account AccountID, want uint64) {
	t.Helper()
	got, err := l.BalanceOf(context.Background(), id, account)
	if err != nil {
		t.Fatalf("balance of %s/%s: %v", id, account, err)
	}
	if got != NewAmount(want) {
		t.Fatalf("expected balance %s/%s = %d, got %s", id, account, want, got)
	}
}

func mustSupply(t *testing.T, l *Ledger, id AssetID, want uint64) {
	t.Helper()
	got, err := l.TotalSupply(context.Background(), id)
	if err != nil {
		t.Fatalf("total supply of %s: %v", id, err)
	}
	if got != NewAmount(want) {
		t.Fatalf("expected supply %d, got %s", want, got)
	}
}

// runScenarios walks scenarios A through E against any store backend.
func runScenarios(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	pub := &recordingPublisher{}
	l := New(store, pub, nil)

	// A: mint 100 of asset 7 to A.
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100), []byte("ipfs://seven")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	mustSupply(t, l, asset, 100)
	mustBalance(t, l, asset, alice, 100)
	count, err := l.AssetCount(ctx)
	if err != nil {
		t.Fatalf("asset count: %v", err)
	}
	if count != NewAmount(1) {
		t.Fatalf("expected asset count 1, got %s", count)
	}

	// B: A sends 30 to B.
	if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mustBalance(t, l, asset, alice, 70)
	mustBalance(t, l, asset, bob, 30)
	mustSupply(t, l, asset, 100)

	// C: A tries to send 80.
	if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(80)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	mustBalance(t, l, asset, alice, 70)
	mustBalance(t, l, asset, bob, 30)

	// D: mint 7 again.
	if _, err := l.Mint(ctx, carol, carol, asset, NewAmount(5), []byte("other")); !errors.Is(err, ErrAssetAlreadyExists) {
		t.Fatalf("expected asset already exists, got %v", err)
	}
	mustSupply(t, l, asset, 100)
	mustBalance(t, l, asset, carol, 0)
	descriptor, err := l.Descriptor(ctx, asset)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if string(descriptor) != "ipfs://seven" {
		t.Fatalf("descriptor overwritten: %q", descriptor)
	}

	// E: A approves itself.
	if _, err := l.SetApprovalForAll(ctx, alice, alice, true); !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected self approval error, got %v", err)
	}

	if pub.count() != 2 {
		t.Fatalf("expected 2 events, got %d", pub.count())
	}
}

func TestScenariosInMemory(t *testing.T) {
	runScenarios(t, NewInMemory())
}

func TestMintRecordsAssetAndEmitsEvent(t *testing.T) {
	l, _, pub := newTestLedger(t)
	ctx := context.Background()

	event, err := l.Mint(ctx, carol, alice, asset, NewAmount(100), []byte("uri"))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	want := TokenMinted{To: alice, ID: asset, Amount: NewAmount(100)}
	if event != want {
		t.Fatalf("unexpected event %+v", event)
	}
	if got, ok := pub.last().(TokenMinted); !ok || got != want {
		t.Fatalf("expected published %+v, got %+v", want, pub.last())
	}

	info, err := l.Asset(ctx, asset)
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if info.TotalSupply != NewAmount(100) || !bytes.Equal(info.Descriptor, []byte("uri")) {
		t.Fatalf("unexpected asset info %+v", info)
	}
	// The minting caller receives nothing.
	mustBalance(t, l, asset, carol, 0)
}

func TestMintValidationOrder(t *testing.T) {
	l, _, pub := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Mint(ctx, alice, alice, asset, ZeroAmount, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}
	if _, err := l.TotalSupply(ctx, asset); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("zero mint must not create the asset, got %v", err)
	}

	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(1), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Existence is checked before the amount.
	if _, err := l.Mint(ctx, alice, alice, asset, ZeroAmount, nil); !errors.Is(err, ErrAssetAlreadyExists) {
		t.Fatalf("expected asset already exists, got %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("failed mints must not emit events, got %d", pub.count())
	}
}

func TestMintCounterOverflow(t *testing.T) {
	l, store, pub := newTestLedger(t)
	ctx := context.Background()

	mem := store.(*inMemoryStore)
	mem.state.assetCount = MaxAmount

	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(10), nil); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := l.TotalSupply(ctx, asset); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("overflowing mint must write nothing, got %v", err)
	}
	mustBalance(t, l, asset, alice, 0)
	if pub.count() != 0 {
		t.Fatalf("expected no events")
	}
}

func TestAssetCountIncrementsPerMint(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i, id := range []AssetID{"1", "2", "3"} {
		if _, err := l.Mint(ctx, alice, alice, id, NewAmount(1), nil); err != nil {
			t.Fatalf("mint %s: %v", id, err)
		}
		count, err := l.AssetCount(ctx)
		if err != nil {
			t.Fatalf("asset count: %v", err)
		}
		if count != NewAmount(uint64(i+1)) {
			t.Fatalf("expected count %d, got %s", i+1, count)
		}
	}
	if _, err := l.Mint(ctx, alice, alice, "2", NewAmount(1), nil); err == nil {
		t.Fatalf("expected duplicate mint to fail")
	}
	count, _ := l.AssetCount(ctx)
	if count != NewAmount(3) {
		t.Fatalf("failed mint changed count to %s", count)
	}
}

func TestTransferRequiresExistingAsset(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	// A stray balance without a supply record still does not make the asset transferable.
	SeedBalance(store, "ghost", alice, NewAmount(50))
	if _, err := l.Transfer(ctx, alice, bob, "ghost", NewAmount(10)); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
}

func TestTransferValidation(t *testing.T) {
	l, _, pub := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}

	cases := []struct {
		name   string
		to     AccountID
		amount Amount
		want   error
	}{
		{"zero amount", bob, ZeroAmount, ErrZeroAmount},
		{"same address", alice, NewAmount(1), ErrSameAddress},
		{"zero amount wins over same address", alice, ZeroAmount, ErrZeroAmount},
		{"more than held", bob, NewAmount(101), ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Transfer(ctx, alice, tc.to, asset, tc.amount); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			mustBalance(t, l, asset, alice, 100)
			mustBalance(t, l, asset, bob, 0)
		})
	}
	if pub.count() != 1 {
		t.Fatalf("expected only the mint event, got %d", pub.count())
	}
}

func TestTransferFromAccountWithoutRecord(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := l.Transfer(ctx, carol, bob, asset, NewAmount(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestTransferEntireBalance(t *testing.T) {
	l, _, pub := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	event, err := l.Transfer(ctx, alice, bob, asset, NewAmount(100))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	want := TokenTransferred{From: alice, To: bob, ID: asset, Amount: NewAmount(100)}
	if event != want || pub.last() != Event(want) {
		t.Fatalf("unexpected event %+v / %+v", event, pub.last())
	}
	mustBalance(t, l, asset, alice, 0)
	mustBalance(t, l, asset, bob, 100)
}

func TestTransferRecipientOverflow(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	nearMax, _ := MaxAmount.CheckedSub(NewAmount(5))
	SeedBalance(store, asset, bob, nearMax)

	if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(6)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	mustBalance(t, l, asset, alice, 100)
	got, _ := l.BalanceOf(ctx, asset, bob)
	if got != nearMax {
		t.Fatalf("recipient balance changed to %s", got)
	}

	// Exactly reaching the maximum is fine.
	if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(5)); err != nil {
		t.Fatalf("transfer to max: %v", err)
	}
	got, _ = l.BalanceOf(ctx, asset, bob)
	if got != MaxAmount {
		t.Fatalf("expected max balance, got %s", got)
	}
}

func TestSupplyConservedAcrossTransfers(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(1_000), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}

	accounts := []AccountID{alice, bob, carol, "D"}
	moves := []struct {
		from, to AccountID
		amount   uint64
	}{
		{alice, bob, 400}, {bob, carol, 150}, {carol, "D", 150}, {alice, "D", 600},
		{"D", alice, 1}, {bob, alice, 300}, {bob, carol, 1}, {"D", bob, 749},
	}
	for _, m := range moves {
		_, _ = l.Transfer(ctx, m.from, m.to, asset, NewAmount(m.amount))

		sum := ZeroAmount
		for _, a := range accounts {
			bal, err := l.BalanceOf(ctx, asset, a)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			var ok bool
			if sum, ok = sum.CheckedAdd(bal); !ok {
				t.Fatalf("sum overflow")
			}
		}
		mustSupply(t, l, asset, 1_000)
		if sum != NewAmount(1_000) {
			t.Fatalf("after %+v balances sum to %s", m, sum)
		}
	}
}

func TestConcurrentTransfersKeepSupply(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(100_000), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(500)); err != nil {
				t.Errorf("transfer failed: %v", err)
			}
		}()
	}
	wg.Wait()

	mustBalance(t, l, asset, alice, 95_000)
	mustBalance(t, l, asset, bob, 5_000)
}

func TestSetApprovalForAll(t *testing.T) {
	l, store, pub := newTestLedger(t)
	ctx := context.Background()

	approved, err := l.IsApprovedForAll(ctx, alice, bob)
	if err != nil || approved {
		t.Fatalf("expected no approval before set, got %v %v", approved, err)
	}

	for i := 0; i < 2; i++ {
		event, err := l.SetApprovalForAll(ctx, alice, bob, true)
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if event != (ApprovalForAll{Owner: alice, Operator: bob, Approved: true}) {
			t.Fatalf("unexpected event %+v", event)
		}
		approved, err := l.IsApprovedForAll(ctx, alice, bob)
		if err != nil || !approved {
			t.Fatalf("expected approval after set #%d, got %v %v", i+1, approved, err)
		}
	}
	mem := store.(*inMemoryStore)
	if len(mem.state.approvals) != 1 {
		t.Fatalf("repeated approval must overwrite, got %d records", len(mem.state.approvals))
	}

	// Approval is directional.
	if approved, _ := l.IsApprovedForAll(ctx, bob, alice); approved {
		t.Fatalf("approval must not be symmetric")
	}

	if _, err := l.SetApprovalForAll(ctx, alice, bob, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if approved, _ := l.IsApprovedForAll(ctx, alice, bob); approved {
		t.Fatalf("expected approval revoked")
	}
	if pub.count() != 3 {
		t.Fatalf("expected 3 approval events, got %d", pub.count())
	}
}

func TestMintApprovalIsInert(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	if ok, err := l.MintApproval(ctx, asset, bob); err != nil || ok {
		t.Fatalf("expected no mint approval, got %v %v", ok, err)
	}
	SeedMintApproval(store, asset, bob, true)
	if ok, err := l.MintApproval(ctx, asset, bob); err != nil || !ok {
		t.Fatalf("expected seeded mint approval, got %v %v", ok, err)
	}
	// Minting is not restricted by it.
	if _, err := l.Mint(ctx, carol, carol, asset, NewAmount(1), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func TestPublishFailureKeepsCommittedState(t *testing.T) {
	store := NewInMemory()
	pub := &recordingPublisher{err: errors.New("bus down")}
	l := New(store, pub, nil)
	ctx := context.Background()

	if _, err := l.Mint(ctx, alice, alice, asset, NewAmount(10), nil); err != nil {
		t.Fatalf("mint should succeed when publishing fails: %v", err)
	}
	mustSupply(t, l, asset, 10)
}

func TestReadAccessorsForUnknownAsset(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.TotalSupply(ctx, "nope"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
	if _, err := l.Descriptor(ctx, "nope"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
	if _, err := l.Asset(ctx, "nope"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}
	mustBalance(t, l, "nope", alice, 0)
}

func TestCode(t *testing.T) {
	cases := map[error]string{
		ErrAssetAlreadyExists:  "AssetAlreadyExists",
		ErrZeroAmount:          "ZeroAmount",
		ErrSameAddress:         "SameAddress",
		ErrSelfApproval:        "SettingApprovalForSelf",
		ErrInsufficientBalance: "InsufficientBalance",
		ErrOverflow:            "Overflow",
		ErrAssetNotFound:       "AssetDoesNotExist",
		errors.New("boom"):     "Internal",
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Fatalf("Code(%v) = %s, want %s", err, got, want)
		}
	}
}

// stallingPublisher blocks its first delivery until release is closed.
type stallingPublisher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) Publish(context.Context, Event) error {
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
	return nil
}

func TestSlowPublisherDoesNotBlockMutations(t *testing.T) {
	ctx := context.Background()
	pub := &stallingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	l := New(NewInMemory(), pub, nil)

	minted := make(chan error, 1)
	go func() {
		_, err := l.Mint(ctx, alice, alice, asset, NewAmount(10), nil)
		minted <- err
	}()
	<-pub.entered

	done := make(chan error, 1)
	go func() {
		if _, err := l.Transfer(ctx, alice, bob, asset, NewAmount(3)); err != nil {
			done <- err
			return
		}
		_, err := l.SetApprovalForAll(ctx, alice, bob, true)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("mutation during stalled publish: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(pub.release)
		t.Fatalf("mutations waited on the previous event delivery")
	}

	close(pub.release)
	if err := <-minted; err != nil {
		t.Fatalf("mint: %v", err)
	}
	mustBalance(t, l, asset, bob, 3)
}
