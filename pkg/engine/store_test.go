package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ownerOne = common.HexToAddress("0x0000000000000000000000000000000000000101")
	ownerTwo = common.HexToAddress("0x0000000000000000000000000000000000000202")
)

func storeOrder(owner common.Address, nonce uint64, hashByte byte) *Order {
	return &Order{
		OrderHash:    common.Hash{hashByte},
		Owner:        owner,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(100),
		MinAmountOut: big.NewInt(95),
		LimitPrice:   new(big.Int).Mul(big.NewInt(95), big.NewInt(1e16)),
		FilledAmount: new(big.Int),
		Deadline:     1_900_000_000,
		CreatedAt:    1_800_000_000,
		Nonce:        nonce,
	}
}

func openStore(t *testing.T, path string) *OrderStore {
	t.Helper()
	s, err := NewOrderStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestStoreCreateAndGet(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	id, err := s.Create(storeOrder(ownerOne, 0, 0x01))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != 1 {
		t.Errorf("first id: got %d, want 1", id)
	}
	if s.Nonce(ownerOne) != 1 {
		t.Errorf("nonce after create: got %d, want 1", s.Nonce(ownerOne))
	}
	if !s.HasHash(common.Hash{0x01}) {
		t.Error("admitted hash not indexed")
	}
	if got := s.Get(id); got == nil || got.Owner != ownerOne {
		t.Errorf("get returned %+v", got)
	}
	if s.Get(99) != nil {
		t.Error("unknown id returned a record")
	}
}

func TestStoreRejectsStaleNonceAndDuplicateHash(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	if _, err := s.Create(storeOrder(ownerOne, 0, 0x01)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := s.Create(storeOrder(ownerOne, 0, 0x02)); !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("stale nonce: got %v, want ErrNonceMismatch", err)
	}
	if _, err := s.Create(storeOrder(ownerOne, 5, 0x02)); !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("skipped nonce: got %v, want ErrNonceMismatch", err)
	}
	if _, err := s.Create(storeOrder(ownerOne, 1, 0x01)); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("duplicate hash: got %v, want ErrDuplicateOrder", err)
	}
	// Rejections consume nothing.
	if s.Nonce(ownerOne) != 1 {
		t.Errorf("nonce after rejections: got %d, want 1", s.Nonce(ownerOne))
	}
	if s.lastOrderID != 1 {
		t.Errorf("lastOrderID after rejections: got %d, want 1", s.lastOrderID)
	}
}

func TestStoreReloadPreservesState(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	if _, err := s.Create(storeOrder(ownerOne, 0, 0x01)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.Create(storeOrder(ownerTwo, 0, 0x02)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.Create(storeOrder(ownerOne, 1, 0x03)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Fill progress and a cancellation survive too.
	first := s.Get(1)
	first.FilledAmount = big.NewInt(40)
	if err := s.Update(first); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	second := s.Get(2)
	second.IsCancelled = true
	if err := s.Update(second); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.AppendEvent(&Event{Type: EventOrderCreated, Timestamp: int64(i)}); err != nil {
			t.Fatalf("append event failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r := openStore(t, dir)
	defer r.Close()

	if r.Nonce(ownerOne) != 2 || r.Nonce(ownerTwo) != 1 {
		t.Errorf("nonces after reload: %d/%d, want 2/1", r.Nonce(ownerOne), r.Nonce(ownerTwo))
	}
	if got := r.Get(1); got == nil || got.FilledAmount.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("fill progress lost: %+v", got)
	}
	if got := r.Get(2); got == nil || !got.IsCancelled {
		t.Errorf("cancellation lost: %+v", got)
	}
	if !r.HasHash(common.Hash{0x03}) {
		t.Error("hash index lost")
	}
	if got := r.ListByOwner(ownerOne); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("owner index after reload: %v, want [1 3]", got)
	}
	if r.LastEventSeq() != 3 {
		t.Errorf("event seq after reload: got %d, want 3", r.LastEventSeq())
	}

	// Id assignment continues from the persisted counter.
	id, err := r.Create(storeOrder(ownerTwo, 1, 0x04))
	if err != nil {
		t.Fatalf("create after reload failed: %v", err)
	}
	if id != 4 {
		t.Errorf("id after reload: got %d, want 4", id)
	}
}

func TestStoreEventsSincePagination(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := 0; i < 5; i++ {
		if err := s.AppendEvent(&Event{Type: EventOrderFilled, Timestamp: int64(i)}); err != nil {
			t.Fatalf("append event failed: %v", err)
		}
	}

	events, err := s.EventsSince(2, 2)
	if err != nil {
		t.Fatalf("events since failed: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("page: got %+v, want seqs 3 and 4", events)
	}

	tail, err := s.EventsSince(4, 100)
	if err != nil {
		t.Fatalf("events since failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 5 {
		t.Fatalf("tail: got %+v, want seq 5", tail)
	}

	empty, err := s.EventsSince(5, 100)
	if err != nil {
		t.Fatalf("events since failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("past the end: got %+v, want none", empty)
	}
}

func TestStoreAdminConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	cfg, err := s.LoadAdminConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg != nil {
		t.Fatalf("fresh store has admin config: %+v", cfg)
	}

	want := &AdminConfig{
		Owner:        ownerOne,
		FeeRecipient: ownerTwo,
		FeeRateBps:   45,
		Paused:       true,
	}
	if err := s.SaveAdminConfig(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r := openStore(t, dir)
	defer r.Close()

	got, err := r.LoadAdminConfig()
	if err != nil {
		t.Fatalf("load after reopen failed: %v", err)
	}
	if got == nil || *got != *want {
		t.Errorf("round trip: got %+v, want %+v", got, want)
	}
}

func TestStoreAllInsertionOrder(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	s.Create(storeOrder(ownerOne, 0, 0x01))
	s.Create(storeOrder(ownerTwo, 0, 0x02))
	s.Create(storeOrder(ownerOne, 1, 0x03))

	ids := s.All()
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Errorf("position %d: got id %d, want %d", i, id, i+1)
		}
	}
}
