package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// OrderStore is the durable order record store: an in-memory cache over
// Pebble. It enforces orderHash uniqueness and strict (owner, nonce)
// sequencing, and journals the engine's event stream.
//
// Not internally locked: all mutations go through the Engine's mutex.
type OrderStore struct {
	db *pebble.DB

	orders  map[uint64]*Order
	byHash  map[common.Hash]uint64
	byOwner map[common.Address][]uint64 // insertion-ordered
	nonces  map[common.Address]uint64

	lastOrderID  uint64
	lastEventSeq uint64
}

// NewOrderStore opens (or creates) a Pebble database at dbPath and
// loads every order, nonce counter, and sequence counter into memory.
func NewOrderStore(dbPath string) (*OrderStore, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:          64 << 20,                   // 64MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	s := &OrderStore{
		db:      db,
		orders:  make(map[uint64]*Order),
		byHash:  make(map[common.Hash]uint64),
		byOwner: make(map[common.Address][]uint64),
		nonces:  make(map[common.Address]uint64),
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *OrderStore) Close() error {
	return s.db.Close()
}

// load rebuilds the in-memory indexes from Pebble on startup.
func (s *OrderStore) load() error {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to iterate orders: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var order Order
		if err := json.Unmarshal(iter.Value(), &order); err != nil {
			return fmt.Errorf("corrupt order record %s: %w", iter.Key(), err)
		}
		s.orders[order.ID] = &order
		s.byHash[order.OrderHash] = order.ID
		s.byOwner[order.Owner] = append(s.byOwner[order.Owner], order.ID)
	}

	// Per-owner ids arrive in id order from the iterator only if the
	// id is the iteration key; sort to be safe.
	for owner := range s.byOwner {
		ids := s.byOwner[owner]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	noncePrefix := []byte(prefixNonce)
	nIter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: noncePrefix,
		UpperBound: keyUpperBound(noncePrefix),
	})
	if err != nil {
		return fmt.Errorf("failed to iterate nonces: %w", err)
	}
	defer nIter.Close()

	for nIter.First(); nIter.Valid(); nIter.Next() {
		addr := common.HexToAddress(string(nIter.Key()[len(prefixNonce):]))
		s.nonces[addr] = decodeUint64(nIter.Value())
	}

	s.lastOrderID = s.readCounter(keySeqOrder)
	s.lastEventSeq = s.readCounter(keySeqEvent)
	return nil
}

func (s *OrderStore) readCounter(key string) uint64 {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return 0
	}
	defer closer.Close()
	return decodeUint64(val)
}

// HasHash reports whether an order hash was ever admitted.
func (s *OrderStore) HasHash(h common.Hash) bool {
	_, ok := s.byHash[h]
	return ok
}

// Nonce returns the owner's current counter (0 for unseen owners).
func (s *OrderStore) Nonce(owner common.Address) uint64 {
	return s.nonces[owner]
}

// Create admits a new order: assigns the next sequential id, increments
// the owner's nonce counter, and persists everything in one atomic
// Pebble batch. The caller has already verified authorization, hash
// uniqueness, and nonce equality.
func (s *OrderStore) Create(order *Order) (uint64, error) {
	if order.Nonce != s.nonces[order.Owner] {
		return 0, ErrNonceMismatch
	}
	if s.HasHash(order.OrderHash) {
		return 0, ErrDuplicateOrder
	}

	id := s.lastOrderID + 1
	order.ID = id
	newNonce := order.Nonce + 1

	data, err := json.Marshal(order)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal order: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	batch.Set(orderKey(id), data, nil)
	batch.Set(hashKey(order.OrderHash), encodeUint64(id), nil)
	batch.Set(ownerKey(order.Owner, id), encodeUint64(id), nil)
	batch.Set(nonceKey(order.Owner), encodeUint64(newNonce), nil)
	batch.Set([]byte(keySeqOrder), encodeUint64(id), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to persist order: %w", err)
	}

	s.orders[id] = order
	s.byHash[order.OrderHash] = id
	s.byOwner[order.Owner] = append(s.byOwner[order.Owner], id)
	s.nonces[order.Owner] = newNonce
	s.lastOrderID = id
	return id, nil
}

// Get returns the live order record, or nil if absent.
func (s *OrderStore) Get(id uint64) *Order {
	return s.orders[id]
}

// Update persists a mutated order (fill progress or cancellation).
// Only the Engine's settlement and cancellation paths call this.
func (s *OrderStore) Update(order *Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(order.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's order ids in insertion order.
func (s *OrderStore) ListByOwner(owner common.Address) []uint64 {
	ids := s.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// All returns every order id in insertion order.
func (s *OrderStore) All() []uint64 {
	ids := make([]uint64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AppendEvent assigns the next journal sequence number to evt and
// persists it. Events are journaled after the state transition they
// describe has committed.
func (s *OrderStore) AppendEvent(evt *Event) error {
	seq := s.lastEventSeq + 1
	evt.Seq = seq

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	batch.Set(eventKey(seq), data, nil)
	batch.Set([]byte(keySeqEvent), encodeUint64(seq), nil)
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	s.lastEventSeq = seq
	return nil
}

// EventsSince returns up to limit journaled events with Seq > after,
// oldest first. Indexers use this to catch up after a restart.
func (s *OrderStore) EventsSince(after uint64, limit int) ([]Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(after + 1),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	defer iter.Close()

	var events []Event
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		var evt Event
		if err := json.Unmarshal(iter.Value(), &evt); err != nil {
			continue // Skip invalid entries
		}
		events = append(events, evt)
	}
	return events, nil
}

// LastEventSeq returns the highest journaled sequence number.
func (s *OrderStore) LastEventSeq() uint64 {
	return s.lastEventSeq
}

// SaveAdminConfig persists the mutable admin parameters.
func (s *OrderStore) SaveAdminConfig(cfg *AdminConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal admin config: %w", err)
	}
	if err := s.db.Set([]byte(keyEngineCfg), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist admin config: %w", err)
	}
	return nil
}

// LoadAdminConfig returns the persisted admin parameters, or nil if the
// engine has never saved them.
func (s *OrderStore) LoadAdminConfig() (*AdminConfig, error) {
	val, closer, err := s.db.Get([]byte(keyEngineCfg))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin config: %w", err)
	}
	defer closer.Close()

	var cfg AdminConfig
	if err := json.Unmarshal(val, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admin config: %w", err)
	}
	return &cfg, nil
}
