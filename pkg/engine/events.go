package engine

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Event surface consumed by off-chain indexers. Every event is appended
// to the store's journal before it is published, so a restarted indexer
// can replay from its last seen sequence number.

type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
)

// OrderCreatedEvent mirrors the immutable fields of a freshly admitted order.
type OrderCreatedEvent struct {
	ID           uint64         `json:"id"`
	OrderHash    common.Hash    `json:"orderHash"`
	Owner        common.Address `json:"owner"`
	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	AmountIn     *big.Int       `json:"amountIn"`
	MinAmountOut *big.Int       `json:"minAmountOut"`
	LimitPrice   *big.Int       `json:"limitPrice"`
	Deadline     int64          `json:"deadline"`
	Nonce        uint64         `json:"nonce"`
}

// OrderFilledEvent records one settlement leg. NetAmountOut + Fee equals
// the executor's full output payment.
type OrderFilledEvent struct {
	ID            uint64         `json:"id"`
	OrderHash     common.Hash    `json:"orderHash"`
	Owner         common.Address `json:"owner"`
	Executor      common.Address `json:"executor"`
	FillAmountIn  *big.Int       `json:"fillAmountIn"`
	NetAmountOut  *big.Int       `json:"netAmountOut"`
	Fee           *big.Int       `json:"fee"`
	IsFullyFilled bool           `json:"isFullyFilled"`
}

// OrderCancelledEvent records an owner withdrawal of unfilled principal.
type OrderCancelledEvent struct {
	ID        uint64         `json:"id"`
	OrderHash common.Hash    `json:"orderHash"`
	Owner     common.Address `json:"owner"`
	Refunded  *big.Int       `json:"refunded"`
}

// Event is the journal entry wrapping exactly one payload.
type Event struct {
	Seq       uint64               `json:"seq"`
	Type      EventType            `json:"type"`
	Timestamp int64                `json:"timestamp"` // Unix seconds
	Created   *OrderCreatedEvent   `json:"created,omitempty"`
	Filled    *OrderFilledEvent    `json:"filled,omitempty"`
	Cancelled *OrderCancelledEvent `json:"cancelled,omitempty"`
}

// Feed is an in-process pub/sub for engine events. Slow subscribers
// drop events rather than block a settlement call; the pebble journal
// is the lossless record.
type Feed struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a buffered event channel. The returned cancel
// function unregisters and closes it.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan Event, 64)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers evt to all subscribers without blocking.
func (f *Feed) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
