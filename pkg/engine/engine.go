package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	ofcrypto "github.com/openfill/openfill/pkg/crypto"
	"github.com/openfill/openfill/pkg/token"
	"github.com/openfill/openfill/pkg/util"
)

// Config holds the engine's startup parameters. The mutable subset
// (AdminConfig) is persisted to the store and survives restarts.
type Config struct {
	Domain       ofcrypto.EIP712Domain
	Owner        common.Address // engine owner (admin surface)
	FeeRecipient common.Address
	FeeRateBps   uint64
	MaxFeeBps    uint64 // hard cap on FeeRateBps, immutable
	Paused       bool
}

// AdminConfig is the owner-mutable parameter set.
type AdminConfig struct {
	Owner        common.Address `json:"owner"`
	FeeRecipient common.Address `json:"feeRecipient"`
	FeeRateBps   uint64         `json:"feeRateBps"`
	Paused       bool           `json:"paused"`
}

// Engine is the settlement engine aggregate: order record store,
// authorization verification, settlement, cancellation, fees, and admin
// config behind one mutex. A single lock serializes all state-mutating
// calls, which gives the per-order atomicity the fill accounting needs;
// distinct orders are independent but contention here is not the
// bottleneck (every call is memory plus one pebble write).
type Engine struct {
	mu sync.RWMutex

	log    *zap.SugaredLogger
	clock  util.Clock
	store  *OrderStore
	ledger token.Ledger
	hasher *ofcrypto.EIP712Signer
	feed   *Feed

	// escrow is the engine's own account on the ledger; order principal
	// sits here between creation and settlement/cancellation.
	escrow common.Address

	owner        common.Address
	feeRecipient common.Address
	feeRateBps   uint64
	maxFeeBps    uint64
	paused       bool
}

// NewEngine wires an engine over an opened store and a ledger.
// Persisted admin parameters take precedence over cfg defaults.
func NewEngine(cfg Config, store *OrderStore, ledger token.Ledger, clock util.Clock, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if cfg.FeeRateBps > cfg.MaxFeeBps {
		return nil, fmt.Errorf("%w: %d bps > cap %d bps", ErrFeeTooHigh, cfg.FeeRateBps, cfg.MaxFeeBps)
	}

	e := &Engine{
		log:          logger.Sugar(),
		clock:        clock,
		store:        store,
		ledger:       ledger,
		hasher:       ofcrypto.NewEIP712Signer(cfg.Domain),
		feed:         NewFeed(),
		escrow:       cfg.Domain.VerifyingContract,
		owner:        cfg.Owner,
		feeRecipient: cfg.FeeRecipient,
		feeRateBps:   cfg.FeeRateBps,
		maxFeeBps:    cfg.MaxFeeBps,
		paused:       cfg.Paused,
	}

	saved, err := store.LoadAdminConfig()
	if err != nil {
		return nil, err
	}
	if saved != nil {
		e.owner = saved.Owner
		e.feeRecipient = saved.FeeRecipient
		e.feeRateBps = saved.FeeRateBps
		e.paused = saved.Paused
		if e.feeRateBps > e.maxFeeBps {
			return nil, fmt.Errorf("%w: persisted %d bps > cap %d bps", ErrFeeTooHigh, e.feeRateBps, e.maxFeeBps)
		}
	}

	return e, nil
}

// Feed returns the live event feed for in-process subscribers.
func (e *Engine) Feed() *Feed { return e.feed }

// EscrowAddress returns the engine's ledger account holding escrowed principal.
func (e *Engine) EscrowAddress() common.Address { return e.escrow }

// Now returns the engine clock's Unix time.
func (e *Engine) Now() int64 { return e.clock.Now().Unix() }

// ==============================
// Order creation
// ==============================

// CreateOrderRequest is the relayer-compatible creation call: anyone
// may submit it, the claimed owner is checked against the recovered
// signer, and the nonce is explicit.
type CreateOrderRequest struct {
	Owner        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	LimitPrice   *big.Int
	Deadline     int64
	Nonce        uint64
	Signature    []byte
}

// CreateOrder verifies the signed authorization, escrows the input
// principal, and admits the order record. The whole call is atomic:
// a rejected signature, stale nonce, duplicate hash, or failed escrow
// transfer leaves no trace.
func (e *Engine) CreateOrder(req CreateOrderRequest) (*Order, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	// limitPrice and minAmountOut are two views of the same floor; they
	// must agree at full fill or the signed message is self-contradictory.
	wantPrice := new(big.Int).Mul(req.MinAmountOut, PriceScale)
	wantPrice.Div(wantPrice, req.AmountIn)
	if req.LimitPrice.Cmp(wantPrice) != 0 {
		return nil, fmt.Errorf("%w: signed %s, derived %s", ErrPriceInconsistent, req.LimitPrice, wantPrice)
	}

	msg := &ofcrypto.LimitOrderEIP712{
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		LimitPrice:   req.LimitPrice,
		Deadline:     big.NewInt(req.Deadline),
		Nonce:        new(big.Int).SetUint64(req.Nonce),
	}
	digest, err := e.hasher.HashOrder(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	signer, err := ofcrypto.RecoverAddress(digest, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != req.Owner {
		return nil, fmt.Errorf("%w: recovered %s, claimed %s", ErrSignerMismatch, signer.Hex(), req.Owner.Hex())
	}

	// The idempotency key hashes the order content without the nonce:
	// re-signing identical content under a fresh nonce is still the
	// same order and must be rejected as a duplicate. The nonce check
	// runs first so a straight resubmission of a consumed authorization
	// reports the stale nonce, not the duplicate.
	contentDigest, err := e.hasher.HashOrderContent(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order content: %w", err)
	}
	orderHash := common.BytesToHash(contentDigest)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrEnginePaused
	}
	if current := e.store.Nonce(req.Owner); req.Nonce != current {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, req.Nonce, current)
	}
	if e.store.HasHash(orderHash) {
		return nil, ErrDuplicateOrder
	}

	// Escrow the principal. No record exists yet, so a failed pull is a
	// clean rejection.
	if err := e.ledger.Transfer(req.TokenIn, req.Owner, e.escrow, req.AmountIn); err != nil {
		return nil, fmt.Errorf("%w: escrow: %v", ErrTransferFailed, err)
	}

	now := e.clock.Now().Unix()
	order := &Order{
		OrderHash:    orderHash,
		Owner:        req.Owner,
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     new(big.Int).Set(req.AmountIn),
		MinAmountOut: new(big.Int).Set(req.MinAmountOut),
		LimitPrice:   new(big.Int).Set(req.LimitPrice),
		Deadline:     req.Deadline,
		Nonce:        req.Nonce,
		FilledAmount: new(big.Int),
		CreatedAt:    now,
	}

	if _, err := e.store.Create(order); err != nil {
		// Return the escrowed principal; the order never existed.
		if rbErr := e.ledger.Transfer(req.TokenIn, e.escrow, req.Owner, req.AmountIn); rbErr != nil {
			e.log.Errorw("escrow_rollback_failed", "owner", req.Owner.Hex(), "err", rbErr)
		}
		return nil, err
	}

	e.emitLocked(Event{
		Type: EventOrderCreated,
		Created: &OrderCreatedEvent{
			ID:           order.ID,
			OrderHash:    order.OrderHash,
			Owner:        order.Owner,
			TokenIn:      order.TokenIn,
			TokenOut:     order.TokenOut,
			AmountIn:     order.AmountIn,
			MinAmountOut: order.MinAmountOut,
			LimitPrice:   order.LimitPrice,
			Deadline:     order.Deadline,
			Nonce:        order.Nonce,
		},
	})
	e.log.Infow("order_created",
		"id", order.ID,
		"hash", order.OrderHash.Hex(),
		"owner", order.Owner.Hex(),
		"amount_in", order.AmountIn.String(),
		"min_amount_out", order.MinAmountOut.String(),
		"deadline", order.Deadline,
		"nonce", order.Nonce,
	)

	return order.Clone(), nil
}

func validateCreateRequest(req CreateOrderRequest) error {
	switch {
	case req.AmountIn == nil || req.AmountIn.Sign() <= 0:
		return fmt.Errorf("%w: amountIn must be positive", ErrInvalidOrder)
	case req.MinAmountOut == nil || req.MinAmountOut.Sign() <= 0:
		return fmt.Errorf("%w: minAmountOut must be positive", ErrInvalidOrder)
	case req.LimitPrice == nil || req.LimitPrice.Sign() <= 0:
		return fmt.Errorf("%w: limitPrice must be positive", ErrInvalidOrder)
	case req.TokenIn == req.TokenOut:
		return fmt.Errorf("%w: tokenIn equals tokenOut", ErrInvalidOrder)
	case len(req.Signature) != 65:
		return fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(req.Signature))
	}
	return nil
}

// ==============================
// Settlement
// ==============================

// ExecuteOrder settles fillAmountIn of the order against the executor's
// fillAmountOut of tokenOut. Checks run in a fixed sequence (existence,
// cancellation, deadline, remaining, price) and no funds move until all
// pass. The three transfer legs and the filledAmount increment commit
// together or not at all.
//
// The price check is cross-multiplied against the whole-order bound so
// partial fills carry no rounding loss:
//
//	fillAmountOut * amountIn >= minAmountOut * fillAmountIn
//
// Equality is accepted: a fill exactly at the limit price settles.
func (e *Engine) ExecuteOrder(executor common.Address, id uint64, fillAmountIn, fillAmountOut *big.Int) (*OrderFilledEvent, error) {
	if fillAmountIn == nil || fillAmountIn.Sign() <= 0 || fillAmountOut == nil || fillAmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: fill legs must be positive", ErrInvalidFill)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrEnginePaused
	}

	order := e.store.Get(id)
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if order.IsCancelled {
		return nil, ErrOrderCancelled
	}
	now := e.clock.Now().Unix()
	if now > order.Deadline {
		return nil, fmt.Errorf("%w: deadline %d, now %d", ErrOrderExpired, order.Deadline, now)
	}
	remaining := order.Remaining()
	if fillAmountIn.Cmp(remaining) > 0 {
		return nil, fmt.Errorf("%w: fill %s, remaining %s", ErrExceedsRemaining, fillAmountIn, remaining)
	}

	lhs := new(big.Int).Mul(fillAmountOut, order.AmountIn)
	rhs := new(big.Int).Mul(order.MinAmountOut, fillAmountIn)
	if lhs.Cmp(rhs) < 0 {
		return nil, fmt.Errorf("%w: %s/%s under limit", ErrPriceBelowLimit, fillAmountOut, fillAmountIn)
	}

	// fee = floor(fillAmountOut * feeRateBps / 10000)
	fee := new(big.Int).Mul(fillAmountOut, new(big.Int).SetUint64(e.feeRateBps))
	fee.Div(fee, big.NewInt(10000))
	netOut := new(big.Int).Sub(fillAmountOut, fee)

	entries := []token.Entry{
		// Release escrowed principal to the executor.
		{Token: order.TokenIn, From: e.escrow, To: executor, Amount: fillAmountIn},
		// Executor pays the owner, net of fee.
		{Token: order.TokenOut, From: executor, To: order.Owner, Amount: netOut},
	}
	if fee.Sign() > 0 {
		entries = append(entries, token.Entry{Token: order.TokenOut, From: executor, To: e.feeRecipient, Amount: fee})
	}
	if err := e.ledger.Apply(entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	order.FilledAmount.Add(order.FilledAmount, fillAmountIn)
	if err := e.store.Update(order); err != nil {
		// Persistence failed after the ledger committed: unwind both so
		// the call has no partial effects.
		order.FilledAmount.Sub(order.FilledAmount, fillAmountIn)
		reversed := make([]token.Entry, 0, len(entries))
		for _, entry := range entries {
			reversed = append(reversed, token.Entry{Token: entry.Token, From: entry.To, To: entry.From, Amount: entry.Amount})
		}
		if rbErr := e.ledger.Apply(reversed); rbErr != nil {
			e.log.Errorw("fill_rollback_failed", "id", id, "err", rbErr)
		}
		return nil, err
	}

	fill := &OrderFilledEvent{
		ID:            order.ID,
		OrderHash:     order.OrderHash,
		Owner:         order.Owner,
		Executor:      executor,
		FillAmountIn:  new(big.Int).Set(fillAmountIn),
		NetAmountOut:  netOut,
		Fee:           fee,
		IsFullyFilled: order.IsFullyFilled(),
	}
	e.emitLocked(Event{Type: EventOrderFilled, Filled: fill})
	e.log.Infow("order_filled",
		"id", order.ID,
		"executor", executor.Hex(),
		"fill_amount_in", fillAmountIn.String(),
		"net_amount_out", netOut.String(),
		"fee", fee.String(),
		"fully_filled", fill.IsFullyFilled,
	)

	return fill, nil
}

// ==============================
// Cancellation
// ==============================

// CancelOrder refunds the order's remaining principal to its owner and
// freezes the record. Available while paused: users must always be able
// to exit. Returns the refunded amount.
func (e *Engine) CancelOrder(caller common.Address, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.store.Get(id)
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if caller != order.Owner {
		return nil, ErrNotOrderOwner
	}
	if order.IsCancelled {
		return nil, ErrOrderCancelled
	}
	remaining := order.Remaining()
	if remaining.Sign() == 0 {
		return nil, ErrNothingToCancel
	}

	if err := e.ledger.Transfer(order.TokenIn, e.escrow, order.Owner, remaining); err != nil {
		return nil, fmt.Errorf("%w: refund: %v", ErrTransferFailed, err)
	}

	order.IsCancelled = true
	if err := e.store.Update(order); err != nil {
		order.IsCancelled = false
		if rbErr := e.ledger.Transfer(order.TokenIn, order.Owner, e.escrow, remaining); rbErr != nil {
			e.log.Errorw("cancel_rollback_failed", "id", id, "err", rbErr)
		}
		return nil, err
	}

	e.emitLocked(Event{
		Type: EventOrderCancelled,
		Cancelled: &OrderCancelledEvent{
			ID:        order.ID,
			OrderHash: order.OrderHash,
			Owner:     order.Owner,
			Refunded:  remaining,
		},
	})
	e.log.Infow("order_cancelled", "id", order.ID, "owner", order.Owner.Hex(), "refunded", remaining.String())

	return remaining, nil
}

// ==============================
// Reads
// ==============================

// GetOrder returns a consistent snapshot of the order.
func (e *Engine) GetOrder(id uint64) (*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	order := e.store.Get(id)
	if order == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return order.Clone(), nil
}

// ListByOwner returns snapshots of the owner's orders in insertion order.
func (e *Engine) ListByOwner(owner common.Address) []*Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.store.ListByOwner(owner)
	orders := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if order := e.store.Get(id); order != nil {
			orders = append(orders, order.Clone())
		}
	}
	return orders
}

// Orders returns snapshots of every order in insertion order.
func (e *Engine) Orders() []*Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.store.All()
	orders := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if order := e.store.Get(id); order != nil {
			orders = append(orders, order.Clone())
		}
	}
	return orders
}

// NonceOf returns the owner's current nonce counter.
func (e *Engine) NonceOf(owner common.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Nonce(owner)
}

// EventsSince returns journaled events with Seq > after, oldest first.
func (e *Engine) EventsSince(after uint64, limit int) ([]Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.EventsSince(after, limit)
}

// AdminState returns the current owner-mutable parameters.
func (e *Engine) AdminState() AdminConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return AdminConfig{
		Owner:        e.owner,
		FeeRecipient: e.feeRecipient,
		FeeRateBps:   e.feeRateBps,
		Paused:       e.paused,
	}
}

// ==============================
// Admin surface (owner-gated)
// ==============================

// SetFeeRate updates the protocol fee rate, bounded by the configured cap.
func (e *Engine) SetFeeRate(caller common.Address, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}
	if bps > e.maxFeeBps {
		return fmt.Errorf("%w: %d bps > cap %d bps", ErrFeeTooHigh, bps, e.maxFeeBps)
	}

	old := e.feeRateBps
	e.feeRateBps = bps
	if err := e.persistAdminLocked(); err != nil {
		e.feeRateBps = old
		return err
	}
	e.log.Infow("fee_rate_updated", "old_bps", old, "new_bps", bps)
	return nil
}

// SetFeeRecipient updates the fee destination address.
func (e *Engine) SetFeeRecipient(caller, recipient common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	old := e.feeRecipient
	e.feeRecipient = recipient
	if err := e.persistAdminLocked(); err != nil {
		e.feeRecipient = old
		return err
	}
	e.log.Infow("fee_recipient_updated", "recipient", recipient.Hex())
	return nil
}

// Pause stops order creation and settlement. Cancellation stays open.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

// Unpause resumes order creation and settlement.
func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	old := e.paused
	e.paused = paused
	if err := e.persistAdminLocked(); err != nil {
		e.paused = old
		return err
	}
	e.log.Infow("pause_toggled", "paused", paused)
	return nil
}

// TransferOwnership hands the admin surface to a new owner address.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("new owner is the zero address")
	}

	old := e.owner
	e.owner = newOwner
	if err := e.persistAdminLocked(); err != nil {
		e.owner = old
		return err
	}
	e.log.Infow("ownership_transferred", "old", old.Hex(), "new", newOwner.Hex())
	return nil
}

func (e *Engine) persistAdminLocked() error {
	return e.store.SaveAdminConfig(&AdminConfig{
		Owner:        e.owner,
		FeeRecipient: e.feeRecipient,
		FeeRateBps:   e.feeRateBps,
		Paused:       e.paused,
	})
}

// emitLocked journals and publishes an event. Assumes the engine lock
// is held and the state transition has already committed.
func (e *Engine) emitLocked(evt Event) {
	evt.Timestamp = e.clock.Now().Unix()
	if err := e.store.AppendEvent(&evt); err != nil {
		e.log.Warnw("event_journal_failed", "type", evt.Type, "err", err)
	}
	e.feed.Publish(evt)
}
