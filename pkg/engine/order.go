package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale for LimitPrice: a per-unit price
// of 1.0 tokenOut per tokenIn is 1e18.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Status is the derived lifecycle state of an order.
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFullyFilled     Status = "fully_filled"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// Order is the ledger-of-truth record for one signed limit order.
// Everything except FilledAmount and IsCancelled is immutable after
// creation. Orders are never deleted: terminal records persist as an
// audit trail.
type Order struct {
	ID           uint64         `json:"id"`
	OrderHash    common.Hash    `json:"orderHash"`
	Owner        common.Address `json:"owner"`
	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	AmountIn     *big.Int       `json:"amountIn"`
	MinAmountOut *big.Int       `json:"minAmountOut"`
	LimitPrice   *big.Int       `json:"limitPrice"` // per-unit, scaled by 1e18
	Deadline     int64          `json:"deadline"`   // Unix seconds
	Nonce        uint64         `json:"nonce"`
	FilledAmount *big.Int       `json:"filledAmount"`
	IsCancelled  bool           `json:"isCancelled"`
	CreatedAt    int64          `json:"createdAt"` // Unix seconds
}

// Remaining returns AmountIn - FilledAmount. Cancelled orders report
// zero: the unfilled principal was already refunded.
func (o *Order) Remaining() *big.Int {
	if o.IsCancelled {
		return new(big.Int)
	}
	return new(big.Int).Sub(o.AmountIn, o.FilledAmount)
}

// IsFullyFilled reports whether the whole principal has been consumed.
func (o *Order) IsFullyFilled() bool {
	return o.FilledAmount.Cmp(o.AmountIn) == 0
}

// StatusAt derives the lifecycle state at the given Unix time.
// Expiry is implicit: an open order past its deadline rejects fills but
// the record itself is unchanged until cancelled.
func (o *Order) StatusAt(now int64) Status {
	switch {
	case o.IsCancelled:
		return StatusCancelled
	case o.IsFullyFilled():
		return StatusFullyFilled
	case now > o.Deadline:
		return StatusExpired
	case o.FilledAmount.Sign() > 0:
		return StatusPartiallyFilled
	default:
		return StatusOpen
	}
}

// Clone returns a deep copy so readers never observe an order mid-fill.
func (o *Order) Clone() *Order {
	cp := *o
	cp.AmountIn = new(big.Int).Set(o.AmountIn)
	cp.MinAmountOut = new(big.Int).Set(o.MinAmountOut)
	cp.LimitPrice = new(big.Int).Set(o.LimitPrice)
	cp.FilledAmount = new(big.Int).Set(o.FilledAmount)
	return &cp
}
