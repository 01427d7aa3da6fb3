package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance is returned when a transfer would overdraw the
// sender. Callers treat any ledger failure as a full abort of the
// enclosing settlement call.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidAmount is returned for nil or negative transfer amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// Entry is a single leg of a transfer batch: move Amount of Token from
// From to To.
type Entry struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Ledger is the fungible-token transfer primitive the engine settles
// against. The production system delegates this to an external token
// contract; here it is an explicit ledger so tests and off-chain
// deployments can substitute their own.
//
// Apply is all-or-nothing: either every entry in the batch commits or
// none do. This is what gives executeOrder its atomicity — a failed
// output leg must not leave the escrow release behind.
type Ledger interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Apply(entries []Entry) error
}

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// MemLedger is an in-memory Ledger implementation.
// Balances move by exactly the requested amount: fee-on-transfer and
// rebasing token behavior is not modeled.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[balanceKey]*big.Int)}
}

// Mint credits amount of token to holder. Test/devnet funding only;
// the engine itself never mints.
func (l *MemLedger) Mint(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: mint %v", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(token, holder, amount)
	return nil
}

// BalanceOf returns holder's balance of token. The result is a copy.
func (l *MemLedger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.balances[balanceKey{token, holder}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves amount of token from one holder to another.
func (l *MemLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	return l.Apply([]Entry{{Token: token, From: from, To: to, Amount: amount}})
}

// Apply commits a batch of transfers atomically. Every debit is
// validated against the projected balance (earlier entries in the batch
// included) before anything is written, so a batch that would overdraw
// any sender leaves the ledger untouched.
func (l *MemLedger) Apply(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Stage projected balances for every account the batch touches.
	staged := make(map[balanceKey]*big.Int)
	load := func(k balanceKey) *big.Int {
		if bal, ok := staged[k]; ok {
			return bal
		}
		bal := new(big.Int)
		if cur, ok := l.balances[k]; ok {
			bal.Set(cur)
		}
		staged[k] = bal
		return bal
	}

	for _, e := range entries {
		if e.Amount == nil || e.Amount.Sign() < 0 {
			return fmt.Errorf("%w: transfer %v", ErrInvalidAmount, e.Amount)
		}
		fromBal := load(balanceKey{e.Token, e.From})
		if fromBal.Cmp(e.Amount) < 0 {
			return fmt.Errorf("%w: %s has %s of token %s, need %s",
				ErrInsufficientBalance, e.From.Hex(), fromBal.String(), e.Token.Hex(), e.Amount.String())
		}
		fromBal.Sub(fromBal, e.Amount)
		toBal := load(balanceKey{e.Token, e.To})
		toBal.Add(toBal, e.Amount)
	}

	for k, bal := range staged {
		l.balances[k] = bal
	}
	return nil
}

// credit assumes the lock is held.
func (l *MemLedger) credit(token, holder common.Address, amount *big.Int) {
	k := balanceKey{token, holder}
	if bal, ok := l.balances[k]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[k] = new(big.Int).Set(amount)
}

var _ Ledger = (*MemLedger)(nil)
