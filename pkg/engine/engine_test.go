package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	ofcrypto "github.com/openfill/openfill/pkg/crypto"
	"github.com/openfill/openfill/pkg/token"
	"github.com/openfill/openfill/pkg/util"
)

var (
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	escrow   = common.HexToAddress("0x00000000000000000000000000000000000F111d")
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000Ad1")
	feeVault = common.HexToAddress("0x000000000000000000000000000000000000Fee5")
	execAddr = common.HexToAddress("0x000000000000000000000000000000000000E8eC")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000005742")
)

type testEnv struct {
	eng    *Engine
	store  *OrderStore
	ledger *token.MemLedger
	clock  *util.FakeClock
	signer *ofcrypto.Signer
	hasher *ofcrypto.EIP712Signer
	owner  common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := NewOrderStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	domain := ofcrypto.EIP712Domain{
		Name:              "OpenFill",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: escrow,
	}
	clock := &util.FakeClock{Current: time.Unix(1_800_000_000, 0)}
	ledger := token.NewMemLedger()

	eng, err := NewEngine(Config{
		Domain:       domain,
		Owner:        admin,
		FeeRecipient: feeVault,
		FeeRateBps:   30,
		MaxFeeBps:    100,
	}, store, ledger, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	signer, err := ofcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	return &testEnv{
		eng:    eng,
		store:  store,
		ledger: ledger,
		clock:  clock,
		signer: signer,
		hasher: ofcrypto.NewEIP712Signer(domain),
		owner:  signer.Address(),
	}
}

// signedRequest builds a fully signed creation request for amountIn of
// tokenA against at least minOut of tokenB, expiring ttl from now.
func (env *testEnv) signedRequest(t *testing.T, amountIn, minOut int64, ttl time.Duration, nonce uint64) CreateOrderRequest {
	t.Helper()

	in := big.NewInt(amountIn)
	out := big.NewInt(minOut)
	limitPrice := new(big.Int).Mul(out, PriceScale)
	limitPrice.Div(limitPrice, in)
	deadline := env.clock.Now().Add(ttl).Unix()

	msg := &ofcrypto.LimitOrderEIP712{
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     in,
		MinAmountOut: out,
		LimitPrice:   limitPrice,
		Deadline:     big.NewInt(deadline),
		Nonce:        new(big.Int).SetUint64(nonce),
	}
	sig, err := env.hasher.SignOrder(env.signer, msg)
	if err != nil {
		t.Fatalf("failed to sign order: %v", err)
	}

	return CreateOrderRequest{
		Owner:        env.owner,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     in,
		MinAmountOut: out,
		LimitPrice:   limitPrice,
		Deadline:     deadline,
		Nonce:        nonce,
		Signature:    sig,
	}
}

// createFunded mints the principal and admits a standard order.
func (env *testEnv) createFunded(t *testing.T, amountIn, minOut int64) *Order {
	t.Helper()

	env.ledger.Mint(tokenA, env.owner, big.NewInt(amountIn))
	req := env.signedRequest(t, amountIn, minOut, time.Hour, env.eng.NonceOf(env.owner))
	order, err := env.eng.CreateOrder(req)
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	return order
}

func bal(env *testEnv, tok, holder common.Address) int64 {
	return env.ledger.BalanceOf(tok, holder).Int64()
}

// ==============================
// Creation
// ==============================

func TestCreateOrderEscrowsPrincipal(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)

	if order.ID != 1 {
		t.Errorf("first order id: got %d, want 1", order.ID)
	}
	if got := bal(env, tokenA, env.owner); got != 0 {
		t.Errorf("owner tokenA after escrow: got %d, want 0", got)
	}
	if got := bal(env, tokenA, escrow); got != 100 {
		t.Errorf("escrow tokenA: got %d, want 100", got)
	}
	if env.eng.NonceOf(env.owner) != 1 {
		t.Errorf("nonce after create: got %d, want 1", env.eng.NonceOf(env.owner))
	}
	if order.StatusAt(env.eng.Now()) != StatusOpen {
		t.Errorf("status: got %s, want open", order.StatusAt(env.eng.Now()))
	}

	events, err := env.eng.EventsSince(0, 10)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventOrderCreated {
		t.Fatalf("expected one order_created event, got %+v", events)
	}
	if events[0].Created.OrderHash != order.OrderHash {
		t.Error("event hash does not match order hash")
	}
}

func TestCreateOrderRejectsWrongNonce(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Mint(tokenA, env.owner, big.NewInt(100))

	req := env.signedRequest(t, 100, 95, time.Hour, 5)
	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("got %v, want ErrNonceMismatch", err)
	}
	// Nothing consumed
	if env.eng.NonceOf(env.owner) != 0 {
		t.Error("nonce consumed by rejected create")
	}
	if got := bal(env, tokenA, env.owner); got != 100 {
		t.Errorf("funds moved on rejected create: owner has %d", got)
	}
}

func TestCreateOrderRejectsResubmission(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Mint(tokenA, env.owner, big.NewInt(200))

	req := env.signedRequest(t, 100, 95, time.Hour, 0)
	if _, err := env.eng.CreateOrder(req); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// The identical signed authorization again: its nonce is consumed.
	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("resubmission: got %v, want ErrNonceMismatch", err)
	}
}

func TestCreateOrderRejectsDuplicateContent(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Mint(tokenA, env.owner, big.NewInt(200))

	if _, err := env.eng.CreateOrder(env.signedRequest(t, 100, 95, time.Hour, 0)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Same content re-signed under the fresh nonce is still the same order.
	req := env.signedRequest(t, 100, 95, time.Hour, 1)
	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("duplicate content: got %v, want ErrDuplicateOrder", err)
	}
	// The rejected nonce is not consumed; different content still works.
	if env.eng.NonceOf(env.owner) != 1 {
		t.Errorf("nonce after rejected duplicate: got %d, want 1", env.eng.NonceOf(env.owner))
	}
	if _, err := env.eng.CreateOrder(env.signedRequest(t, 100, 96, time.Hour, 1)); err != nil {
		t.Fatalf("fresh content rejected: %v", err)
	}
}

func TestCreateOrderRejectsSignerMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Mint(tokenA, env.owner, big.NewInt(100))

	req := env.signedRequest(t, 100, 95, time.Hour, 0)

	mallory, err := ofcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
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
	req.Signature, err = env.hasher.SignOrder(mallory, msg)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("got %v, want ErrSignerMismatch", err)
	}
}

func TestCreateOrderRejectsMalleatedSignature(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Mint(tokenA, env.owner, big.NewInt(100))

	req := env.signedRequest(t, 100, 95, time.Hour, 0)

	r, s, v, err := ofcrypto.SignatureToRSV(req.Signature)
	if err != nil {
		t.Fatalf("failed to split signature: %v", err)
	}
	n := gethcrypto.S256().Params().N
	req.Signature = ofcrypto.RSVToSignature(r, new(big.Int).Sub(n, s), v^1)

	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestCreateOrderRejectsBadParams(t *testing.T) {
	env := newTestEnv(t)

	base := env.signedRequest(t, 100, 95, time.Hour, 0)

	zeroIn := base
	zeroIn.AmountIn = big.NewInt(0)
	if _, err := env.eng.CreateOrder(zeroIn); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("zero amountIn: got %v, want ErrInvalidOrder", err)
	}

	sameTokens := base
	sameTokens.TokenOut = sameTokens.TokenIn
	if _, err := env.eng.CreateOrder(sameTokens); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("tokenIn == tokenOut: got %v, want ErrInvalidOrder", err)
	}

	shortSig := base
	shortSig.Signature = shortSig.Signature[:64]
	if _, err := env.eng.CreateOrder(shortSig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short signature: got %v, want ErrInvalidSignature", err)
	}

	badPrice := base
	badPrice.LimitPrice = new(big.Int).Add(base.LimitPrice, big.NewInt(1))
	if _, err := env.eng.CreateOrder(badPrice); !errors.Is(err, ErrPriceInconsistent) {
		t.Errorf("inconsistent limit price: got %v, want ErrPriceInconsistent", err)
	}
}

func TestCreateOrderRejectsUnfundedOwner(t *testing.T) {
	env := newTestEnv(t)

	req := env.signedRequest(t, 100, 95, time.Hour, 0)
	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	// The failed escrow must not consume the nonce: the same signature
	// is good once the owner funds the account.
	if env.eng.NonceOf(env.owner) != 0 {
		t.Error("nonce consumed by failed escrow")
	}
	env.ledger.Mint(tokenA, env.owner, big.NewInt(100))
	if _, err := env.eng.CreateOrder(req); err != nil {
		t.Fatalf("funded retry failed: %v", err)
	}
}

// ==============================
// Settlement
// ==============================

func TestExecuteOrderPartialFillLifecycle(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))

	// Fill 40 at output 80: ratio 2.0 well above the 0.95 floor.
	fill, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(40), big.NewInt(80))
	if err != nil {
		t.Fatalf("first fill failed: %v", err)
	}
	// fee = floor(80 * 30 / 10000) = 0
	if fill.Fee.Sign() != 0 {
		t.Errorf("fee: got %s, want 0", fill.Fee)
	}
	if fill.NetAmountOut.Cmp(big.NewInt(80)) != 0 {
		t.Errorf("net out: got %s, want 80", fill.NetAmountOut)
	}
	if fill.IsFullyFilled {
		t.Error("40/100 reported fully filled")
	}
	if got := bal(env, tokenA, execAddr); got != 40 {
		t.Errorf("executor tokenA: got %d, want 40", got)
	}
	if got := bal(env, tokenB, env.owner); got != 80 {
		t.Errorf("owner tokenB: got %d, want 80", got)
	}

	mid, err := env.eng.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if mid.FilledAmount.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("filled: got %s, want 40", mid.FilledAmount)
	}
	if mid.StatusAt(env.eng.Now()) != StatusPartiallyFilled {
		t.Errorf("status: got %s, want partially_filled", mid.StatusAt(env.eng.Now()))
	}

	// Fill the remaining 60 at output 120.
	fill2, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(60), big.NewInt(120))
	if err != nil {
		t.Fatalf("second fill failed: %v", err)
	}
	if !fill2.IsFullyFilled {
		t.Error("order not reported fully filled")
	}

	final, _ := env.eng.GetOrder(order.ID)
	if final.FilledAmount.Cmp(final.AmountIn) != 0 {
		t.Errorf("filled %s != amountIn %s", final.FilledAmount, final.AmountIn)
	}
	if final.Remaining().Sign() != 0 {
		t.Errorf("remaining: got %s, want 0", final.Remaining())
	}
	if got := bal(env, tokenA, escrow); got != 0 {
		t.Errorf("escrow tokenA after full fill: got %d, want 0", got)
	}

	// Nothing left to fill.
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(1), big.NewInt(2)); !errors.Is(err, ErrExceedsRemaining) {
		t.Fatalf("overfill: got %v, want ErrExceedsRemaining", err)
	}
}

func TestExecuteOrderFeeExtraction(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(10000))

	// fee = floor(9500 * 30 / 10000) = 28
	fill, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(100), big.NewInt(9500))
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if fill.Fee.Cmp(big.NewInt(28)) != 0 {
		t.Errorf("fee: got %s, want 28", fill.Fee)
	}
	if fill.NetAmountOut.Cmp(big.NewInt(9472)) != 0 {
		t.Errorf("net out: got %s, want 9472", fill.NetAmountOut)
	}
	// netAmountOut + fee == fillAmountOut
	sum := new(big.Int).Add(fill.NetAmountOut, fill.Fee)
	if sum.Cmp(big.NewInt(9500)) != 0 {
		t.Errorf("net + fee = %s, want 9500", sum)
	}
	if got := bal(env, tokenB, feeVault); got != 28 {
		t.Errorf("fee recipient tokenB: got %d, want 28", got)
	}
	if got := bal(env, tokenB, env.owner); got != 9472 {
		t.Errorf("owner tokenB: got %d, want 9472", got)
	}
}

func TestExecuteOrderPriceBoundary(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))

	// Below the bound: 18 * 100 < 95 * 20
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(20), big.NewInt(18)); !errors.Is(err, ErrPriceBelowLimit) {
		t.Fatalf("underpriced fill: got %v, want ErrPriceBelowLimit", err)
	}
	// Exactly at the bound: 19 * 100 == 95 * 20
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(20), big.NewInt(19)); err != nil {
		t.Fatalf("boundary fill failed: %v", err)
	}
}

func TestExecuteOrderDeadline(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))

	// At the deadline itself a fill still settles.
	env.clock.Advance(time.Hour)
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(10), big.NewInt(10)); err != nil {
		t.Fatalf("fill at deadline failed: %v", err)
	}

	// One second past, it does not.
	env.clock.Advance(time.Second)
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(10), big.NewInt(10)); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expired fill: got %v, want ErrOrderExpired", err)
	}

	// The record itself is unchanged; the owner can still exit.
	refunded, err := env.eng.CancelOrder(env.owner, order.ID)
	if err != nil {
		t.Fatalf("cancel after expiry failed: %v", err)
	}
	if refunded.Cmp(big.NewInt(90)) != 0 {
		t.Errorf("refund: got %s, want 90", refunded)
	}
}

func TestExecuteOrderRejectsUnknownAndInvalid(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.eng.ExecuteOrder(execAddr, 42, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown id: got %v, want ErrOrderNotFound", err)
	}

	order := env.createFunded(t, 100, 95)
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(0), big.NewInt(1)); !errors.Is(err, ErrInvalidFill) {
		t.Errorf("zero fillIn: got %v, want ErrInvalidFill", err)
	}
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(1), nil); !errors.Is(err, ErrInvalidFill) {
		t.Errorf("nil fillOut: got %v, want ErrInvalidFill", err)
	}
}

func TestExecuteOrderAtomicOnTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	// Executor holds no tokenB at all.

	_, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(40), big.NewInt(80))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	after, _ := env.eng.GetOrder(order.ID)
	if after.FilledAmount.Sign() != 0 {
		t.Errorf("filledAmount leaked: %s", after.FilledAmount)
	}
	if got := bal(env, tokenA, escrow); got != 100 {
		t.Errorf("escrow tokenA: got %d, want 100", got)
	}
	if got := bal(env, tokenA, execAddr); got != 0 {
		t.Errorf("executor tokenA: got %d, want 0", got)
	}
}

func TestFilledAmountAccounting(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 50)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))

	fills := []int64{10, 25, 5, 60}
	total := int64(0)
	for _, amount := range fills {
		if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(amount), big.NewInt(amount)); err != nil {
			t.Fatalf("fill %d failed: %v", amount, err)
		}
		total += amount

		current, _ := env.eng.GetOrder(order.ID)
		if current.FilledAmount.Cmp(big.NewInt(total)) != 0 {
			t.Fatalf("filled: got %s, want %d", current.FilledAmount, total)
		}
		if current.FilledAmount.Cmp(current.AmountIn) > 0 {
			t.Fatal("filledAmount exceeds amountIn")
		}
	}
}

// ==============================
// Cancellation
// ==============================

func TestCancelOrderRefundsRemaining(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)

	refunded, err := env.eng.CancelOrder(env.owner, order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if refunded.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("refund: got %s, want 100", refunded)
	}
	if got := bal(env, tokenA, env.owner); got != 100 {
		t.Errorf("owner tokenA: got %d, want 100", got)
	}

	after, _ := env.eng.GetOrder(order.ID)
	if !after.IsCancelled {
		t.Error("order not flagged cancelled")
	}
	if after.Remaining().Sign() != 0 {
		t.Errorf("cancelled remaining: got %s, want 0", after.Remaining())
	}

	env.ledger.Mint(tokenB, execAddr, big.NewInt(100))
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrOrderCancelled) {
		t.Errorf("fill after cancel: got %v, want ErrOrderCancelled", err)
	}
	if _, err := env.eng.CancelOrder(env.owner, order.ID); !errors.Is(err, ErrOrderCancelled) {
		t.Errorf("double cancel: got %v, want ErrOrderCancelled", err)
	}
}

func TestCancelOrderAfterPartialFill(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))

	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(40), big.NewInt(80)); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	refunded, err := env.eng.CancelOrder(env.owner, order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if refunded.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("refund: got %s, want 60", refunded)
	}
}

func TestCancelOrderAccessAndTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)

	if _, err := env.eng.CancelOrder(stranger, order.ID); !errors.Is(err, ErrNotOrderOwner) {
		t.Errorf("stranger cancel: got %v, want ErrNotOrderOwner", err)
	}
	if _, err := env.eng.CancelOrder(env.owner, 42); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown id: got %v, want ErrOrderNotFound", err)
	}

	env.ledger.Mint(tokenB, execAddr, big.NewInt(1000))
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(100), big.NewInt(200)); err != nil {
		t.Fatalf("full fill failed: %v", err)
	}
	if _, err := env.eng.CancelOrder(env.owner, order.ID); !errors.Is(err, ErrNothingToCancel) {
		t.Errorf("cancel of fully filled: got %v, want ErrNothingToCancel", err)
	}
}

// ==============================
// Pause & admin
// ==============================

func TestPauseBlocksEntryButNotExit(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)

	if err := env.eng.Pause(stranger); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger pause: got %v, want ErrNotOwner", err)
	}
	if err := env.eng.Pause(admin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	env.ledger.Mint(tokenA, env.owner, big.NewInt(100))
	req := env.signedRequest(t, 100, 96, time.Hour, env.eng.NonceOf(env.owner))
	if _, err := env.eng.CreateOrder(req); !errors.Is(err, ErrEnginePaused) {
		t.Errorf("create while paused: got %v, want ErrEnginePaused", err)
	}

	env.ledger.Mint(tokenB, execAddr, big.NewInt(100))
	if _, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(10), big.NewInt(10)); !errors.Is(err, ErrEnginePaused) {
		t.Errorf("fill while paused: got %v, want ErrEnginePaused", err)
	}

	// Users must always be able to exit.
	if _, err := env.eng.CancelOrder(env.owner, order.ID); err != nil {
		t.Errorf("cancel while paused failed: %v", err)
	}

	if err := env.eng.Unpause(admin); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	if _, err := env.eng.CreateOrder(req); err != nil {
		t.Errorf("create after unpause failed: %v", err)
	}
}

func TestAdminFeeRate(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eng.SetFeeRate(stranger, 10); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger set: got %v, want ErrNotOwner", err)
	}
	if err := env.eng.SetFeeRate(admin, 101); !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("over cap: got %v, want ErrFeeTooHigh", err)
	}
	if err := env.eng.SetFeeRate(admin, 0); err != nil {
		t.Fatalf("zero rate rejected: %v", err)
	}

	// No fee at 0 bps
	order := env.createFunded(t, 100, 95)
	env.ledger.Mint(tokenB, execAddr, big.NewInt(10000))
	fill, err := env.eng.ExecuteOrder(execAddr, order.ID, big.NewInt(100), big.NewInt(9500))
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if fill.Fee.Sign() != 0 {
		t.Errorf("fee at 0 bps: got %s", fill.Fee)
	}
	if got := bal(env, tokenB, feeVault); got != 0 {
		t.Errorf("fee vault at 0 bps: got %d", got)
	}
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t)

	newOwner := common.HexToAddress("0x0000000000000000000000000000000000001337")
	if err := env.eng.TransferOwnership(stranger, newOwner); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger transfer: got %v, want ErrNotOwner", err)
	}
	if err := env.eng.TransferOwnership(admin, newOwner); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if err := env.eng.SetFeeRate(admin, 10); !errors.Is(err, ErrNotOwner) {
		t.Errorf("old owner still in control: %v", err)
	}
	if err := env.eng.SetFeeRate(newOwner, 10); err != nil {
		t.Errorf("new owner rejected: %v", err)
	}
}

// ==============================
// Reads
// ==============================

func TestListByOwnerInsertionOrder(t *testing.T) {
	env := newTestEnv(t)

	first := env.createFunded(t, 100, 95)
	second := env.createFunded(t, 200, 100)
	third := env.createFunded(t, 300, 150)

	orders := env.eng.ListByOwner(env.owner)
	if len(orders) != 3 {
		t.Fatalf("got %d orders, want 3", len(orders))
	}
	wantIDs := []uint64{first.ID, second.ID, third.ID}
	for i, o := range orders {
		if o.ID != wantIDs[i] {
			t.Errorf("position %d: got id %d, want %d", i, o.ID, wantIDs[i])
		}
	}

	if got := env.eng.ListByOwner(stranger); len(got) != 0 {
		t.Errorf("stranger has %d orders", len(got))
	}
}

func TestGetOrderReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	order := env.createFunded(t, 100, 95)

	snap, err := env.eng.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	snap.FilledAmount.SetInt64(999)

	fresh, _ := env.eng.GetOrder(order.ID)
	if fresh.FilledAmount.Sign() != 0 {
		t.Error("mutating a snapshot leaked into the store")
	}
}
