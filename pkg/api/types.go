package api

// Request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the relayer-compatible creation call body.
// Big integers travel as decimal strings; the signature is 0x-prefixed
// 65-byte hex.
type SubmitOrderRequest struct {
	Owner        string `json:"owner"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	LimitPrice   string `json:"limitPrice"`
	Deadline     int64  `json:"deadline"`
	Nonce        uint64 `json:"nonce"`
	Signature    string `json:"signature"`
}

// FillRequest settles part of an order. The executor pays fillAmountOut
// of tokenOut and receives fillAmountIn of the escrowed tokenIn.
type FillRequest struct {
	Executor      string `json:"executor"`
	FillAmountIn  string `json:"fillAmountIn"`
	FillAmountOut string `json:"fillAmountOut"`
}

// CancelRequest identifies the caller claiming to be the order owner.
type CancelRequest struct {
	Owner string `json:"owner"`
}

// AdminRequest carries an owner-gated parameter change.
type AdminRequest struct {
	Caller    string `json:"caller"`
	FeeBps    uint64 `json:"feeBps,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	NewOwner  string `json:"newOwner,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo is the external view of an order record.
type OrderInfo struct {
	ID           uint64 `json:"id"`
	OrderHash    string `json:"orderHash"`
	Owner        string `json:"owner"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	LimitPrice   string `json:"limitPrice"`
	Deadline     int64  `json:"deadline"`
	Nonce        uint64 `json:"nonce"`
	FilledAmount string `json:"filledAmount"`
	Remaining    string `json:"remaining"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
}

// FillReceipt reports a successful settlement leg.
type FillReceipt struct {
	ID            uint64 `json:"id"`
	OrderHash     string `json:"orderHash"`
	Owner         string `json:"owner"`
	Executor      string `json:"executor"`
	FillAmountIn  string `json:"fillAmountIn"`
	NetAmountOut  string `json:"netAmountOut"`
	Fee           string `json:"fee"`
	IsFullyFilled bool   `json:"isFullyFilled"`
}

// CancelReceipt reports a successful cancellation.
type CancelReceipt struct {
	ID       uint64 `json:"id"`
	Refunded string `json:"refunded"`
}

// NonceInfo reports an owner's current counter, for wallets building
// the next authorization.
type NonceInfo struct {
	Owner string `json:"owner"`
	Nonce uint64 `json:"nonce"`
}

// ConfigInfo is the public view of the admin parameters.
type ConfigInfo struct {
	Owner        string `json:"owner"`
	FeeRecipient string `json:"feeRecipient"`
	FeeRateBps   uint64 `json:"feeRateBps"`
	Paused       bool   `json:"paused"`
}

// ErrorResponse carries a stable machine-readable code so relayers can
// distinguish permanent rejections from retryable ones.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "order_created", "order_filled", "order_cancelled"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
