package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openfill/openfill/pkg/engine"
)

// Server exposes the settlement engine over REST and WebSocket. It is a
// discovery and submission surface only: every state transition goes
// through the engine, which enforces authorization.
type Server struct {
	engine *engine.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer creates an API server over the given engine.
func NewServer(eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: eng,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    logger.Sugar(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order discovery
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleListByOwner).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Order lifecycle
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")

	// Admin surface (owner-gated inside the engine)
	api.HandleFunc("/admin/fee-rate", s.handleSetFeeRate).Methods("POST")
	api.HandleFunc("/admin/fee-recipient", s.handleSetFeeRecipient).Methods("POST")
	api.HandleFunc("/admin/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/admin/unpause", s.handleUnpause).Methods("POST")
	api.HandleFunc("/admin/transfer-ownership", s.handleTransferOwnership).Methods("POST")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub, bridges engine events to WebSocket channels, and
// serves HTTP on addr. Blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.pumpEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// pumpEvents forwards the engine feed to websocket channels:
// creations and cancellations on "orders", settlements on "fills".
func (s *Server) pumpEvents() {
	events, cancel := s.engine.Feed().Subscribe()
	defer cancel()

	for evt := range events {
		msg := WSMessage{Type: string(evt.Type), Data: evt}
		switch evt.Type {
		case engine.EventOrderFilled:
			s.hub.BroadcastToChannel("fills", msg)
		default:
			s.hub.BroadcastToChannel("orders", msg)
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	now := s.engine.Now()
	orders := s.engine.Orders()
	infos := make([]OrderInfo, len(orders))
	for i, o := range orders {
		infos[i] = toOrderInfo(o, now)
	}
	respondJSON(w, infos)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondBadRequest(w, "invalid order id")
		return
	}

	order, err := s.engine.GetOrder(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, toOrderInfo(order, s.engine.Now()))
}

func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(mux.Vars(r)["address"])
	if !ok {
		respondBadRequest(w, "invalid address")
		return
	}

	now := s.engine.Now()
	orders := s.engine.ListByOwner(owner)
	infos := make([]OrderInfo, len(orders))
	for i, o := range orders {
		infos[i] = toOrderInfo(o, now)
	}
	respondJSON(w, infos)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(mux.Vars(r)["address"])
	if !ok {
		respondBadRequest(w, "invalid address")
		return
	}
	respondJSON(w, NonceInfo{Owner: owner.Hex(), Nonce: s.engine.NonceOf(owner)})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	after := uint64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondBadRequest(w, "invalid after cursor")
			return
		}
		after = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			respondBadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	events, err := s.engine.EventsSince(after, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if events == nil {
		events = []engine.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	state := s.engine.AdminState()
	respondJSON(w, ConfigInfo{
		Owner:        state.Owner.Hex(),
		FeeRecipient: state.FeeRecipient.Hex(),
		FeeRateBps:   state.FeeRateBps,
		Paused:       state.Paused,
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}

	owner, ok := parseAddress(req.Owner)
	if !ok {
		respondBadRequest(w, "invalid owner address")
		return
	}
	tokenIn, ok := parseAddress(req.TokenIn)
	if !ok {
		respondBadRequest(w, "invalid tokenIn address")
		return
	}
	tokenOut, ok := parseAddress(req.TokenOut)
	if !ok {
		respondBadRequest(w, "invalid tokenOut address")
		return
	}
	amountIn, ok := parseBig(req.AmountIn)
	if !ok {
		respondBadRequest(w, "invalid amountIn")
		return
	}
	minAmountOut, ok := parseBig(req.MinAmountOut)
	if !ok {
		respondBadRequest(w, "invalid minAmountOut")
		return
	}
	limitPrice, ok := parseBig(req.LimitPrice)
	if !ok {
		respondBadRequest(w, "invalid limitPrice")
		return
	}
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondBadRequest(w, "invalid signature encoding")
		return
	}

	order, err := s.engine.CreateOrder(engine.CreateOrderRequest{
		Owner:        owner,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minAmountOut,
		LimitPrice:   limitPrice,
		Deadline:     req.Deadline,
		Nonce:        req.Nonce,
		Signature:    signature,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toOrderInfo(order, s.engine.Now()))
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondBadRequest(w, "invalid order id")
		return
	}

	var req FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}
	executor, ok := parseAddress(req.Executor)
	if !ok {
		respondBadRequest(w, "invalid executor address")
		return
	}
	fillIn, ok := parseBig(req.FillAmountIn)
	if !ok {
		respondBadRequest(w, "invalid fillAmountIn")
		return
	}
	fillOut, ok := parseBig(req.FillAmountOut)
	if !ok {
		respondBadRequest(w, "invalid fillAmountOut")
		return
	}

	fill, err := s.engine.ExecuteOrder(executor, id, fillIn, fillOut)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, FillReceipt{
		ID:            fill.ID,
		OrderHash:     fill.OrderHash.Hex(),
		Owner:         fill.Owner.Hex(),
		Executor:      fill.Executor.Hex(),
		FillAmountIn:  fill.FillAmountIn.String(),
		NetAmountOut:  fill.NetAmountOut.String(),
		Fee:           fill.Fee.String(),
		IsFullyFilled: fill.IsFullyFilled,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondBadRequest(w, "invalid order id")
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		respondBadRequest(w, "invalid owner address")
		return
	}

	refunded, err := s.engine.CancelOrder(owner, id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, CancelReceipt{ID: id, Refunded: refunded.String()})
}

// ==============================
// Admin handlers
// ==============================

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.SetFeeRate(caller, req.FeeBps); err != nil {
		respondEngineError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	recipient, ok := parseAddress(req.Recipient)
	if !ok {
		respondBadRequest(w, "invalid recipient address")
		return
	}
	if err := s.engine.SetFeeRecipient(caller, recipient); err != nil {
		respondEngineError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		respondEngineError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	_, caller, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		respondEngineError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	newOwner, ok := parseAddress(req.NewOwner)
	if !ok {
		respondBadRequest(w, "invalid newOwner address")
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		respondEngineError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) decodeAdmin(w http.ResponseWriter, r *http.Request) (AdminRequest, common.Address, bool) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid JSON body")
		return req, common.Address{}, false
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondBadRequest(w, "invalid caller address")
		return req, common.Address{}, false
	}
	return req, caller, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func toOrderInfo(o *engine.Order, now int64) OrderInfo {
	return OrderInfo{
		ID:           o.ID,
		OrderHash:    o.OrderHash.Hex(),
		Owner:        o.Owner.Hex(),
		TokenIn:      o.TokenIn.Hex(),
		TokenOut:     o.TokenOut.Hex(),
		AmountIn:     o.AmountIn.String(),
		MinAmountOut: o.MinAmountOut.String(),
		LimitPrice:   o.LimitPrice.String(),
		Deadline:     o.Deadline,
		Nonce:        o.Nonce,
		FilledAmount: o.FilledAmount.String(),
		Remaining:    o.Remaining().String(),
		Status:       string(o.StatusAt(now)),
		CreatedAt:    o.CreatedAt,
	}
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseBig(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondBadRequest(w http.ResponseWriter, detail string) {
	respondError(w, http.StatusBadRequest, "BAD_REQUEST", detail)
}

func respondError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: http.StatusText(status), Code: code, Detail: detail})
}

// engineErrorCodes maps engine sentinel errors to HTTP status and a
// stable code string. Unlisted errors surface as 500.
var engineErrorCodes = []struct {
	err    error
	status int
	code   string
}{
	{engine.ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE"},
	{engine.ErrSignerMismatch, http.StatusUnauthorized, "SIGNER_MISMATCH"},
	{engine.ErrNonceMismatch, http.StatusConflict, "NONCE_MISMATCH"},
	{engine.ErrDuplicateOrder, http.StatusConflict, "DUPLICATE_ORDER"},
	{engine.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{engine.ErrOrderCancelled, http.StatusConflict, "ORDER_CANCELLED"},
	{engine.ErrOrderExpired, http.StatusGone, "ORDER_EXPIRED"},
	{engine.ErrExceedsRemaining, http.StatusConflict, "EXCEEDS_REMAINING"},
	{engine.ErrPriceBelowLimit, http.StatusUnprocessableEntity, "PRICE_BELOW_LIMIT"},
	{engine.ErrNothingToCancel, http.StatusConflict, "NOTHING_TO_CANCEL"},
	{engine.ErrInvalidOrder, http.StatusBadRequest, "INVALID_ORDER"},
	{engine.ErrPriceInconsistent, http.StatusBadRequest, "PRICE_INCONSISTENT"},
	{engine.ErrInvalidFill, http.StatusBadRequest, "INVALID_FILL"},
	{engine.ErrNotOrderOwner, http.StatusForbidden, "NOT_ORDER_OWNER"},
	{engine.ErrNotOwner, http.StatusForbidden, "NOT_OWNER"},
	{engine.ErrFeeTooHigh, http.StatusBadRequest, "FEE_TOO_HIGH"},
	{engine.ErrEnginePaused, http.StatusServiceUnavailable, "ENGINE_PAUSED"},
	{engine.ErrTransferFailed, http.StatusBadGateway, "TRANSFER_FAILED"},
}

func respondEngineError(w http.ResponseWriter, err error) {
	for _, entry := range engineErrorCodes {
		if errors.Is(err, entry.err) {
			respondError(w, entry.status, entry.code, err.Error())
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}
