package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/engine instances
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "OpenFill")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Engine instance address (or zero for off-chain)
}

// LimitOrderEIP712 represents a limit order for EIP-712 signing
// This is the typed data structure users sign in their wallets.
// The owner is NOT a signed field: it is recovered from the signature,
// which is what makes relayer submission on the owner's behalf safe.
type LimitOrderEIP712 struct {
	TokenIn      common.Address // Asset the owner is selling
	TokenOut     common.Address // Asset the owner wants to receive
	AmountIn     *big.Int       // Total principal escrowed at creation
	MinAmountOut *big.Int       // Minimum acceptable output for the whole order
	LimitPrice   *big.Int       // Per-unit floor price, scaled by 1e18
	Deadline     *big.Int       // Expiration timestamp (Unix seconds)
	Nonce        *big.Int       // Owner's sequential nonce at signing time
}

// EIP712Signer handles EIP-712 typed data hashing for limit orders
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the default EIP-712 domain for OpenFill
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "OpenFill",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{}, // Zero address for off-chain signing
	}
}

func (e *EIP712Signer) typedData(order *LimitOrderEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"LimitOrder": []apitypes.Type{
				{Name: "tokenIn", Type: "address"},
				{Name: "tokenOut", Type: "address"},
				{Name: "amountIn", Type: "uint256"},
				{Name: "minAmountOut", Type: "uint256"},
				{Name: "limitPrice", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "LimitOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"tokenIn":      order.TokenIn.Hex(),
			"tokenOut":     order.TokenOut.Hex(),
			"amountIn":     order.AmountIn.String(),
			"minAmountOut": order.MinAmountOut.String(),
			"limitPrice":   order.LimitPrice.String(),
			"deadline":     order.Deadline.String(),
			"nonce":        order.Nonce.String(),
		},
	}
}

// HashOrder hashes a limit order according to EIP-712 spec
// Returns the digest that should be signed. It covers the struct fields
// only, never the signature bytes.
func (e *EIP712Signer) HashOrder(order *LimitOrderEIP712) ([]byte, error) {
	typedData := e.typedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// HashOrderContent hashes the order's content fields — everything the
// user signs except the nonce — under the same domain. This is the
// engine's global idempotency key: re-signing identical content under a
// fresh nonce yields the same content hash and is rejected as a
// duplicate, while the full signing digest above still binds the nonce
// for replay protection.
func (e *EIP712Signer) HashOrderContent(order *LimitOrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"LimitOrderContent": []apitypes.Type{
				{Name: "tokenIn", Type: "address"},
				{Name: "tokenOut", Type: "address"},
				{Name: "amountIn", Type: "uint256"},
				{Name: "minAmountOut", Type: "uint256"},
				{Name: "limitPrice", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "LimitOrderContent",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"tokenIn":      order.TokenIn.Hex(),
			"tokenOut":     order.TokenOut.Hex(),
			"amountIn":     order.AmountIn.String(),
			"minAmountOut": order.MinAmountOut.String(),
			"limitPrice":   order.LimitPrice.String(),
			"deadline":     order.Deadline.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	contentHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash content: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(contentHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignOrder signs a limit order and returns the signature
func (e *EIP712Signer) SignOrder(signer *Signer, order *LimitOrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}

	return signature, nil
}

// RecoverOrderSigner recovers the address that signed a limit order
// The engine compares the result against the claimed owner; a mismatch
// is the caller's SignerMismatch condition, not a recovery failure.
func (e *EIP712Signer) RecoverOrderSigner(order *LimitOrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}

	return RecoverAddress(hash, signature)
}

// VerifyOrderSignature verifies that an order signature was produced by owner
func (e *EIP712Signer) VerifyOrderSignature(order *LimitOrderEIP712, owner common.Address, signature []byte) (bool, error) {
	recovered, err := e.RecoverOrderSigner(order, signature)
	if err != nil {
		return false, err
	}
	return recovered == owner, nil
}

// OrderToJSON converts a limit order to JSON for frontend/wallet signing
// MetaMask and other wallets use this format for eth_signTypedData_v4
func (e *EIP712Signer) OrderToJSON(order *LimitOrderEIP712) (string, error) {
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"LimitOrder": []map[string]string{
				{"name": "tokenIn", "type": "address"},
				{"name": "tokenOut", "type": "address"},
				{"name": "amountIn", "type": "uint256"},
				{"name": "minAmountOut", "type": "uint256"},
				{"name": "limitPrice", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
			},
		},
		"primaryType": "LimitOrder",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"tokenIn":      order.TokenIn.Hex(),
			"tokenOut":     order.TokenOut.Hex(),
			"amountIn":     order.AmountIn.String(),
			"minAmountOut": order.MinAmountOut.String(),
			"limitPrice":   order.LimitPrice.String(),
			"deadline":     order.Deadline.String(),
			"nonce":        order.Nonce.String(),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(jsonBytes), nil
}
