package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfill/openfill/params"
	"github.com/openfill/openfill/pkg/api"
	ofcrypto "github.com/openfill/openfill/pkg/crypto"
	"github.com/openfill/openfill/pkg/engine"
)

// sign-order builds and signs a limit order as EIP-712 typed data and
// prints the JSON body for POST /api/v1/orders. With no -key flag a
// fresh keypair is generated.
func main() {
	var (
		keyHex   = flag.String("key", "", "hex private key (generates a new one if empty)")
		tokenIn  = flag.String("token-in", "0x00000000000000000000000000000000000000A1", "token being sold")
		tokenOut = flag.String("token-out", "0x00000000000000000000000000000000000000B2", "token being bought")
		amountIn = flag.String("amount-in", "100", "total principal to escrow")
		minOut   = flag.String("min-out", "95", "minimum acceptable output for the whole order")
		ttl      = flag.Duration("ttl", time.Hour, "time until the order expires")
		nonce    = flag.Uint64("nonce", 0, "owner nonce (query /accounts/{addr}/nonce)")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")

	var signer *ofcrypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = ofcrypto.GenerateKey()
	} else {
		signer, err = ofcrypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("         (checksum via raw pubkey: %s)\n", ofcrypto.AddressFromUncompressedPub(signer.PublicKeyBytes()))
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	in, ok := new(big.Int).SetString(*amountIn, 10)
	if !ok {
		fmt.Println("Error: invalid -amount-in")
		os.Exit(1)
	}
	out, ok := new(big.Int).SetString(*minOut, 10)
	if !ok {
		fmt.Println("Error: invalid -min-out")
		os.Exit(1)
	}

	// limitPrice must agree with minOut/amountIn or the engine rejects it
	limitPrice := new(big.Int).Mul(out, engine.PriceScale)
	limitPrice.Div(limitPrice, in)
	deadline := time.Now().Add(*ttl).Unix()

	order := &ofcrypto.LimitOrderEIP712{
		TokenIn:      common.HexToAddress(*tokenIn),
		TokenOut:     common.HexToAddress(*tokenOut),
		AmountIn:     in,
		MinAmountOut: out,
		LimitPrice:   limitPrice,
		Deadline:     big.NewInt(deadline),
		Nonce:        new(big.Int).SetUint64(*nonce),
	}

	fmt.Println("Order Details:")
	fmt.Printf("  TokenIn:      %s\n", order.TokenIn.Hex())
	fmt.Printf("  TokenOut:     %s\n", order.TokenOut.Hex())
	fmt.Printf("  AmountIn:     %s\n", order.AmountIn.String())
	fmt.Printf("  MinAmountOut: %s\n", order.MinAmountOut.String())
	fmt.Printf("  LimitPrice:   %s (1e18-scaled)\n", order.LimitPrice.String())
	fmt.Printf("  Deadline:     %d\n", deadline)
	fmt.Printf("  Nonce:        %d\n\n", *nonce)

	engineCfg := cfg.EngineConfig()
	hasher := ofcrypto.NewEIP712Signer(engineCfg.Domain)
	signature, err := hasher.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Round-trip check before printing the submission body
	recovered, err := hasher.RecoverOrderSigner(order, signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if recovered != signer.Address() {
		fmt.Println("Signature verification FAILED")
		os.Exit(1)
	}
	fmt.Println("Signature verified.")

	body := api.SubmitOrderRequest{
		Owner:        signer.Address().Hex(),
		TokenIn:      order.TokenIn.Hex(),
		TokenOut:     order.TokenOut.Hex(),
		AmountIn:     order.AmountIn.String(),
		MinAmountOut: order.MinAmountOut.String(),
		LimitPrice:   order.LimitPrice.String(),
		Deadline:     deadline,
		Nonce:        *nonce,
		Signature:    fmt.Sprintf("0x%x", signature),
	}
	bodyJSON, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nTo submit this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(bodyJSON))

	// Wallet-compatible typed data, for eth_signTypedData_v4 flows
	typed, err := hasher.OrderToJSON(order)
	if err == nil {
		fmt.Println("\nEIP-712 typed data (for wallet signing):")
		fmt.Println(typed)
	}
}
