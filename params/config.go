package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	ofcrypto "github.com/openfill/openfill/pkg/crypto"
	"github.com/openfill/openfill/pkg/engine"
)

// Domain configures the EIP-712 scope orders are signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string // engine instance address, doubles as the escrow account
}

// Fees configures the protocol fee on the maker-receives leg.
type Fees struct {
	RateBps     uint64 // current rate
	MaxBps      uint64 // hard cap, immutable at runtime
	Recipient   string
	Paused      bool
	EngineOwner string
}

// Node configures the service process.
type Node struct {
	DBPath  string
	APIAddr string
	LogFile string
	// DevFundWei mints this much of every referenced token to submitting
	// accounts on a dev ledger. Zero disables dev funding.
	DevFundWei int64
}

type Config struct {
	Domain Domain
	Fees   Fees
	Node   Node
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:              "OpenFill",
			Version:           "1",
			ChainID:           1337, // Local dev chain
			VerifyingContract: "0x00000000000000000000000000000000000F111d",
		},
		Fees: Fees{
			RateBps:     30,  // 0.30%
			MaxBps:      100, // 1% hard cap
			Recipient:   "0x000000000000000000000000000000000000Fee5",
			Paused:      false,
			EngineOwner: "0x0000000000000000000000000000000000000Ad1",
		},
		Node: Node{
			DBPath:     "data/openfill",
			APIAddr:    ":8080",
			LogFile:    "data/engine.log",
			DevFundWei: 0,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Domain.ChainID = id
		}
	}
	if v := os.Getenv("VERIFYING_CONTRACT"); v != "" {
		cfg.Domain.VerifyingContract = v
	}
	if v := os.Getenv("FEE_RATE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Fees.RateBps = bps
		}
	}
	if v := os.Getenv("MAX_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Fees.MaxBps = bps
		}
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		cfg.Fees.Recipient = v
	}
	if v := os.Getenv("ENGINE_OWNER"); v != "" {
		cfg.Fees.EngineOwner = v
	}
	if v := os.Getenv("START_PAUSED"); v != "" {
		cfg.Fees.Paused = v == "true"
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("DEV_FUND_WEI"); v != "" {
		if amount, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Node.DevFundWei = amount
		}
	}

	return cfg
}

// EngineConfig converts the loaded parameters into the engine's config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Domain: ofcrypto.EIP712Domain{
			Name:              c.Domain.Name,
			Version:           c.Domain.Version,
			ChainID:           big.NewInt(c.Domain.ChainID),
			VerifyingContract: common.HexToAddress(c.Domain.VerifyingContract),
		},
		Owner:        common.HexToAddress(c.Fees.EngineOwner),
		FeeRecipient: common.HexToAddress(c.Fees.Recipient),
		FeeRateBps:   c.Fees.RateBps,
		MaxFeeBps:    c.Fees.MaxBps,
		Paused:       c.Fees.Paused,
	}
}
