package main

import (
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openfill/openfill/params"
	"github.com/openfill/openfill/pkg/api"
	"github.com/openfill/openfill/pkg/engine"
	"github.com/openfill/openfill/pkg/token"
	"github.com/openfill/openfill/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, zapcore.InfoLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	store, err := engine.NewOrderStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// The in-memory ledger stands in for the external token contracts.
	// A production deployment swaps in a real settlement backend here.
	ledger := token.NewMemLedger()
	devFund(ledger, cfg, sugar)

	eng, err := engine.NewEngine(cfg.EngineConfig(), store, ledger, util.RealClock{}, logger)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	state := eng.AdminState()
	sugar.Infow("engine_started",
		"chain_id", cfg.Domain.ChainID,
		"escrow", eng.EscrowAddress().Hex(),
		"owner", state.Owner.Hex(),
		"fee_rate_bps", state.FeeRateBps,
		"fee_recipient", state.FeeRecipient.Hex(),
		"paused", state.Paused,
	)

	server := api.NewServer(eng, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Node.APIAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("shutting_down", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("api_server_failed", "err", err)
	}
}

// devFund mints DEV_FUND_WEI of each token in DEV_FUND_TOKENS to each
// address in DEV_FUND_ADDRS. Local development only.
func devFund(ledger *token.MemLedger, cfg params.Config, sugar *zap.SugaredLogger) {
	if cfg.Node.DevFundWei <= 0 {
		return
	}
	tokens := strings.Split(os.Getenv("DEV_FUND_TOKENS"), ",")
	addrs := strings.Split(os.Getenv("DEV_FUND_ADDRS"), ",")
	amount := big.NewInt(cfg.Node.DevFundWei)

	for _, t := range tokens {
		if !common.IsHexAddress(t) {
			continue
		}
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				continue
			}
			ledger.Mint(common.HexToAddress(t), common.HexToAddress(a), amount)
			sugar.Infow("dev_funded", "token", t, "addr", a, "amount", amount.String())
		}
	}
}
