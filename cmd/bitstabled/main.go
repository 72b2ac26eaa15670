package main

import (
	"context"
	"encoding/hex"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	bolt "go.etcd.io/bbolt"
	"gorm.io/gorm"

	"bitstable/bitcoinrpc"
	"bitstable/config"
	"bitstable/controller"
	"bitstable/currency"
	"bitstable/custody"
	"bitstable/facade"
	"bitstable/ledger"
	"bitstable/liquidation"
	"bitstable/observability/logging"
	telemetry "bitstable/observability/otel"
	"bitstable/observability/status"
	"bitstable/oracle"
	"bitstable/redemption"
	"bitstable/reserves"
	"bitstable/stabilitypool"
	"bitstable/storage"
	"bitstable/vault"
)

// supportedCurrencies lists every currency registered at startup, matching
// C1's table of fiat debt currencies.
var supportedCurrencies = []currency.Code{
	currency.USD, currency.EUR, currency.GBP, currency.JPY,
	currency.CHF, currency.CAD, currency.AUD, currency.CNY,
	currency.INR, currency.MXN, currency.NGN, currency.BRL,
}

func chainParams(network config.Network) *chaincfg.Params {
	switch network {
	case config.Mainnet:
		return &chaincfg.MainNetParams
	case config.Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

func buildRegistry(cfg *config.Config) *currency.Registry {
	registry := currency.NewRegistry()
	for _, c := range supportedCurrencies {
		currencyCfg := currency.DefaultConfig()
		currencyCfg.MinCollateralRatio = cfg.MinCollateralRatio
		currencyCfg.LiquidationThreshold = cfg.LiquidationThreshold
		currencyCfg.LiquidationPenalty = cfg.LiquidationPenalty
		currencyCfg.StabilityFeeAPR = cfg.StabilityFeeAPR
		if err := registry.Set(c, currencyCfg); err != nil {
			log.Fatalf("register currency %s: %v", c, err)
		}
	}
	return registry
}

func registerOracleSources(agg *oracle.Aggregator, roster *config.OracleRoster) {
	if roster == nil || len(roster.Sources) == 0 {
		agg.Register(oracle.NewCoinbaseSource(""))
		agg.Register(oracle.NewBinanceSource(""))
		agg.Register(oracle.NewKrakenSource(""))
		agg.Register(oracle.NewCoinGeckoSource(""))
		return
	}
	for _, src := range roster.Sources {
		switch strings.ToLower(src.Name) {
		case "coinbase":
			agg.Register(oracle.NewCoinbaseSource(src.URL))
		case "binance":
			agg.Register(oracle.NewBinanceSource(src.URL))
		case "kraken":
			agg.Register(oracle.NewKrakenSource(src.URL))
		case "coingecko":
			agg.Register(oracle.NewCoinGeckoSource(src.URL))
		default:
			log.Printf("bitstabled: skipping unrecognized oracle source %q", src.Name)
		}
	}
}

// oracleFingerprintKey is where the last-seen oracle source fingerprint is
// stored in the config tree, per §C.5's restart drift detection.
const oracleFingerprintKey = "oracle_source_fingerprint"

func checkOracleSourceDrift(store *storage.Store, agg *oracle.Aggregator, logger *slog.Logger) {
	current := agg.Fingerprint()
	var previous string
	switch err := store.Get(storage.TreeConfig, oracleFingerprintKey, &previous); {
	case err == storage.ErrNotFound:
		// first run; nothing to compare against
	case err != nil:
		logger.Warn("oracle source fingerprint lookup failed", "error", err)
		return
	case previous != current:
		logger.Warn("oracle source set changed since last restart", "previous", previous, "current", current)
	}
	if err := store.Put(storage.TreeConfig, oracleFingerprintKey, current); err != nil {
		logger.Warn("oracle source fingerprint persist failed", "error", err)
	}
}

func main() {
	env := strings.TrimSpace(os.Getenv("BITSTABLE_ENV"))
	logging.Setup("bitstabled", env, "")

	configPath := strings.TrimSpace(os.Getenv("BITSTABLE_CONFIG"))
	if configPath == "" {
		configPath = "./bitstable.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("bitstabled", env, cfg.LogFilePath)

	var roster *config.OracleRoster
	if rosterPath := strings.TrimSpace(os.Getenv("BITSTABLE_ORACLE_ROSTER")); rosterPath != "" {
		roster, err = config.LoadOracleRoster(rosterPath)
		if err != nil {
			log.Fatalf("oracle roster error: %v", err)
		}
	}
	endpointCount := 4
	if roster != nil {
		endpointCount = len(roster.Sources)
	}
	if err := config.Validate(cfg, endpointCount); err != nil {
		log.Fatalf("config validation error: %v", err)
	}
	logger.Info("config loaded",
		"network", string(cfg.Network),
		logging.MaskField("bitcoin_rpc_user", cfg.BitcoinRPCUser),
		logging.MaskField("bitcoin_rpc_pass", cfg.BitcoinRPCPass),
		logging.MaskField("protocol_key_hex", cfg.ProtocolKeyHex),
	)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bitstabled",
		Environment: env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Traces:      cfg.OTLPEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	kvStore, err := storage.Open(cfg.DatabasePath+"/bitstable.db", &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		log.Fatalf("storage open error: %v", err)
	}
	defer kvStore.Close()

	var auditDB *gorm.DB
	if cfg.AuditPostgresDSN != "" {
		auditDB, err = storage.OpenPostgresAudit(cfg.AuditPostgresDSN)
	} else {
		auditDB, err = storage.OpenSQLiteAudit(cfg.DatabasePath + "/audit.db")
	}
	if err != nil {
		log.Fatalf("audit db error: %v", err)
	}
	auditMirror := storage.NewAuditMirror(auditDB)

	registry := buildRegistry(cfg)

	agg := oracle.NewAggregator(oracle.DefaultBreakerConfig())
	registerOracleSources(agg, roster)
	checkOracleSourceDrift(kvStore, agg, logger)

	vaultStore := storage.NewVaultStore(kvStore)
	vaults := vault.NewManager(vaultStore, registry)

	escrowStore := storage.NewEscrowStore(kvStore)
	params := chainParams(cfg.Network)

	var protocolKey *btcec.PrivateKey
	var protocolPub *btcec.PublicKey
	if cfg.ProtocolKeyHex != "" {
		raw, err := hex.DecodeString(cfg.ProtocolKeyHex)
		if err != nil {
			log.Fatalf("invalid protocol_key_hex: %v", err)
		}
		protocolKey, protocolPub = btcec.PrivKeyFromBytes(raw)
	}
	custodyMgr := custody.NewManager(escrowStore, params, protocolPub)

	var btcClient *bitcoinrpc.Client
	if cfg.BitcoinRPCHost != "" {
		btcClient, err = bitcoinrpc.Dial(bitcoinrpc.Config{
			Host: cfg.BitcoinRPCHost,
			User: cfg.BitcoinRPCUser,
			Pass: cfg.BitcoinRPCPass,
		})
		if err != nil {
			log.Fatalf("bitcoin rpc dial error: %v", err)
		}
		defer btcClient.Shutdown()
	}

	stableLedger := ledger.New()
	liquidations := liquidation.NewEngine(vaults, registry)

	dailyLimits := make(map[currency.Code]float64, len(supportedCurrencies))
	limit := cfg.RedemptionDailyLimitUSD
	if limit <= 0 {
		limit = 1_000_000
	}
	for _, c := range supportedCurrencies {
		dailyLimits[c] = limit
	}
	redemptions := redemption.NewEngine(vaults, registry, dailyLimits)

	pool := stabilitypool.New(stabilitypool.DefaultConfig())
	controllers := controller.NewPortfolioManager()
	reserveSystem := reserves.New()

	proto := facade.New(vaults, custodyMgr, agg, registry, stableLedger, liquidations, redemptions, pool, controllers, reserveSystem, btcClient, auditMirror)
	if protocolKey != nil {
		proto.SetProtocolKey(protocolKey)
	}

	statusAddr := cfg.StatusListenAddress
	if statusAddr == "" {
		statusAddr = ":8090"
	}
	provider := &status.Provider{Vaults: vaults, Oracle: agg, Reserves: reserveSystem}
	auth := status.AuthConfig{
		Enabled:    cfg.StatusJWTEnabled,
		HMACSecret: cfg.StatusJWTSecret,
		Issuer:     cfg.StatusJWTIssuer,
		Audience:   cfg.StatusJWTAudience,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	logger.Info("starting status surface", "addr", statusAddr, "network", string(cfg.Network))
	if err := status.Serve(ctx, statusAddr, provider, auth); err != nil {
		log.Fatalf("status server error: %v", err)
	}
}
