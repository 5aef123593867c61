package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/roundmarket/params"
	"github.com/uhyunpark/roundmarket/pkg/api"
	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/admin"
	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/roundmarket/pkg/app/exchange"
	"github.com/uhyunpark/roundmarket/pkg/crypto"
	"github.com/uhyunpark/roundmarket/pkg/events"
	"github.com/uhyunpark/roundmarket/pkg/metrics"
	"github.com/uhyunpark/roundmarket/pkg/p2p"
	"github.com/uhyunpark/roundmarket/pkg/storage"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	if err := os.MkdirAll(filepath.Dir(cfg.Node.DBPath), 0755); err != nil {
		sugar.Fatalw("db_dir_failed", "path", cfg.Node.DBPath, "err", err)
	}
	store, err := storage.NewPebbleStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("db_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	var txlog storage.TxLog = store
	if cfg.Node.TxLogFile != "" {
		fileLog, err := storage.NewFileTxLog(cfg.Node.TxLogFile)
		if err != nil {
			sugar.Fatalw("txlog_open_failed", "path", cfg.Node.TxLogFile, "err", err)
		}
		defer fileLog.Close()
		txlog = storage.MultiTxLog{store, fileLog}
	}

	// ---- Event sinks ----
	mets := metrics.New()
	hub := api.NewHub(sugar)
	sinks := events.Fanout{mets, hub, events.LogSink{Log: sugar}}

	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, sugar)
		async := events.NewAsync(kafka, 0, sugar)
		defer kafka.Close()
		defer async.Close()
		sinks = append(sinks, async)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	if cfg.P2P.Listen != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer gossip.Close()
		gossip.OnEvent(func(_ context.Context, from peer.ID, ev events.Event) {
			sugar.Debugw("peer_event", "peer", from.String(), "seq", ev.Seq, "kind", ev.Kind)
		})
		async := events.NewAsync(gossip, 0, sugar)
		defer async.Close()
		sinks = append(sinks, async)
	}

	// ---- Market ----
	clock := util.RealClock{}
	ledger := account.NewManager(store, sugar)
	gate := admin.NewGate(cfg.Market.Owner)
	m, err := market.New(market.Config{
		Treasury:       cfg.Market.Treasury,
		UnitScale:      cfg.Market.UnitScale,
		RoundDuration:  cfg.Market.RoundDuration,
		PriceIncrement: cfg.Market.PriceIncrement,
		Rates: market.Rates{
			Step:     cfg.Market.StepRateBps,
			SaleRef1: cfg.Market.SaleRef1Bps,
			SaleRef2: cfg.Market.SaleRef2Bps,
			Trade:    cfg.Market.TradeRefBps,
		},
	}, ledger, gate, store, sinks, clock, sugar)
	if err != nil {
		sugar.Fatalw("market_init_failed", "err", err)
	}
	if err := m.Restore(store); err != nil {
		sugar.Fatalw("market_restore_failed", "err", err)
	}
	mets.WatchMarket(m)

	if cfg.Market.StartPrice != nil && !m.Status().Initialized {
		err := m.Initialize(ctx, cfg.Market.Owner, cfg.Market.StartPrice, cfg.Market.StartVolume)
		if err != nil && !errors.Is(err, market.ErrAlreadyInitialized) {
			sugar.Fatalw("market_initialize_failed", "err", err)
		}
	}

	st := m.Status()
	sugar.Infow("market_ready",
		"initialized", st.Initialized,
		"owner", st.Owner.Hex(),
		"treasury", st.Treasury.Hex(),
		"rounds", st.Rounds,
		"next_event_seq", st.NextSeq)

	// ---- App ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	verifier := transaction.NewVerifier(domain, ledger, clock)
	app := exchange.New(m, verifier, txlog, mets, clock, sugar)

	// ---- Keeper (optional) ----
	if cfg.Keeper.Enabled {
		caller := cfg.Keeper.Caller
		if caller == (common.Address{}) {
			caller = cfg.Market.Treasury
		}
		keeper := exchange.NewKeeper(m, exchange.KeeperConfig{Interval: cfg.Keeper.Interval, Caller: caller}, clock, sugar)
		cancelKeeper := keeper.Start(ctx)
		defer cancelKeeper()
	}

	// ---- API Server ----
	// Start HTTP/WebSocket server for frontend
	apiServer := api.NewServer(app, store, mets, clock, api.Config{
		AllowedOrigins: cfg.API.AllowedOrigins,
		EnableFaucet:   cfg.API.EnableFaucet,
		FaucetLimit:    cfg.API.FaucetLimit,
		Hub:            hub,
	}, sugar)

	sugar.Infow("node_starting", "api_addr", cfg.API.Addr, "chain_id", cfg.Node.ChainID, "faucet", cfg.API.EnableFaucet)
	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Infow("node_stopped")
}
