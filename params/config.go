package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// Market is the round and rate configuration. Rates are in basis points.
type Market struct {
	RoundDuration  time.Duration
	StepRateBps    uint64
	SaleRef1Bps    uint64
	SaleRef2Bps    uint64
	TradeRefBps    uint64
	PriceIncrement *uint256.Int
	UnitScale      *uint256.Int // base units per whole token
	Owner          common.Address
	Treasury       common.Address

	// When both are set the node initializes a fresh market with them on start.
	StartPrice  *uint256.Int
	StartVolume *uint256.Int
}

type Node struct {
	DBPath    string
	LogFile   string
	LogLevel  string
	TxLogFile string // optional JSON-lines copy of the transaction log
	ChainID   int64
}

type API struct {
	Addr           string
	AllowedOrigins []string
	EnableFaucet   bool
	FaucetLimit    *uint256.Int
}

type Events struct {
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string
}

type P2P struct {
	Listen    string // empty disables gossip
	Bootstrap []string
	Topic     string
}

type Keeper struct {
	Enabled  bool
	Interval time.Duration
	Caller   common.Address // zero means the treasury
}

type Config struct {
	Market Market
	Node   Node
	API    API
	Events Events
	P2P    P2P
	Keeper Keeper
}

func Default() Config {
	return Config{
		Market: Market{
			RoundDuration:  24 * time.Hour,
			StepRateBps:    500,
			SaleRef1Bps:    500,
			SaleRef2Bps:    300,
			TradeRefBps:    250,
			PriceIncrement: uint256.NewInt(0),
			UnitScale:      new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)),
			Owner:          common.HexToAddress("0x0000000000000000000000000000000000000001"),
			Treasury:       common.HexToAddress("0x0000000000000000000000000000000000000002"),
		},
		Node: Node{
			DBPath:   "data/market",
			LogFile:  "data/node.log",
			LogLevel: "info",
			ChainID:  1337,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Events: Events{KafkaTopic: "roundmarket.events"},
		P2P:    P2P{Topic: "roundmarket-events"},
		Keeper: Keeper{Interval: time.Second},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	p := &parser{}

	// Market
	p.duration("MARKET_ROUND_DURATION", &cfg.Market.RoundDuration)
	p.uint("MARKET_STEP_RATE_BPS", &cfg.Market.StepRateBps)
	p.uint("MARKET_SALE_REF1_BPS", &cfg.Market.SaleRef1Bps)
	p.uint("MARKET_SALE_REF2_BPS", &cfg.Market.SaleRef2Bps)
	p.uint("MARKET_TRADE_REF_BPS", &cfg.Market.TradeRefBps)
	p.amount("MARKET_PRICE_INCREMENT", &cfg.Market.PriceIncrement)
	p.amount("MARKET_UNIT_SCALE", &cfg.Market.UnitScale)
	p.address("MARKET_OWNER", &cfg.Market.Owner)
	p.address("MARKET_TREASURY", &cfg.Market.Treasury)
	p.amount("MARKET_START_PRICE", &cfg.Market.StartPrice)
	p.amount("MARKET_START_VOLUME", &cfg.Market.StartVolume)

	// Node
	cfg.Node.DBPath = getEnv("NODE_DB_PATH", cfg.Node.DBPath)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.TxLogFile = getEnv("TX_LOG_FILE", cfg.Node.TxLogFile)
	p.int("CHAIN_ID", &cfg.Node.ChainID)

	// API
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	p.list("API_ALLOWED_ORIGINS", &cfg.API.AllowedOrigins)
	p.bool("ENABLE_FAUCET", &cfg.API.EnableFaucet)
	p.amount("FAUCET_LIMIT", &cfg.API.FaucetLimit)

	// Event sinks
	p.list("KAFKA_BROKERS", &cfg.Events.KafkaBrokers)
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)
	cfg.P2P.Listen = getEnv("P2P_LISTEN", cfg.P2P.Listen)
	p.list("P2P_BOOTSTRAP", &cfg.P2P.Bootstrap)
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)

	// Keeper
	p.bool("ENABLE_KEEPER", &cfg.Keeper.Enabled)
	if ms := os.Getenv("KEEPER_INTERVAL_MS"); ms != "" {
		var n int64
		p.int("KEEPER_INTERVAL_MS", &n)
		cfg.Keeper.Interval = time.Duration(n) * time.Millisecond
	}
	p.address("KEEPER_ADDRESS", &cfg.Keeper.Caller)

	if p.err != nil {
		return cfg, p.err
	}
	return cfg, cfg.Validate()
}

// Validate checks values a market cannot start with.
func (c Config) Validate() error {
	if c.Market.RoundDuration <= 0 {
		return fmt.Errorf("MARKET_ROUND_DURATION must be positive, got %s", c.Market.RoundDuration)
	}
	if c.Market.UnitScale == nil || c.Market.UnitScale.IsZero() {
		return fmt.Errorf("MARKET_UNIT_SCALE must be positive")
	}
	if c.Market.Treasury == (common.Address{}) {
		return fmt.Errorf("MARKET_TREASURY must be set")
	}
	if c.Market.Owner == (common.Address{}) {
		return fmt.Errorf("MARKET_OWNER must be set")
	}
	if (c.Market.StartPrice == nil) != (c.Market.StartVolume == nil) {
		return fmt.Errorf("MARKET_START_PRICE and MARKET_START_VOLUME must be set together")
	}
	if c.Keeper.Interval <= 0 {
		return fmt.Errorf("KEEPER_INTERVAL_MS must be positive")
	}
	return nil
}

// parser records the first malformed variable and skips the rest.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, val string, err error) {
	p.err = fmt.Errorf("%s=%q: %w", key, val, err)
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) uint(key string, dst *uint64) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int(key string, dst *int64) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) bool(key string, dst *bool) {
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *parser) amount(key string, dst **uint256.Int) {
	if v, ok := p.lookup(key); ok {
		n, err := uint256.FromDecimal(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) address(key string, dst *common.Address) {
	if v, ok := p.lookup(key); ok {
		if !common.IsHexAddress(v) {
			p.fail(key, v, fmt.Errorf("not a hex address"))
			return
		}
		*dst = common.HexToAddress(v)
	}
}

func (p *parser) list(key string, dst *[]string) {
	if v, ok := p.lookup(key); ok {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
