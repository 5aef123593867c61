package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MARKET_ROUND_DURATION", "90m")
	t.Setenv("MARKET_STEP_RATE_BPS", "750")
	t.Setenv("MARKET_UNIT_SCALE", "1000000")
	t.Setenv("MARKET_TREASURY", "0x7000000000000000000000000000000000000000")
	t.Setenv("MARKET_START_PRICE", "1000")
	t.Setenv("MARKET_START_VOLUME", "50000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENABLE_KEEPER", "true")
	t.Setenv("KEEPER_INTERVAL_MS", "250")
	t.Setenv("CHAIN_ID", "31337")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.RoundDuration != 90*time.Minute {
		t.Errorf("round duration = %s", cfg.Market.RoundDuration)
	}
	if cfg.Market.StepRateBps != 750 {
		t.Errorf("step rate = %d", cfg.Market.StepRateBps)
	}
	if cfg.Market.UnitScale.Uint64() != 1_000_000 {
		t.Errorf("unit scale = %s", cfg.Market.UnitScale)
	}
	if cfg.Market.Treasury != common.HexToAddress("0x7000000000000000000000000000000000000000") {
		t.Errorf("treasury = %s", cfg.Market.Treasury.Hex())
	}
	if cfg.Market.StartPrice.Uint64() != 1000 || cfg.Market.StartVolume.Uint64() != 50_000 {
		t.Errorf("start = %s/%s", cfg.Market.StartPrice, cfg.Market.StartVolume)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Events.KafkaBrokers)
	}
	if !cfg.Keeper.Enabled || cfg.Keeper.Interval != 250*time.Millisecond {
		t.Errorf("keeper = %+v", cfg.Keeper)
	}
	if cfg.Node.ChainID != 31337 {
		t.Errorf("chain id = %d", cfg.Node.ChainID)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MARKET_TRADE_REF_BPS=125\nAPI_ADDR=:9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already present
	t.Setenv("API_ADDR", ":7070")
	t.Cleanup(func() { os.Unsetenv("MARKET_TRADE_REF_BPS") })

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.TradeRefBps != 125 {
		t.Errorf("trade rate = %d", cfg.Market.TradeRefBps)
	}
	if cfg.API.Addr != ":7070" {
		t.Errorf("api addr = %s", cfg.API.Addr)
	}
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"MARKET_ROUND_DURATION", "soon"},
		{"MARKET_ROUND_DURATION", "-1h"},
		{"MARKET_STEP_RATE_BPS", "-5"},
		{"MARKET_OWNER", "alice"},
		{"MARKET_UNIT_SCALE", "0"},
		{"MARKET_START_PRICE", "1000"}, // without a start volume
		{"ENABLE_FAUCET", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.val, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
