package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pegkeeper/internal/domain"
	"pegkeeper/internal/logging"
)

// Ledger drivers.
const (
	LedgerSolana = "solana"
	LedgerEVM    = "evm"
	LedgerMemory = "memory"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Peg      PegConfig      `mapstructure:"peg"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Persistence is disabled when DSN is empty.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoopConfig governs the control-loop cadence.
type LoopConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
	AlertAfterFailures int           `mapstructure:"alert_after_failures"`
}

// FeedConfig points at the external exchange-rate source.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	RatePath       string        `mapstructure:"rate_path"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PegConfig sets the target band and the corrective trade size.
type PegConfig struct {
	Target      float64 `mapstructure:"target"`
	Tolerance   float64 `mapstructure:"tolerance"`
	TradeAmount float64 `mapstructure:"trade_amount"`
}

// LedgerConfig selects and configures the oracle binding.
type LedgerConfig struct {
	Driver string       `mapstructure:"driver"`
	Solana SolanaConfig `mapstructure:"solana"`
	EVM    EVMConfig    `mapstructure:"evm"`
}

// SolanaConfig covers the Anchor oracle program.
type SolanaConfig struct {
	RPCURL       string `mapstructure:"rpc_url"`
	ProgramID    string `mapstructure:"program_id"`
	AuthorityKey string `mapstructure:"authority_key"`
	Commitment   string `mapstructure:"commitment"`
}

// EVMConfig covers the contract-based oracle.
type EVMConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	PrivateKey      string `mapstructure:"private_key"`
	ChainID         int64  `mapstructure:"chain_id"`
	GasLimit        uint64 `mapstructure:"gas_limit"`
}

// SwapConfig captures routing API connectivity.
type SwapConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	PeggedMint        string        `mapstructure:"pegged_mint"`
	ReferenceMint     string        `mapstructure:"reference_mint"`
	PeggedDecimals    int32         `mapstructure:"pegged_decimals"`
	ReferenceDecimals int32         `mapstructure:"reference_decimals"`
	SlippageBps       int           `mapstructure:"slippage_bps"`
	PriceSlippageBps  int           `mapstructure:"price_slippage_bps"`
	MaxPriceImpactPct float64       `mapstructure:"max_price_impact_pct"`
	SigningMode       string        `mapstructure:"signing_mode"`
	WalletAddress     string        `mapstructure:"wallet_address"`
	WalletKey         string        `mapstructure:"wallet_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	DryRun            bool          `mapstructure:"dry_run"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	NotifyTrades bool           `mapstructure:"notify_trades"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the status/metrics HTTP server.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps the bare variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"swap.base_url":               "AGENTDEX_API_URL",
	"swap.api_key":                "AGENTDEX_API_KEY",
	"ledger.solana.rpc_url":       "RPC_URL",
	"ledger.solana.authority_key": "PRIVATE_KEY",
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PEGKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "PEGKEEPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("%w: bind env %s: %v", domain.ErrConfiguration, key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", domain.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv("PEGKEEPER_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: load %s: %v", domain.ErrConfiguration, path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("%w: read config: %v", domain.ErrConfiguration, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pegkeeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "pegkeeper")

	v.SetDefault("loop.interval", "60s")
	v.SetDefault("loop.startup_delay", "0s")
	v.SetDefault("loop.step_timeout", "30s")
	v.SetDefault("loop.advisory_lock_key", int64(0x42524c41))
	v.SetDefault("loop.alert_after_failures", 0)

	// Keys without a default are invisible to AutomaticEnv, so credentials get empty ones.
	for _, key := range []string{
		"database.dsn",
		"feed.api_key",
		"ledger.solana.rpc_url",
		"ledger.solana.program_id",
		"ledger.solana.authority_key",
		"ledger.evm.rpc_url",
		"ledger.evm.contract_address",
		"ledger.evm.private_key",
		"swap.base_url",
		"swap.api_key",
		"swap.pegged_mint",
		"swap.reference_mint",
		"swap.wallet_address",
		"swap.wallet_key",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("feed.url", "https://economia.awesomeapi.com.br/json/last/USD-BRL")
	v.SetDefault("feed.rate_path", "USDBRL.bid")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "pegkeeper/1.0")

	v.SetDefault("peg.target", 1.0)
	v.SetDefault("peg.tolerance", 0.02)
	v.SetDefault("peg.trade_amount", 100.0)

	v.SetDefault("ledger.driver", LedgerSolana)
	v.SetDefault("ledger.solana.commitment", "confirmed")
	v.SetDefault("ledger.evm.chain_id", 0)
	v.SetDefault("ledger.evm.gas_limit", 0)

	v.SetDefault("swap.pegged_decimals", 6)
	v.SetDefault("swap.reference_decimals", 6)
	v.SetDefault("swap.slippage_bps", 50)
	v.SetDefault("swap.price_slippage_bps", 100)
	v.SetDefault("swap.max_price_impact_pct", 1.0)
	v.SetDefault("swap.signing_mode", "remote")
	v.SetDefault("swap.request_timeout", "15s")
	v.SetDefault("swap.user_agent", "pegkeeper/1.0")
	v.SetDefault("swap.requests_per_second", 0.0)
	v.SetDefault("swap.dry_run", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.notify_trades", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks every command needs.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	if c.Loop.Interval <= 0 {
		return invalid("loop.interval must be greater than zero")
	}
	if c.Loop.StepTimeout < 0 {
		return invalid("loop.step_timeout cannot be negative")
	}
	if c.Loop.AlertAfterFailures < 0 {
		return invalid("loop.alert_after_failures cannot be negative")
	}
	if c.Peg.Target <= 0 {
		return invalid("peg.target must be greater than zero")
	}
	if c.Peg.Tolerance < 0 {
		return invalid("peg.tolerance cannot be negative")
	}
	if c.Peg.TradeAmount <= 0 {
		return invalid("peg.trade_amount must be greater than zero")
	}
	if c.Swap.MaxPriceImpactPct < 0 {
		return invalid("swap.max_price_impact_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ValidateAgent checks the credentials and endpoints the control loop needs to start.
func (c *Config) ValidateAgent() error {
	if strings.TrimSpace(c.Feed.URL) == "" {
		return invalid("feed.url is required")
	}
	if err := c.ValidateLedger(); err != nil {
		return err
	}

	if c.Swap.BaseURL == "" {
		return invalid("swap.base_url is required")
	}
	if c.Swap.PeggedMint == "" || c.Swap.ReferenceMint == "" {
		return invalid("swap.pegged_mint and swap.reference_mint are required")
	}
	if c.Swap.DryRun {
		return nil
	}
	switch c.Swap.SigningMode {
	case "remote", "unsigned":
		if c.Swap.WalletAddress == "" {
			return invalid("swap.wallet_address is required")
		}
	case "local":
		if c.Swap.WalletKey == "" && c.Ledger.Solana.AuthorityKey == "" {
			return invalid("swap.wallet_key or ledger.solana.authority_key is required for local signing")
		}
		if c.Ledger.Solana.RPCURL == "" {
			return invalid("ledger.solana.rpc_url is required for local signing")
		}
	default:
		return invalid(fmt.Sprintf("swap.signing_mode %q must be remote, unsigned or local", c.Swap.SigningMode))
	}
	return nil
}

// ValidateLedger checks the selected oracle binding.
func (c *Config) ValidateLedger() error {
	switch c.Ledger.Driver {
	case LedgerSolana:
		s := c.Ledger.Solana
		if s.RPCURL == "" {
			return invalid("ledger.solana.rpc_url is required")
		}
		if s.ProgramID == "" {
			return invalid("ledger.solana.program_id is required")
		}
		if s.AuthorityKey == "" {
			return invalid("ledger.solana.authority_key is required")
		}
	case LedgerEVM:
		e := c.Ledger.EVM
		if e.RPCURL == "" {
			return invalid("ledger.evm.rpc_url is required")
		}
		if e.ContractAddress == "" {
			return invalid("ledger.evm.contract_address is required")
		}
		if e.PrivateKey == "" {
			return invalid("ledger.evm.private_key is required")
		}
	case LedgerMemory:
	default:
		return invalid(fmt.Sprintf("ledger.driver %q must be solana, evm or memory", c.Ledger.Driver))
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, msg)
}
