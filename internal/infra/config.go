package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Trading modes.
const (
	ModePaper  = "PAPER"
	ModeDryRun = "DRYRUN"
	ModeReal   = "REAL"
)

// DefaultUserAgent is a browser-like User-Agent for the current OS. Some endpoints reject
// the Go default.
var DefaultUserAgent = platformUserAgent()

func platformUserAgent() string {
	chromeVer := "120.0.0.0"
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if runtime.GOARCH == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; arbitrage/1.0)"
	}
}

// Credentials are the API keys of one exchange account.
type Credentials struct {
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// Empty reports missing keys.
func (c Credentials) Empty() bool { return c.AccessKey == "" || c.SecretKey == "" }

// UserConfig is one trading account pair. Each user gets one engine per symbol.
type UserConfig struct {
	ID     string      `yaml:"id"`
	Upbit  Credentials `yaml:"upbit"`
	Bitget Credentials `yaml:"bitget"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config holds every setting of the trading process.
// LoadConfig reads the YAML file, then environment variables override secrets and a few knobs.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode          string       `yaml:"mode"`
		Symbols       []string     `yaml:"symbols"`
		Users         []UserConfig `yaml:"users"`
		Leverage      int64        `yaml:"leverage"`
		OrderStairs   int64        `yaml:"order_stairs"`
		MinProfitRate float64      `yaml:"min_profit_rate_pct"`
		StopLoss      float64      `yaml:"stop_loss_pct"`
		SafetyPercent float64      `yaml:"safety_pct"`
		QtyDecimals   int          `yaml:"qty_decimals"`
	} `yaml:"trading"`

	Feed struct {
		Mode              string `yaml:"mode"`
		PublishIntervalMS int    `yaml:"publish_interval_ms"`
		StalenessLimitSec int    `yaml:"staleness_limit_sec"`
	} `yaml:"feed"`

	Band struct {
		StartupLookbackMin int `yaml:"startup_lookback_min"`
		RefreshLookbackMin int `yaml:"refresh_lookback_min"`
		RefreshIntervalMin int `yaml:"refresh_interval_min"`
		MinSamples         int `yaml:"min_samples"`
	} `yaml:"band"`

	API struct {
		Upbit struct {
			WSURL   string `yaml:"ws_url"`
			RestURL string `yaml:"rest_url"`
		} `yaml:"upbit"`
		Bitget struct {
			WSURL        string            `yaml:"ws_url"`
			PrivateWSURL string            `yaml:"private_ws_url"`
			RestURL      string            `yaml:"rest_url"`
			ProductType  string            `yaml:"product_type"`
			Symbols      map[string]string `yaml:"symbols"`
		} `yaml:"bitget"`
		ExchangeRate struct {
			URL             string `yaml:"url"`
			PollIntervalSec int    `yaml:"poll_interval_sec"`
		} `yaml:"exchange_rate"`
	} `yaml:"api"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		SnapshotDir   string `yaml:"snapshot_dir"`
		KeepSnapshots int    `yaml:"keep_snapshots"`
	} `yaml:"storage"`

	Paper struct {
		KRW  float64 `yaml:"krw"`
		USDT float64 `yaml:"usdt"`
	} `yaml:"paper"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig reads path, applies .env and ARB_* environment overrides, fills defaults and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv sets variables from a .env file without replacing ones already exported.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	c.Trading.Mode = strings.ToUpper(c.Trading.Mode)
	if c.Trading.Mode == "" {
		c.Trading.Mode = ModePaper
	}
	if c.Trading.Leverage == 0 {
		c.Trading.Leverage = 5
	}
	if c.Trading.OrderStairs == 0 {
		c.Trading.OrderStairs = 2
	}
	if c.Trading.MinProfitRate == 0 {
		c.Trading.MinProfitRate = 0.35
	}
	if c.Trading.StopLoss == 0 {
		c.Trading.StopLoss = -0.5
	}
	if c.Trading.SafetyPercent == 0 {
		c.Trading.SafetyPercent = 98
	}
	if c.Trading.QtyDecimals == 0 {
		c.Trading.QtyDecimals = 3
	}

	if c.Feed.Mode == "" {
		c.Feed.Mode = "interval"
	}
	if c.Feed.PublishIntervalMS == 0 {
		c.Feed.PublishIntervalMS = 1000
	}
	if c.Feed.StalenessLimitSec == 0 {
		c.Feed.StalenessLimitSec = 60
	}

	if c.Band.StartupLookbackMin == 0 {
		c.Band.StartupLookbackMin = 360
	}
	if c.Band.RefreshLookbackMin == 0 {
		c.Band.RefreshLookbackMin = 240
	}
	if c.Band.RefreshIntervalMin == 0 {
		c.Band.RefreshIntervalMin = 180
	}
	if c.Band.MinSamples == 0 {
		c.Band.MinSamples = 60
	}

	if c.API.Upbit.WSURL == "" {
		c.API.Upbit.WSURL = "wss://api.upbit.com/websocket/v1"
	}
	if c.API.Upbit.RestURL == "" {
		c.API.Upbit.RestURL = "https://api.upbit.com"
	}
	if c.API.Bitget.WSURL == "" {
		c.API.Bitget.WSURL = "wss://ws.bitget.com/v2/ws/public"
	}
	if c.API.Bitget.PrivateWSURL == "" {
		c.API.Bitget.PrivateWSURL = "wss://ws.bitget.com/v2/ws/private"
	}
	if c.API.Bitget.RestURL == "" {
		c.API.Bitget.RestURL = "https://api.bitget.com"
	}
	if c.API.Bitget.ProductType == "" {
		c.API.Bitget.ProductType = "USDT-FUTURES"
	}
	if c.API.Bitget.Symbols == nil {
		c.API.Bitget.Symbols = make(map[string]string, len(c.Trading.Symbols))
	}
	for _, s := range c.Trading.Symbols {
		if _, ok := c.API.Bitget.Symbols[s]; !ok {
			c.API.Bitget.Symbols[s] = s + "USDT"
		}
	}
	if c.API.ExchangeRate.URL == "" {
		c.API.ExchangeRate.URL = "https://query1.finance.yahoo.com/v8/finance/chart/KRW=X"
	}
	if c.API.ExchangeRate.PollIntervalSec == 0 {
		c.API.ExchangeRate.PollIntervalSec = 60
	}

	if c.Storage.KeepSnapshots == 0 {
		c.Storage.KeepSnapshots = 20
	}
	if c.Paper.KRW == 0 {
		c.Paper.KRW = 10_000_000
	}
	if c.Paper.USDT == 0 {
		c.Paper.USDT = 2_000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModePaper, ModeDryRun, ModeReal:
	default:
		return fmt.Errorf("unknown trading mode: %q", c.Trading.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if len(c.Trading.Users) == 0 {
		return fmt.Errorf("at least one user is required")
	}

	seen := make(map[string]struct{}, len(c.Trading.Users))
	for _, u := range c.Trading.Users {
		if u.ID == "" {
			return fmt.Errorf("user without id")
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		seen[u.ID] = struct{}{}
		if c.Trading.Mode == ModeReal && (u.Upbit.Empty() || u.Bitget.Empty() || u.Bitget.Passphrase == "") {
			return fmt.Errorf("user %q: REAL mode requires Upbit and Bitget keys", u.ID)
		}
	}

	if c.Trading.Leverage <= 0 || c.Trading.OrderStairs <= 0 {
		return fmt.Errorf("leverage and order stairs must be positive")
	}
	if c.Trading.SafetyPercent <= 0 || c.Trading.SafetyPercent > 100 {
		return fmt.Errorf("safety percent must be in (0, 100]")
	}

	for _, u := range []struct{ name, url string }{
		{"Upbit", c.API.Upbit.WSURL},
		{"Bitget", c.API.Bitget.WSURL},
		{"Bitget private", c.API.Bitget.PrivateWSURL},
	} {
		if !strings.HasPrefix(u.url, "ws://") && !strings.HasPrefix(u.url, "wss://") {
			return fmt.Errorf("invalid %s WS URL: %s", u.name, u.url)
		}
	}

	if c.Feed.Mode != "interval" && c.Feed.Mode != "tick" {
		return fmt.Errorf("unknown feed mode: %q", c.Feed.Mode)
	}
	if c.Feed.PublishIntervalMS <= 0 {
		return fmt.Errorf("publish interval must be positive")
	}
	if c.Band.RefreshLookbackMin <= 0 || c.Band.StartupLookbackMin <= 0 || c.Band.RefreshIntervalMin <= 0 {
		return fmt.Errorf("band lookbacks and refresh interval must be positive")
	}
	return nil
}

// overrideWithEnv lets environment variables take precedence over the file.
// Secrets are read as ARB_<USER>_<EXCHANGE>_<FIELD> with the user id upper-cased.
func overrideWithEnv(cfg *Config) {
	for _, u := range cfg.Trading.Users {
		if !u.Upbit.Empty() || !u.Bitget.Empty() {
			slog.Warn("⚠️ API secrets found in config file; prefer ARB_<USER>_UPBIT_KEY style environment variables",
				slog.String("user", u.ID))
			break
		}
	}

	for i := range cfg.Trading.Users {
		u := &cfg.Trading.Users[i]
		prefix := "ARB_" + envKey(u.ID) + "_"
		setFromEnv(&u.Upbit.AccessKey, prefix+"UPBIT_KEY")
		setFromEnv(&u.Upbit.SecretKey, prefix+"UPBIT_SECRET")
		setFromEnv(&u.Bitget.AccessKey, prefix+"BITGET_KEY")
		setFromEnv(&u.Bitget.SecretKey, prefix+"BITGET_SECRET")
		setFromEnv(&u.Bitget.Passphrase, prefix+"BITGET_PASSPHRASE")
	}

	setFromEnv(&cfg.Trading.Mode, "ARB_MODE")
	setFromEnv(&cfg.Storage.DBPath, "ARB_DB_PATH")
	setFromEnv(&cfg.Logging.Level, "ARB_LOG_LEVEL")
	setFromEnv(&cfg.Metrics.Addr, "ARB_METRICS_ADDR")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}
