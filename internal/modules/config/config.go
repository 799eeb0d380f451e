package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"

	envPrefix = "LADDER"
)

type Config struct {
	Service     Service     `mapstructure:"service"`
	Log         Log         `mapstructure:"log"`
	Tracing     Tracing     `mapstructure:"tracing"`
	Telegram    Telegram    `mapstructure:"telegram"`
	DB          string      `mapstructure:"db_dsn"`
	OKX         OKX         `mapstructure:"okx"`
	Ladder      Ladder      `mapstructure:"ladder"`
	Mirror      Mirror      `mapstructure:"mirror"`
	Scheduler   Scheduler   `mapstructure:"scheduler"`
	Recovery    Recovery    `mapstructure:"recovery"`
	Persistence Persistence `mapstructure:"persistence"`
	Prices      Prices      `mapstructure:"prices"`
}

type Service struct {
	Name      string `mapstructure:"name"`
	AdminAddr string `mapstructure:"admin_addr"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Tracing struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type Telegram struct {
	Token string `mapstructure:"token"`
	// Chats maps an account name (primary, mirror) to the chat receiving its
	// notifications. AdminChat gets everything without a mapping and is the
	// only chat allowed to run commands.
	Chats     map[string]int64 `mapstructure:"chats"`
	AdminChat int64            `mapstructure:"admin_chat"`
}

type Credentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == "" || c.Passphrase == ""
}

type OKX struct {
	BaseURL       string        `mapstructure:"base_url"`
	WSURL         string        `mapstructure:"ws_url"`
	Simulated     bool          `mapstructure:"simulated"`
	Primary       Credentials   `mapstructure:"primary"`
	Mirror        Credentials   `mapstructure:"mirror"`
	InstrumentTTL time.Duration `mapstructure:"instrument_ttl"`
	MaxTries      uint          `mapstructure:"max_tries"`
	RatePerSec    float64       `mapstructure:"rate_per_sec"`
	Burst         int           `mapstructure:"burst"`
}

type Ladder struct {
	Weights         []float64 `mapstructure:"weights"`
	TolerancePct    float64   `mapstructure:"tolerance_pct"`
	ToleranceMinQty float64   `mapstructure:"tolerance_min_qty"`
	DefaultSLPct    float64   `mapstructure:"default_sl_pct"`
	StopType        string    `mapstructure:"stop_type"`
}

type Mirror struct {
	Enabled      bool          `mapstructure:"enabled"`
	RatioMode    string        `mapstructure:"ratio_mode"`
	FixedRatio   float64       `mapstructure:"fixed_ratio"`
	RatioRefresh time.Duration `mapstructure:"ratio_refresh"`
}

type Scheduler struct {
	MinSleep         time.Duration `mapstructure:"min_sleep"`
	MaxSleep         time.Duration `mapstructure:"max_sleep"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent"`
	MinConcurrent    int64         `mapstructure:"min_concurrent"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	MaintenanceEvery time.Duration `mapstructure:"maintenance_every"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
}

type Recovery struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Persistence struct {
	Backend      string        `mapstructure:"backend"`
	Path         string        `mapstructure:"path"`
	Interval     time.Duration `mapstructure:"interval"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisKey     string        `mapstructure:"redis_key"`
	SnapshotName string        `mapstructure:"snapshot_name"`
}

type Prices struct {
	MaxAge  time.Duration `mapstructure:"max_age"`
	JumpPct float64       `mapstructure:"jump_pct"`
}

var defaults = map[string]any{
	"service.name":       "ladder_bot",
	"service.admin_addr": ":8080",

	"log.level":       "info",
	"log.development": false,

	"tracing.enabled": false,
	"tracing.host":    "localhost",
	"tracing.port":    6831,

	"telegram.token":      "",
	"telegram.admin_chat": 0,

	"db_dsn": "",

	"okx.base_url":           "https://www.okx.com",
	"okx.ws_url":             "wss://ws.okx.com:8443/ws/v5/public",
	"okx.simulated":          false,
	"okx.primary.api_key":    "",
	"okx.primary.api_secret": "",
	"okx.primary.passphrase": "",
	"okx.mirror.api_key":     "",
	"okx.mirror.api_secret":  "",
	"okx.mirror.passphrase":  "",
	"okx.instrument_ttl":     "1h",
	"okx.max_tries":          3,
	"okx.rate_per_sec":       10,
	"okx.burst":              5,

	"ladder.weights":           []float64{0.85, 0.05, 0.05, 0.05},
	"ladder.tolerance_pct":     1,
	"ladder.tolerance_min_qty": 0,
	"ladder.default_sl_pct":    7.5,
	"ladder.stop_type":         "last",

	"mirror.enabled":       false,
	"mirror.ratio_mode":    "equity",
	"mirror.fixed_ratio":   1,
	"mirror.ratio_refresh": "5m",

	"scheduler.min_sleep":         "500ms",
	"scheduler.max_sleep":         "30s",
	"scheduler.max_concurrent":    8,
	"scheduler.min_concurrent":    2,
	"scheduler.job_timeout":       "30s",
	"scheduler.maintenance_every": "5m",
	"scheduler.stale_after":       "3m",

	"recovery.interval":    "2m",
	"recovery.concurrency": 4,

	"persistence.backend":       BackendFile,
	"persistence.path":          "data/monitors.json",
	"persistence.interval":      "10s",
	"persistence.redis_addr":    "",
	"persistence.redis_key":     "ladder:monitors",
	"persistence.snapshot_name": "default",

	"prices.max_age":  "15s",
	"prices.jump_pct": 1.0,
}

// NewConfig loads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return Load(filepath.Join("configs", configFileName))
}

// Load reads path, applies defaults and LADDER_* env overrides, then validates.
// A missing file is not an error: defaults and env alone are a valid source.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil || !os.IsNotExist(statErr) {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.DB = dsn
	}

	return &cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.OKX.Primary.Empty() {
		return errors.New("okx.primary credentials are required")
	}
	if c.Mirror.Enabled && c.OKX.Mirror.Empty() {
		return errors.New("mirror.enabled requires okx.mirror credentials")
	}
	switch c.Mirror.RatioMode {
	case "equity", "fixed":
	default:
		return errors.Errorf("mirror.ratio_mode %q: want equity or fixed", c.Mirror.RatioMode)
	}
	if c.Mirror.FixedRatio <= 0 {
		return errors.New("mirror.fixed_ratio must be positive")
	}
	if len(c.Ladder.Weights) == 0 {
		return errors.New("ladder.weights is empty")
	}
	for i, w := range c.Ladder.Weights {
		if w <= 0 {
			return errors.Errorf("ladder.weights[%d] must be positive", i)
		}
	}
	switch c.Ladder.StopType {
	case "last", "mark", "index":
	default:
		return errors.Errorf("ladder.stop_type %q: want last, mark or index", c.Ladder.StopType)
	}
	if c.Ladder.TolerancePct < 0 || c.Ladder.ToleranceMinQty < 0 || c.Ladder.DefaultSLPct <= 0 {
		return errors.New("ladder tolerances must be >= 0 and default_sl_pct > 0")
	}
	if c.Scheduler.MinSleep <= 0 || c.Scheduler.MaxSleep < c.Scheduler.MinSleep {
		return errors.New("scheduler sleeps: need 0 < min_sleep <= max_sleep")
	}
	switch c.Persistence.Backend {
	case BackendFile:
		if c.Persistence.Path == "" {
			return errors.New("persistence.path is empty")
		}
	case BackendRedis:
		if c.Persistence.RedisAddr == "" {
			return errors.New("persistence.backend=redis requires persistence.redis_addr")
		}
	case BackendPostgres:
		if c.DB == "" {
			return errors.New("persistence.backend=postgres requires db_dsn")
		}
	default:
		return errors.Errorf("persistence.backend %q: want file, redis or postgres", c.Persistence.Backend)
	}
	return nil
}
