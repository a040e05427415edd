package config

import (
	"fmt"
	"strings"
	"time"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      Logger   `mapstructure:"logger"`
	DB       Database `mapstructure:"database" validate:"required"`
	Provider Provider `mapstructure:"provider" validate:"required"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Model    Model    `mapstructure:"model"`
	Cache    Cache    `mapstructure:"cache"`
	API      API      `mapstructure:"api"`
}

// API configures the metrics endpoint served by the start command. Port 0 disables it.
type API struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Driver          string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

// Provider configures the external market-data API and its request budget.
type Provider struct {
	Name                string        `mapstructure:"name" validate:"required"`
	BaseURL             string        `mapstructure:"base_url" validate:"required,url"`
	APIKey              string        `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int64         `mapstructure:"max_request_per_minute" validate:"gte=0"`
	MaxRequestPerHour   int64         `mapstructure:"max_request_per_hour" validate:"gte=0"`
	RequestDelay        time.Duration `mapstructure:"request_delay"`
	BatchSize           int           `mapstructure:"batch_size" validate:"gte=1"`
	BatchDelay          time.Duration `mapstructure:"batch_delay"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	QuoteCacheTTL       time.Duration `mapstructure:"quote_cache_ttl"`
}

type Pipeline struct {
	Symbols        []string `mapstructure:"symbols"`
	DefaultSymbol  string   `mapstructure:"default_symbol"`
	CSVBatchSize   int      `mapstructure:"csv_batch_size" validate:"gte=1"`
	LookbackDays   int      `mapstructure:"lookback_days" validate:"gte=1"`
	Cron           string   `mapstructure:"cron"`
	BackfillCron   string   `mapstructure:"backfill_cron"`
	MaxConcurrency int      `mapstructure:"max_concurrency" validate:"gte=1"`
}

type Model struct {
	ArtifactStore string  `mapstructure:"artifact_store" validate:"oneof=file database"`
	ArtifactPath  string  `mapstructure:"artifact_path"`
	RidgeLambda   float64 `mapstructure:"ridge_lambda" validate:"gt=0"`
	HoldoutRatio  float64 `mapstructure:"holdout_ratio" validate:"gte=0,lt=1"`
	VersionPrefix string  `mapstructure:"version_prefix"`
	PriceEpsilon  float64 `mapstructure:"price_epsilon" validate:"gt=0"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	return &Config{
		Log: Logger{Level: "info", Encoding: "json"},
		DB: Database{
			Driver:     "sqlite",
			SQLitePath: "data/market_forecast.db",
			SSLMode:    "disable",
			LogLevel:   "Warn",
		},
		Provider: Provider{
			Name:                "alphavantage",
			BaseURL:             "https://www.alphavantage.co",
			Timeout:             30 * time.Second,
			MaxRequestPerMinute: 5,
			MaxRequestPerHour:   500,
			RequestDelay:        12 * time.Second,
			BatchSize:           5,
			BatchDelay:          time.Minute,
			MaxRetries:          2,
			RetryBackoff:        2 * time.Second,
			QuoteCacheTTL:       time.Minute,
		},
		Pipeline: Pipeline{
			CSVBatchSize:   1000,
			LookbackDays:   365,
			Cron:           "0 22 * * 1-5",
			BackfillCron:   "30 22 * * 1-5",
			MaxConcurrency: 4,
		},
		Model: Model{
			ArtifactStore: "file",
			ArtifactPath:  "data/model.json",
			RidgeLambda:   1.0,
			HoldoutRatio:  0.2,
			VersionPrefix: "ridge",
			PriceEpsilon:  0.01,
		},
		Cache: Cache{
			DefaultExpiration: 5 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		},
		API: API{Port: 2112},
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file loaded:", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every default key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logger.level", d.Log.Level)
	v.SetDefault("logger.encoding", d.Log.Encoding)

	v.SetDefault("database.driver", d.DB.Driver)
	v.SetDefault("database.host", d.DB.Host)
	v.SetDefault("database.port", d.DB.Port)
	v.SetDefault("database.user", d.DB.User)
	v.SetDefault("database.password", d.DB.Password)
	v.SetDefault("database.name", d.DB.DBName)
	v.SetDefault("database.ssl_mode", d.DB.SSLMode)
	v.SetDefault("database.sqlite_path", d.DB.SQLitePath)
	v.SetDefault("database.log_level", d.DB.LogLevel)

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.max_request_per_minute", d.Provider.MaxRequestPerMinute)
	v.SetDefault("provider.max_request_per_hour", d.Provider.MaxRequestPerHour)
	v.SetDefault("provider.request_delay", d.Provider.RequestDelay)
	v.SetDefault("provider.batch_size", d.Provider.BatchSize)
	v.SetDefault("provider.batch_delay", d.Provider.BatchDelay)
	v.SetDefault("provider.max_retries", d.Provider.MaxRetries)
	v.SetDefault("provider.retry_backoff", d.Provider.RetryBackoff)
	v.SetDefault("provider.quote_cache_ttl", d.Provider.QuoteCacheTTL)

	v.SetDefault("pipeline.symbols", d.Pipeline.Symbols)
	v.SetDefault("pipeline.default_symbol", d.Pipeline.DefaultSymbol)
	v.SetDefault("pipeline.csv_batch_size", d.Pipeline.CSVBatchSize)
	v.SetDefault("pipeline.lookback_days", d.Pipeline.LookbackDays)
	v.SetDefault("pipeline.cron", d.Pipeline.Cron)
	v.SetDefault("pipeline.backfill_cron", d.Pipeline.BackfillCron)
	v.SetDefault("pipeline.max_concurrency", d.Pipeline.MaxConcurrency)

	v.SetDefault("model.artifact_store", d.Model.ArtifactStore)
	v.SetDefault("model.artifact_path", d.Model.ArtifactPath)
	v.SetDefault("model.ridge_lambda", d.Model.RidgeLambda)
	v.SetDefault("model.holdout_ratio", d.Model.HoldoutRatio)
	v.SetDefault("model.version_prefix", d.Model.VersionPrefix)
	v.SetDefault("model.price_epsilon", d.Model.PriceEpsilon)

	v.SetDefault("cache.default_expiration", d.Cache.DefaultExpiration)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)

	v.SetDefault("api.port", d.API.Port)
}

// Validate checks struct constraints declared on the config sections.
func (c *Config) Validate() error {
	if err := goValidator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
