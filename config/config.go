package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketfeed/adapter"
)

const (
	DefaultConfigPath      = "config/config.yml"
	DefaultInstrumentsPath = "config/instruments.yml"
)

var configEnvPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

type Config struct {
	MarketFeed MarketFeedConfig          `yaml:"marketfeed"`
	Gateway    GatewayConfig             `yaml:"gateway"`
	Reader     ReaderConfig              `yaml:"reader"`
	Exchanges  map[string]ExchangeConfig `yaml:"exchanges"`
	Writer     WriterConfig              `yaml:"writer"`
	Storage    StorageConfig             `yaml:"storage"`
	Logging    LoggingConfig             `yaml:"logging"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Dashboard  DashboardConfig           `yaml:"dashboard"`
}

type MarketFeedConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// GatewayConfig holds the polling cadence shared by every exchange unless an
// exchange overrides it.
type GatewayConfig struct {
	Depth             int           `yaml:"depth"`
	OrderBookInterval time.Duration `yaml:"order_book_interval"`
	TradeInterval     time.Duration `yaml:"trade_interval"`
	EmptyTradeRetry   time.Duration `yaml:"empty_trade_retry"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
}

type ReaderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	LocalIP        string               `yaml:"local_ip"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// ExchangeConfig overrides gateway and reader settings for one exchange.
// Descriptor registers an exchange that is not built in, or replaces a
// built-in one.
type ExchangeConfig struct {
	OrderBookInterval time.Duration       `yaml:"order_book_interval"`
	TradeInterval     time.Duration       `yaml:"trade_interval"`
	RateLimit         RateLimitConfig     `yaml:"rate_limit"`
	BaseURL           string              `yaml:"base_url"`
	StreamURL         string              `yaml:"stream_url"`
	Descriptor        *adapter.Descriptor `yaml:"descriptor"`
}

type WriterConfig struct {
	Log     LogSinkConfig `yaml:"log"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Parquet ParquetConfig `yaml:"parquet"`
}

type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	OrderBookTopic string        `yaml:"order_book_topic"`
	TradeTopic     string        `yaml:"trade_topic"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
}

type ParquetConfig struct {
	Enabled       bool               `yaml:"enabled"`
	FlushInterval time.Duration      `yaml:"flush_interval"`
	BufferSize    int                `yaml:"buffer_size"`
	Compression   string             `yaml:"compression"`
	MetadataDir   string             `yaml:"metadata_dir"`
	Partitioning  PartitioningConfig `yaml:"partitioning"`
}

type PartitioningConfig struct {
	TimeFormat string `yaml:"time_format"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	PrometheusAddress string           `yaml:"prometheus_address"`
	ReportInterval    time.Duration    `yaml:"report_interval"`
	CloudWatch        CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

func defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Depth:             5,
			OrderBookInterval: 30 * time.Second,
			TradeInterval:     300 * time.Second,
			EmptyTradeRetry:   time.Second,
			FetchTimeout:      10 * time.Second,
		},
		Reader: ReaderConfig{
			Timeout: 10 * time.Second,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    16,
				MaxConnsPerHost: 8,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Writer: WriterConfig{
			Log: LogSinkConfig{Enabled: true},
			Parquet: ParquetConfig{
				FlushInterval: time.Minute,
				BufferSize:    10000,
				Compression:   "snappy",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{ReportInterval: time.Minute},
		Dashboard: DashboardConfig{
			Address:        ":8080",
			LogHistory:     500,
			MetricsHistory: 500,
		},
	}
}

// LoadConfig reads the YAML file at path. An empty path selects the default
// file for the APP_ENV environment.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, configEnvPaths)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.MarketFeed.Name == "" {
		return fmt.Errorf("marketfeed.name is required")
	}
	if cfg.MarketFeed.Version == "" {
		return fmt.Errorf("marketfeed.version is required")
	}

	if cfg.Gateway.Depth <= 0 {
		return fmt.Errorf("gateway.depth must be greater than 0")
	}
	if cfg.Gateway.OrderBookInterval <= 0 {
		return fmt.Errorf("gateway.order_book_interval must be greater than 0")
	}
	if cfg.Gateway.TradeInterval <= 0 {
		return fmt.Errorf("gateway.trade_interval must be greater than 0")
	}
	if cfg.Gateway.EmptyTradeRetry <= 0 {
		return fmt.Errorf("gateway.empty_trade_retry must be greater than 0")
	}
	if cfg.Gateway.FetchTimeout <= 0 {
		return fmt.Errorf("gateway.fetch_timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond < 0 || cfg.Reader.RateLimit.BurstSize < 0 {
		return fmt.Errorf("reader.rate_limit values must not be negative")
	}

	for name, ex := range cfg.Exchanges {
		if ex.OrderBookInterval < 0 || ex.TradeInterval < 0 {
			return fmt.Errorf("exchanges.%s intervals must not be negative", name)
		}
		if ex.Descriptor != nil {
			if ex.Descriptor.Exchange == "" {
				ex.Descriptor.Exchange = name
			}
			if ex.Descriptor.Exchange != name {
				return fmt.Errorf("exchanges.%s.descriptor names exchange %q", name, ex.Descriptor.Exchange)
			}
			if err := ex.Descriptor.Validate(); err != nil {
				return fmt.Errorf("exchanges.%s.descriptor: %w", name, err)
			}
		}
	}

	if !cfg.Writer.Log.Enabled && !cfg.Writer.Kafka.Enabled && !cfg.Writer.Parquet.Enabled {
		return fmt.Errorf("at least one writer must be enabled")
	}
	if cfg.Writer.Kafka.Enabled && len(cfg.Writer.Kafka.Brokers) == 0 {
		return fmt.Errorf("writer.kafka.brokers is required when kafka is enabled")
	}
	if cfg.Writer.Parquet.Enabled {
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("writer.parquet requires storage.s3.enabled")
		}
		if cfg.Writer.Parquet.FlushInterval <= 0 {
			return fmt.Errorf("writer.parquet.flush_interval must be greater than 0")
		}
		if cfg.Writer.Parquet.BufferSize <= 0 {
			return fmt.Errorf("writer.parquet.buffer_size must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
	}
	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// Exchange returns the overrides for name merged over the shared gateway and
// reader settings.
func (c *Config) Exchange(name string) ExchangeSettings {
	ex := c.Exchanges[name]
	s := ExchangeSettings{
		OrderBookInterval: c.Gateway.OrderBookInterval,
		TradeInterval:     c.Gateway.TradeInterval,
		RateLimit:         c.Reader.RateLimit,
		BaseURL:           ex.BaseURL,
		StreamURL:         ex.StreamURL,
	}
	if ex.OrderBookInterval > 0 {
		s.OrderBookInterval = ex.OrderBookInterval
	}
	if ex.TradeInterval > 0 {
		s.TradeInterval = ex.TradeInterval
	}
	if ex.RateLimit.RequestsPerSecond > 0 {
		s.RateLimit = ex.RateLimit
	}
	return s
}

// ExchangeSettings is the effective configuration of one exchange.
type ExchangeSettings struct {
	OrderBookInterval time.Duration
	TradeInterval     time.Duration
	RateLimit         RateLimitConfig
	BaseURL           string
	StreamURL         string
}

// Apply overrides the endpoints of desc with the configured URLs.
func (s ExchangeSettings) Apply(desc adapter.Descriptor) adapter.Descriptor {
	if s.BaseURL != "" {
		desc.BaseURL = s.BaseURL
	}
	if s.StreamURL != "" {
		desc.Stream.URL = s.StreamURL
	}
	return desc
}

// RegisterDescriptors adds the configured descriptors to reg, replacing
// built-ins with the same exchange name.
func (c *Config) RegisterDescriptors(reg *adapter.Registry) error {
	for name, ex := range c.Exchanges {
		if ex.Descriptor == nil {
			continue
		}
		desc := *ex.Descriptor
		if desc.Exchange == "" {
			desc.Exchange = name
		}
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("exchanges.%s: %w", name, err)
		}
	}
	return nil
}
