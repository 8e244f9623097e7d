package config

import "time"

// Config is the root configuration structure
type Config struct {
	Engine  EngineConfig   `yaml:"engine"`
	Pairs   []PairConfig   `yaml:"pairs"`
	Sources []SourceConfig `yaml:"sources"`
	Signer  SignerConfig   `yaml:"signer"`
	Publish PublishConfig  `yaml:"publish"`
	Server  ServerConfig   `yaml:"server"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// EngineConfig configures the per-pair cycle scheduler
type EngineConfig struct {
	CycleInterval Duration `yaml:"cycle_interval"`
	CycleDeadline Duration `yaml:"cycle_deadline"`
	// MaxWorkers caps concurrent fetches per collect. 0 = one worker per eligible source.
	MaxWorkers int `yaml:"max_workers" validate:"gte=0"`
	// MaxClockSkew bounds how far in the future a quote may be stamped.
	MaxClockSkew   Duration `yaml:"max_clock_skew"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// PairConfig configures one (symbol, base currency) pipeline
type PairConfig struct {
	Symbol                  string   `yaml:"symbol" validate:"required,max=32"`
	BaseCurrency            string   `yaml:"base_currency" validate:"required,max=16"`
	MaxStaleness            Duration `yaml:"max_staleness"`
	OutlierThresholdPercent float64  `yaml:"outlier_threshold_percent" default:"5" validate:"gt=0,lte=100"`
	WidenFactor             float64  `yaml:"widen_factor" default:"2" validate:"gte=1"`
	MinSources              int      `yaml:"min_sources" default:"1" validate:"gte=1"`
	HistoryIntervals        []string `yaml:"history_intervals" default:"[\"1m\",\"1h\",\"1d\"]" validate:"dive,required"`
	HistoryRetention        int      `yaml:"history_retention" default:"500" validate:"gte=1"`
}

// Key returns the canonical "SYMBOL/BASE" identifier of the pair.
func (p PairConfig) Key() string {
	return p.Symbol + "/" + p.BaseCurrency
}

// SourceConfig configures a price source
type SourceConfig struct {
	ID               string                 `yaml:"id" validate:"required"`
	Name             string                 `yaml:"name"`
	Type             string                 `yaml:"type" validate:"required,oneof=exchange aggregator onchain oracle custom"`
	Adapter          string                 `yaml:"adapter" validate:"required"`
	Enabled          bool                   `yaml:"enabled"`
	Weight           *float64               `yaml:"weight" validate:"omitnil,gte=0,lte=100"`
	SupportedAssets  []string               `yaml:"supported_assets" validate:"required,min=1,dive,required"`
	UpdateInterval   Duration               `yaml:"update_interval"`
	Timeout          Duration               `yaml:"timeout"`
	FailureThreshold int                    `yaml:"failure_threshold" default:"3" validate:"gte=1"`
	Cooldown         *Duration              `yaml:"cooldown"`
	Config           map[string]interface{} `yaml:"config"`
}

// WeightValue returns the configured weight; applyDefaults fills an unset one.
func (s SourceConfig) WeightValue() float64 {
	if s.Weight == nil {
		return DefaultSourceWeight
	}
	return *s.Weight
}

// CooldownValue returns the configured cooldown. Zero disables automatic reactivation.
func (s SourceConfig) CooldownValue() time.Duration {
	if s.Cooldown == nil {
		return DefaultSourceCooldown
	}
	return s.Cooldown.ToDuration()
}

// SignerConfig configures price signing
type SignerConfig struct {
	Enabled bool `yaml:"enabled"`
	// PrivateKeyEnv names the environment variable holding the hex secp256k1 key.
	PrivateKeyEnv string `yaml:"private_key_env"`
}

// PublishConfig configures the downstream publishers
type PublishConfig struct {
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// KafkaConfig configures the Kafka event publisher
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	PriceTopic   string   `yaml:"price_topic"`
	HistoryTopic string   `yaml:"history_topic"`
}

// RedisConfig configures the Redis latest-price cache
type RedisConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
	Channel  string   `yaml:"channel"`
}

// ClickHouseConfig configures the OHLC history store
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ServerConfig configures the operator API
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// WSConfig configures the WebSocket server
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TLSConfig holds TLS certificate configuration
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
