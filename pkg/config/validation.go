package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the global configuration. Individual pairs and sources are
// checked with ValidatePair and ValidateSource so that one bad entry does not
// take the engine down.
func Validate(cfg *Config) error {
	if err := validate.Var(cfg.Engine.MaxWorkers, "gte=0"); err != nil {
		return fmt.Errorf("engine config: %w: max_workers must be >= 0", ErrInvalidEngine)
	}
	if cfg.Engine.CycleDeadline.ToDuration() > cfg.Engine.CycleInterval.ToDuration() {
		return fmt.Errorf("engine config: %w: cycle_deadline exceeds cycle_interval", ErrInvalidEngine)
	}

	if len(cfg.Pairs) == 0 {
		return ErrNoPairsConfigured
	}
	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}

	if err := validateSigner(&cfg.Signer); err != nil {
		return fmt.Errorf("signer config: %w", err)
	}
	if err := validatePublish(&cfg.Publish); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}
	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// ValidatePair checks a single pair configuration.
func ValidatePair(p *PairConfig) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPair, describe(err))
	}
	if p.MaxStaleness <= 0 {
		return fmt.Errorf("%w: max_staleness must be positive", ErrInvalidPair)
	}
	seen := make(map[string]bool, len(p.HistoryIntervals))
	for _, iv := range p.HistoryIntervals {
		if _, err := history.ParseInterval(iv); err != nil {
			return fmt.Errorf("%w: history interval %q: %w", ErrInvalidPair, iv, err)
		}
		if seen[iv] {
			return fmt.Errorf("%w: duplicate history interval %q", ErrInvalidPair, iv)
		}
		seen[iv] = true
	}
	return nil
}

// ValidateSource checks a single source configuration.
func ValidateSource(s *SourceConfig) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSource, describe(err))
	}
	if !strings.Contains(s.Adapter, ".") {
		return fmt.Errorf("%w: adapter %q must be <type>.<name>", ErrInvalidSource, s.Adapter)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidSource)
	}
	return nil
}

func validateSigner(cfg *SignerConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.PrivateKeyEnv == "" {
		return ErrSignerKeyEnvRequired
	}
	if os.Getenv(cfg.PrivateKeyEnv) == "" {
		return fmt.Errorf("%w: %s", ErrSignerKeyNotSet, cfg.PrivateKeyEnv)
	}
	return nil
}

func validatePublish(cfg *PublishConfig) error {
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return ErrKafkaBrokersRequired
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return ErrRedisAddrRequired
	}
	if cfg.ClickHouse.Enabled && cfg.ClickHouse.Addr == "" {
		return ErrClickHouseAddrRequired
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.Cert == "" || cfg.HTTP.TLS.Key == "" {
			return ErrTLSConfigIncomplete
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Cert); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSCertNotFound, cfg.HTTP.TLS.Cert)
		}
		if _, err := os.Stat(cfg.HTTP.TLS.Key); err != nil {
			return fmt.Errorf("%w: %s", ErrTLSKeyNotFound, cfg.HTTP.TLS.Key)
		}
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	if err := validate.Var(strings.ToLower(cfg.Level), "oneof=debug info warn error"); err != nil {
		return fmt.Errorf("%w: %s (must be one of: debug, info, warn, error)", ErrInvalidLogLevel, cfg.Level)
	}
	if err := validate.Var(strings.ToLower(cfg.Format), "oneof=json text"); err != nil {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}
	return nil
}

// describe flattens validator errors into "field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
