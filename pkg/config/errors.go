package config

import "errors"

var (
	// ErrInvalidEngine indicates invalid engine settings.
	ErrInvalidEngine = errors.New("invalid engine config")
	// ErrNoPairsConfigured indicates that no pairs are configured.
	ErrNoPairsConfigured = errors.New("at least one pair must be configured")
	// ErrNoSourcesConfigured indicates that no price sources are configured.
	ErrNoSourcesConfigured = errors.New("at least one price source must be configured")
	// ErrInvalidPair indicates an invalid pair entry.
	ErrInvalidPair = errors.New("invalid pair")
	// ErrInvalidSource indicates an invalid source entry.
	ErrInvalidSource = errors.New("invalid source")
	// ErrSignerKeyEnvRequired indicates that signer.private_key_env must be set when signing is enabled.
	ErrSignerKeyEnvRequired = errors.New("signer.private_key_env must be specified")
	// ErrSignerKeyNotSet indicates that the signer key environment variable is empty.
	ErrSignerKeyNotSet = errors.New("signer key environment variable not set")
	// ErrKafkaBrokersRequired indicates that kafka is enabled without brokers.
	ErrKafkaBrokersRequired = errors.New("at least one kafka broker must be specified")
	// ErrRedisAddrRequired indicates that redis is enabled without an address.
	ErrRedisAddrRequired = errors.New("redis addr must be specified")
	// ErrClickHouseAddrRequired indicates that clickhouse is enabled without an address.
	ErrClickHouseAddrRequired = errors.New("clickhouse addr must be specified")
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
