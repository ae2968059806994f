package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/spf13/viper"

	configpkg "github.com/drblury/userflow/internal/runtime/config"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
)

// appConfig is the runtime configuration plus the process-only settings.
type appConfig struct {
	Runtime   configpkg.Config
	LogLevel  string
	LogFormat string
}

func loadConfig(configPath string) (appConfig, error) {
	defaults := configpkg.Default()

	v := viper.New()
	v.SetEnvPrefix("USERFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("pubsub", defaults.PubSubSystem)
	v.SetDefault("kafka.brokers", defaults.KafkaBrokers)
	v.SetDefault("kafka.client-id", defaults.KafkaClientID)
	v.SetDefault("kafka.consumer-group", defaults.KafkaConsumerGroup)
	v.SetDefault("kafka.security-protocol", defaults.KafkaSecurityProtocol)
	v.SetDefault("kafka.sasl-username", "")
	v.SetDefault("kafka.sasl-password", "")
	v.SetDefault("kafka.poll-timeout", defaults.KafkaPollTimeout)
	v.SetDefault("kafka.initial-offset", defaults.KafkaInitialOffset)
	v.SetDefault("topic.name", defaults.Topic)
	v.SetDefault("topic.dead-letter-suffix", defaults.DeadLetterSuffix)
	v.SetDefault("topic.partitions", defaults.TopicPartitions)
	v.SetDefault("topic.replication-factor", defaults.TopicReplicationFactor)
	v.SetDefault("retry.max-retries", defaults.RetryMaxRetries)
	v.SetDefault("retry.backoff", defaults.RetryBackoff)
	v.SetDefault("router.close-timeout", defaults.CloseTimeout)
	v.SetDefault("metrics.enabled", defaults.MetricsEnabled)
	v.SetDefault("metrics.port", defaults.MetricsPort)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return appConfig{}, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	partitions, err := boundedInt(v, "topic.partitions", math.MaxInt32)
	if err != nil {
		return appConfig{}, err
	}
	replication, err := boundedInt(v, "topic.replication-factor", math.MaxInt16)
	if err != nil {
		return appConfig{}, err
	}

	cfg := appConfig{
		Runtime: configpkg.Config{
			PubSubSystem:           v.GetString("pubsub"),
			KafkaBrokers:           splitList(v.GetStringSlice("kafka.brokers")),
			KafkaClientID:          v.GetString("kafka.client-id"),
			KafkaConsumerGroup:     v.GetString("kafka.consumer-group"),
			KafkaSecurityProtocol:  v.GetString("kafka.security-protocol"),
			KafkaSASLUsername:      v.GetString("kafka.sasl-username"),
			KafkaSASLPassword:      v.GetString("kafka.sasl-password"),
			KafkaPollTimeout:       v.GetDuration("kafka.poll-timeout"),
			KafkaInitialOffset:     v.GetString("kafka.initial-offset"),
			Topic:                  v.GetString("topic.name"),
			DeadLetterSuffix:       v.GetString("topic.dead-letter-suffix"),
			TopicPartitions:        int32(partitions),
			TopicReplicationFactor: int16(replication),
			RetryMaxRetries:        v.GetInt("retry.max-retries"),
			RetryBackoff:           v.GetDuration("retry.backoff"),
			CloseTimeout:           v.GetDuration("router.close-timeout"),
			MetricsEnabled:         v.GetBool("metrics.enabled"),
			MetricsPort:            v.GetInt("metrics.port"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}
	entries, err := parseEntries(splitList(v.GetStringSlice("topic.config-entries")))
	if err != nil {
		return appConfig{}, err
	}
	cfg.Runtime.TopicConfigEntries = entries

	if err := cfg.Runtime.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// boundedInt reads key as an int and rejects values the narrower config
// field cannot hold. Negative values pass through to Validate.
func boundedInt(v *viper.Viper, key string, limit int64) (int64, error) {
	n := v.GetInt64(key)
	if n > limit || n < -limit-1 {
		return 0, fmt.Errorf("%s: %d is out of range (max %d)", key, n, limit)
	}
	return n, nil
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseEntries reads key=value topic settings. Keys such as retention.ms
// contain dots, so they cannot be nested viper keys.
func parseEntries(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	entries := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("topic config entry %q: want key=value", pair)
		}
		entries[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return entries, nil
}

func newLogger(cfg appConfig, w io.Writer) (loggingpkg.ServiceLogger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "trace":
		level = loggingpkg.LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}
