package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"invoice-reconciliation-engine/internal/events"
	"invoice-reconciliation-engine/internal/locks"
	"invoice-reconciliation-engine/internal/matcher"
	"invoice-reconciliation-engine/internal/parsers"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/internal/reporter"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// Settings is everything the CLI reads from flags, the config file and
// RECONCILER_* environment variables.
type Settings struct {
	Store    StoreSettings    `mapstructure:"store"`
	Matching MatchingSettings `mapstructure:"matching"`
	Events   EventsSettings   `mapstructure:"events"`
	Lock     LockSettings     `mapstructure:"lock"`
	Batch    BatchSettings    `mapstructure:"batch"`
	Log      LogSettings      `mapstructure:"log"`
	Server   ServerSettings   `mapstructure:"server"`
}

type StoreSettings struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// MatchingSettings keeps tolerances as strings so they parse as exact
// decimals. Tolerances left empty keep the value of the preset.
type MatchingSettings struct {
	Preset                string   `mapstructure:"preset"`
	PriceTolerance        string   `mapstructure:"price_tolerance"`
	PriceTolerancePercent string   `mapstructure:"price_tolerance_percent"`
	QuantityTolerance     string   `mapstructure:"quantity_tolerance"`
	ClosureKeywords       []string `mapstructure:"closure_keywords"`
	PositionalFallback    bool     `mapstructure:"positional_fallback"`
}

type EventsSettings struct {
	Driver          string `mapstructure:"driver"`
	Project         string `mapstructure:"project"`
	Topic           string `mapstructure:"topic"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CreateTopic     bool   `mapstructure:"create_topic"`
}

type LockSettings struct {
	Driver       string        `mapstructure:"driver"`
	RedisAddress string        `mapstructure:"redis_address"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type BatchSettings struct {
	Concurrency int `mapstructure:"concurrency"`
	Limit       int `mapstructure:"limit"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type ServerSettings struct {
	Addr string `mapstructure:"addr"`
}

// Store drivers
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Event drivers
const (
	EventsLog    = "log"
	EventsPubSub = "pubsub"
	EventsNone   = "none"
)

// Lock drivers
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "reconciler.db")

	v.SetDefault("matching.preset", matcher.PresetDefault)
	v.SetDefault("matching.price_tolerance", "")
	v.SetDefault("matching.price_tolerance_percent", "")
	v.SetDefault("matching.quantity_tolerance", "")
	v.SetDefault("matching.closure_keywords", matcher.DefaultClosureKeywords)
	v.SetDefault("matching.positional_fallback", true)

	v.SetDefault("events.driver", EventsLog)
	v.SetDefault("events.topic", "invoice-events")
	v.SetDefault("events.create_topic", false)

	v.SetDefault("lock.driver", LockLocal)
	v.SetDefault("lock.redis_address", "localhost:6379")
	v.SetDefault("lock.ttl", locks.DefaultLockTTL)

	v.SetDefault("batch.concurrency", reconciler.DefaultConfig().BatchConcurrency)
	v.SetDefault("batch.limit", 0)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))

	v.SetDefault("server.addr", ":8080")
}

// Load decodes and validates the settings held by v
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err).
			WithSuggestion("Check the config file syntax and value types")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks driver names and the settings each driver needs
func (s *Settings) Validate() error {
	switch s.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(s.Store.Path) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "store.path", s.Store.Path, nil).
				WithSuggestion("Set store.path to the database file")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", s.Store.Driver,
			fmt.Errorf("must be %s or %s", StoreMemory, StoreSQLite))
	}

	switch s.Events.Driver {
	case EventsLog, EventsNone:
	case EventsPubSub:
		if s.Events.Project == "" || s.Events.Topic == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "events.project", s.Events.Project, nil).
				WithSuggestion("Pub/Sub events need events.project and events.topic")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "events.driver", s.Events.Driver,
			fmt.Errorf("must be %s, %s or %s", EventsLog, EventsPubSub, EventsNone))
	}

	switch s.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if s.Lock.RedisAddress == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "lock.redis_address", s.Lock.RedisAddress, nil)
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.driver", s.Lock.Driver,
			fmt.Errorf("must be %s or %s", LockLocal, LockRedis))
	}
	if s.Lock.TTL < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.ttl", s.Lock.TTL, nil)
	}

	if s.Store.Driver == StoreMemory && s.Lock.Driver == LockRedis {
		return errors.ConfigurationError(errors.CodeConfigConflict, "lock.driver", s.Lock.Driver,
			fmt.Errorf("a distributed lock cannot guard a process-local store")).
			WithSuggestion("Use the sqlite store or the local lock")
	}

	return nil
}

// CreateMatchingConfig turns the matching settings into an engine configuration
func CreateMatchingConfig(s MatchingSettings) (*matcher.MatchConfig, error) {
	config, err := matcher.PresetMatchConfig(s.Preset)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching.preset", s.Preset, err).
			WithSuggestion("Use one of the presets default, strict or relaxed")
	}

	tolerances := []struct {
		key    string
		value  string
		target *decimal.Decimal
	}{
		{"matching.price_tolerance", s.PriceTolerance, &config.PriceTolerance},
		{"matching.price_tolerance_percent", s.PriceTolerancePercent, &config.PriceTolerancePercent},
		{"matching.quantity_tolerance", s.QuantityTolerance, &config.QuantityTolerance},
	}
	for _, t := range tolerances {
		if strings.TrimSpace(t.value) == "" {
			continue
		}
		d, err := parseTolerance(t.key, t.value)
		if err != nil {
			return nil, err
		}
		*t.target = d
	}

	config.PositionalFallback = s.PositionalFallback
	if len(s.ClosureKeywords) > 0 {
		config.ClosureKeywords = append([]string(nil), s.ClosureKeywords...)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}
	return config, nil
}

func parseTolerance(key, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, key, value, err).
			WithSuggestion("Tolerances are plain decimal numbers such as 0.50")
	}
	return d, nil
}

// CreateLoggerConfig builds the logger configuration. Verbose forces debug.
func CreateLoggerConfig(s LogSettings, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Output = logger.StderrOutput
	if s.Level != "" {
		level, err := logger.ParseLevel(s.Level)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log.level", s.Level, err)
		}
		config.Level = level
	}
	if s.Format != "" {
		config.Format = logger.Format(strings.ToLower(s.Format))
	}
	if s.File != "" {
		config.Output = logger.FileOutput
		config.File = s.File
	}
	if verbose {
		config.Level = logger.DebugLevel
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", s.Level, err)
	}
	return config, nil
}

// CreateReconcilerConfig creates the service configuration
func CreateReconcilerConfig(s BatchSettings, showProgress bool) *reconciler.Config {
	config := reconciler.DefaultConfig()
	if s.Concurrency > 0 {
		config.BatchConcurrency = s.Concurrency
	}
	config.BatchLimit = s.Limit
	config.ProgressReporting = showProgress
	return config
}

// CreateReportConfig creates a report configuration for the output format
func CreateReportConfig(format string, onlyAttention bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.OnlyAttention = onlyAttention

	switch config.Format {
	case reporter.FormatJSON:
		config.IncludeAuditTrail = true
	case reporter.FormatCSV, reporter.FormatXLSX:
		config.CSVHeaders = true
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("Use console, json, csv or xlsx")
	}
	return config, nil
}

// OpenStore opens the configured store
func OpenStore(s StoreSettings, log logger.Logger) (store.Store, error) {
	switch s.Driver {
	case StoreMemory:
		return store.NewMemoryStore(), nil
	case StoreSQLite:
		st, err := store.OpenSQLite(s.Path, log)
		if err != nil {
			return nil, errors.DataUnavailable("open "+s.Path, err)
		}
		return st, nil
	}
	return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", s.Driver, nil)
}

// CreatePublisher connects the configured event publisher
func CreatePublisher(ctx context.Context, s EventsSettings, log logger.Logger) (events.Publisher, error) {
	switch s.Driver {
	case EventsNone:
		return events.NopPublisher{}, nil
	case EventsLog:
		return events.NewLogPublisher(log), nil
	case EventsPubSub:
		return events.NewPubSubPublisher(ctx, events.PubSubConfig{
			ProjectID:       s.Project,
			Topic:           s.Topic,
			CredentialsFile: s.CredentialsFile,
			CreateTopic:     s.CreateTopic,
		}, log)
	}
	return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "events.driver", s.Driver, nil)
}

// CreateLocker creates the per-invoice locker. The returned close function
// releases the Redis connection when there is one.
func CreateLocker(ctx context.Context, s LockSettings, log logger.Logger) (locks.Locker, func() error, error) {
	switch s.Driver {
	case LockLocal:
		return locks.NewLocalLocker(), func() error { return nil }, nil
	case LockRedis:
		rdb, err := locks.DialRedis(ctx, s.RedisAddress)
		if err != nil {
			return nil, nil, errors.NetworkError(errors.CodeConnectionFailed, s.RedisAddress, err)
		}
		return locks.NewRedisLocker(rdb, "reconciler:invoice:", s.TTL, log), rdb.Close, nil
	}
	return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "lock.driver", s.Driver, nil)
}

// CreateReferenceParserConfig returns the CSV settings for purchase order
// files. An empty currency keeps the currency column required.
func CreateReferenceParserConfig(defaultCurrency, timeFormat string) (*parsers.ReferenceParserConfig, error) {
	config := parsers.DefaultReferenceParserConfig()
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if timeFormat != "" {
		config.TimeFormat = timeFormat
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reference_parser", defaultCurrency, err)
	}
	return config, nil
}
