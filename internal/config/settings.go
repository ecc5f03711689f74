package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"paymesh/internal/domain"
)

const envPrefix = "PAYMESH"

type (
	ApplicationSettings struct {
		Server     ServerSettings    `mapstructure:"server"`
		Storage    StorageSettings   `mapstructure:"storage"`
		Events     EventSettings     `mapstructure:"events"`
		Dispatch   DispatchSettings  `mapstructure:"dispatch"`
		Health     HealthSettings    `mapstructure:"health"`
		Breaker    BreakerSettings   `mapstructure:"breaker"`
		Markets    MarketSettings    `mapstructure:"markets"`
		Logging    LoggingSettings   `mapstructure:"logging"`
		Gateways   []GatewaySettings `mapstructure:"gateways"`
		ConfigFile string            `mapstructure:"-"`
	}

	ServerSettings struct {
		Port            string        `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	}

	// StorageSettings selects the audit backend. Only the fields of the
	// chosen backend are read.
	StorageSettings struct {
		Backend       string `mapstructure:"backend"`
		SQLitePath    string `mapstructure:"sqlite_path"`
		DatabaseURL   string `mapstructure:"database_url"`
		MaxConns      int32  `mapstructure:"max_conns"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
		RedisPrefix   string `mapstructure:"redis_prefix"`
	}

	EventSettings struct {
		Backend        string        `mapstructure:"backend"`
		RabbitMQURL    string        `mapstructure:"rabbitmq_url"`
		Queue          string        `mapstructure:"queue"`
		RedisChannel   string        `mapstructure:"redis_channel"`
		Workers        int           `mapstructure:"workers"`
		QueueCapacity  int           `mapstructure:"queue_capacity"`
		PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	}

	DispatchSettings struct {
		AdapterTimeout    time.Duration `mapstructure:"adapter_timeout"`
		ReportingCurrency string        `mapstructure:"reporting_currency"`
	}

	HealthSettings struct {
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	}

	BreakerSettings struct {
		MaxFailures    int           `mapstructure:"max_failures"`
		OpenTimeout    time.Duration `mapstructure:"open_timeout"`
		ResetThreshold int           `mapstructure:"reset_threshold"`
	}

	MarketSettings struct {
		File string `mapstructure:"file"`
	}

	LoggingSettings struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	// GatewaySettings seeds the gateway registry at start.
	GatewaySettings struct {
		ID                  string            `mapstructure:"id"`
		DisplayName         string            `mapstructure:"display_name"`
		Category            string            `mapstructure:"category"`
		SupportedCurrencies []string          `mapstructure:"supported_currencies"`
		Capabilities        []string          `mapstructure:"capabilities"`
		Active              *bool             `mapstructure:"active"`
		Config              map[string]string `mapstructure:"config"`
	}
)

func Default() *ApplicationSettings {
	return &ApplicationSettings{
		Server: ServerSettings{
			Port:            "9999",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageSettings{
			Backend:     "memory",
			SQLitePath:  "data/paymesh.db",
			MaxConns:    20,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "paymesh",
		},
		Events: EventSettings{
			Backend:        "none",
			Queue:          "payment_events",
			RedisChannel:   "payment_event",
			Workers:        4,
			QueueCapacity:  10000,
			PublishTimeout: 5 * time.Second,
		},
		Dispatch: DispatchSettings{
			AdapterTimeout:    10 * time.Second,
			ReportingCurrency: "SAR",
		},
		Health: HealthSettings{
			Interval: 5 * time.Second,
			Timeout:  2 * time.Second,
		},
		Breaker: BreakerSettings{
			MaxFailures:    5,
			OpenTimeout:    30 * time.Second,
			ResetThreshold: 2,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers defaults, .env, an optional YAML file and PAYMESH_* variables,
// in that order. An empty path falls back to PAYMESH_CONFIG.
func Load(path string) (*ApplicationSettings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not read .env file", "err", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Plain names kept for existing deployments.
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.redis_addr", envPrefix+"_STORAGE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("storage.database_url", envPrefix+"_STORAGE_DATABASE_URL", "DATABASE_URL")

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	settings := &ApplicationSettings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *ApplicationSettings) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.database_url", d.Storage.DatabaseURL)
	v.SetDefault("storage.max_conns", d.Storage.MaxConns)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", d.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", d.Storage.RedisDB)
	v.SetDefault("storage.redis_prefix", d.Storage.RedisPrefix)

	v.SetDefault("events.backend", d.Events.Backend)
	v.SetDefault("events.rabbitmq_url", d.Events.RabbitMQURL)
	v.SetDefault("events.queue", d.Events.Queue)
	v.SetDefault("events.redis_channel", d.Events.RedisChannel)
	v.SetDefault("events.workers", d.Events.Workers)
	v.SetDefault("events.queue_capacity", d.Events.QueueCapacity)
	v.SetDefault("events.publish_timeout", d.Events.PublishTimeout)

	v.SetDefault("dispatch.adapter_timeout", d.Dispatch.AdapterTimeout)
	v.SetDefault("dispatch.reporting_currency", d.Dispatch.ReportingCurrency)

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)

	v.SetDefault("breaker.max_failures", d.Breaker.MaxFailures)
	v.SetDefault("breaker.open_timeout", d.Breaker.OpenTimeout)
	v.SetDefault("breaker.reset_threshold", d.Breaker.ResetThreshold)

	v.SetDefault("markets.file", d.Markets.File)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

func (s *ApplicationSettings) Validate() error {
	var errs []error

	if strings.TrimSpace(s.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch s.Storage.Backend {
	case "memory":
	case "sqlite":
		if s.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case "postgres":
		if s.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres backend"))
		}
	case "redis":
		if s.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, sqlite, postgres, redis", s.Storage.Backend))
	}

	switch s.Events.Backend {
	case "none":
	case "redis":
		if s.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis events"))
		}
	case "rabbitmq":
		if s.Events.RabbitMQURL == "" {
			errs = append(errs, errors.New("events.rabbitmq_url is required for rabbitmq events"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend %q is not one of none, redis, rabbitmq", s.Events.Backend))
	}

	if s.Events.Workers <= 0 || s.Events.QueueCapacity <= 0 {
		errs = append(errs, errors.New("events.workers and events.queue_capacity must be positive"))
	}
	if s.Events.PublishTimeout <= 0 {
		errs = append(errs, errors.New("events.publish_timeout must be positive"))
	}

	if len(s.Dispatch.ReportingCurrency) != 3 {
		errs = append(errs, fmt.Errorf("dispatch.reporting_currency %q must be a 3-letter code", s.Dispatch.ReportingCurrency))
	}
	s.Dispatch.ReportingCurrency = strings.ToUpper(s.Dispatch.ReportingCurrency)

	if s.Dispatch.AdapterTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.adapter_timeout must be positive"))
	}
	if s.Health.Interval <= 0 || s.Health.Timeout <= 0 {
		errs = append(errs, errors.New("health.interval and health.timeout must be positive"))
	}
	if s.Breaker.MaxFailures <= 0 || s.Breaker.ResetThreshold <= 0 || s.Breaker.OpenTimeout <= 0 {
		errs = append(errs, errors.New("breaker thresholds must be positive"))
	}

	if _, err := parseLevel(s.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if s.Logging.Format != "text" && s.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", s.Logging.Format))
	}

	seen := make(map[string]bool, len(s.Gateways))
	for _, g := range s.Gateways {
		if g.ID == "" {
			errs = append(errs, errors.New("gateways: entry without id"))
			continue
		}
		if seen[g.ID] {
			errs = append(errs, fmt.Errorf("gateways: duplicate id %q", g.ID))
		}
		seen[g.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address for the configured port.
func (s ServerSettings) Addr() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// SeedGateways converts the configured gateways. Active defaults to true.
func (s *ApplicationSettings) SeedGateways() []domain.Gateway {
	out := make([]domain.Gateway, 0, len(s.Gateways))
	for _, g := range s.Gateways {
		active := true
		if g.Active != nil {
			active = *g.Active
		}
		out = append(out, domain.Gateway{
			ID:                  g.ID,
			DisplayName:         g.DisplayName,
			Category:            domain.Category(g.Category),
			SupportedCurrencies: g.SupportedCurrencies,
			Capabilities:        g.Capabilities,
			Active:              active,
			Config:              g.Config,
		})
	}
	return out
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
	return l, nil
}

// NewLogger builds the handler selected by the logging settings.
func (s LoggingSettings) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(s.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
