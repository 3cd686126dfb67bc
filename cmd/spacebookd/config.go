package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/spacebook/internal/scheduler"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvFile        = "env-file"
	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagLogLevel       = "log-level"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagHTTPListenAddr = "http-listen-addr"
	flagTimezone       = "timezone"
	flagTickInterval   = "tick-interval"
	flagNotifyLead     = "notify-lead"
	flagExpiryEnabled  = "expiry-enabled"
	flagExpiryGrace    = "expiry-grace"
	flagNotifyTimeout  = "notify-timeout"
	flagWorkers        = "workers"
	flagTelegramToken  = "telegram-token"
	flagAMQPURL        = "amqp-url"
	flagAMQPQueue      = "amqp-queue"
	flagRedisAddr      = "redis-addr"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagAllowedOrigins = "allowed-origins"
	flagCalendarVenue  = "calendar-venue"

	envPrefix             = "SPACEBOOK"
	defaultEnvFile        = ".env"
	defaultDatabaseURL    = "sqlite:///tmp/spacebook.db"
	defaultGRPCListenAddr = "127.0.0.1:7000"
	defaultHTTPListenAddr = ":8080"
	defaultTimezone       = "UTC"

	storeGorm   = "gorm"
	storePgx    = "pgx"
	storeMemory = "memory"
)

type runtimeConfig struct {
	DatabaseURL    string
	Store          string
	LogLevel       string
	GRPCListenAddr string
	Timezone       string
	Location       *time.Location
	Policy         booking.LifecyclePolicy
	Scheduler      scheduler.Config
	TelegramToken  string
	AMQPURL        string
	AMQPQueue      string
	RedisAddr      string
	HTTP           httpapi.Config
}

func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	policy := booking.DefaultLifecyclePolicy()
	flags.String(flagEnvFile, defaultEnvFile, "Optional dotenv file loaded before reading the environment")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "Database URL (postgres://, mysql://, sqlite:// or a file path)")
	flags.String(flagStore, storeGorm, "Store implementation: gorm, pgx or memory")
	flags.String(flagLogLevel, "info", "Log level: info or debug")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	flags.String(flagTimezone, defaultTimezone, "IANA timezone reservations are dated in")
	flags.Duration(flagTickInterval, scheduler.DefaultInterval, "Scheduler tick interval")
	flags.Duration(flagNotifyLead, policy.NotifyLead, "Reminder lead before start and end")
	flags.Bool(flagExpiryEnabled, policy.ExpiryEnabled, "Cancel reservations not activated within the grace period")
	flags.Duration(flagExpiryGrace, policy.ExpiryGrace, "Check-in grace period after start")
	flags.Duration(flagNotifyTimeout, scheduler.DefaultNotifyTimeout, "Timeout for one notification delivery")
	flags.Int(flagWorkers, scheduler.DefaultWorkers, "Concurrent notification deliveries")
	flags.String(flagTelegramToken, "", "Telegram bot token")
	flags.String(flagAMQPURL, "", "AMQP broker URL for notification events")
	flags.String(flagAMQPQueue, "", "AMQP queue for notification events")
	flags.String(flagRedisAddr, "", "Redis address enabling the HTTP rate limiter")
	flags.String(flagJWTSigningKey, "", "TAuth session signing key")
	flags.String(flagJWTIssuer, "", "TAuth session issuer")
	flags.String(flagJWTCookieName, "", "TAuth session cookie name")
	flags.String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	flags.String(flagCalendarVenue, "", "Location written into exported calendar events")
}

func newSettings(cmd *cobra.Command) (*viper.Viper, error) {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := settings.BindPFlags(cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	return settings, nil
}

func loadConfig(settings *viper.Viper, cfg *runtimeConfig) error {
	if err := godotenv.Load(settings.GetString(flagEnvFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = strings.ToLower(settings.GetString(flagStore))
	switch cfg.Store {
	case storeGorm, storePgx, storeMemory:
	default:
		return fmt.Errorf("unsupported store %q", cfg.Store)
	}
	cfg.LogLevel = settings.GetString(flagLogLevel)
	cfg.GRPCListenAddr = settings.GetString(flagGRPCListenAddr)
	if cfg.GRPCListenAddr == "" {
		return fmt.Errorf("grpc listen addr is required")
	}

	cfg.Timezone = settings.GetString(flagTimezone)
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = location
	cfg.Policy = booking.LifecyclePolicy{
		NotifyLead:    settings.GetDuration(flagNotifyLead),
		ExpiryGrace:   settings.GetDuration(flagExpiryGrace),
		ExpiryEnabled: settings.GetBool(flagExpiryEnabled),
		Location:      location,
	}
	cfg.Scheduler = scheduler.Config{
		Interval:      settings.GetDuration(flagTickInterval),
		NotifyTimeout: settings.GetDuration(flagNotifyTimeout),
		Workers:       settings.GetInt(flagWorkers),
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return err
	}

	cfg.TelegramToken = settings.GetString(flagTelegramToken)
	cfg.AMQPURL = settings.GetString(flagAMQPURL)
	cfg.AMQPQueue = settings.GetString(flagAMQPQueue)
	cfg.RedisAddr = settings.GetString(flagRedisAddr)
	cfg.HTTP = httpapi.Config{
		ListenAddr:        settings.GetString(flagHTTPListenAddr),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		SessionSigningKey: settings.GetString(flagJWTSigningKey),
		SessionIssuer:     settings.GetString(flagJWTIssuer),
		SessionCookieName: settings.GetString(flagJWTCookieName),
		RateLimit:         httpapi.RateLimitConfig{Enabled: cfg.RedisAddr != ""},
		CalendarVenue:     settings.GetString(flagCalendarVenue),
	}
	return nil
}
