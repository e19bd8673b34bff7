package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/staylottery/internal/adminapi"
)

const (
	envPrefix = "STAYLOTTERY"

	flagDatabaseURL            = "database-url"
	flagStore                  = "store"
	flagLogLevel               = "log-level"
	flagTelegramToken          = "telegram-token"
	flagTelegramChatID         = "telegram-chat-id"
	flagTelegramInterval       = "telegram-interval"
	flagEligibilityConcurrency = "eligibility-concurrency"
	flagNotificationTimeout    = "notification-timeout"
	flagNotificationWait       = "notification-wait"
	flagPeriod                 = "period"
	flagActor                  = "actor"
	flagListenAddr             = "listen-addr"
	flagAllowedOrigins         = "allowed-origins"
	flagSessionSigningKey      = "session-signing-key"
	flagSessionIssuer          = "session-issuer"
	flagSessionCookie          = "session-cookie"
	flagAdminUserIDs           = "admin-user-ids"
	flagRequestTimeout         = "request-timeout"

	storeGorm = "gorm"
	storePgx  = "pgx"

	defaultDatabaseURL            = "sqlite:///tmp/staylottery.db"
	defaultLogLevel               = "info"
	defaultEligibilityConcurrency = 8
	defaultNotificationTimeout    = 2 * time.Minute
	defaultNotificationWait       = 30 * time.Second
	defaultListenAddr             = ":8080"
	defaultRequestTimeout         = 10 * time.Second
)

// runtimeConfig holds settings shared by every subcommand.
type runtimeConfig struct {
	DatabaseURL            string
	Store                  string
	LogLevel               zapcore.Level
	TelegramToken          string
	TelegramChatID         int64
	TelegramInterval       time.Duration
	EligibilityConcurrency int
	NotificationTimeout    time.Duration
}

// configLoader resolves values from flags, STAYLOTTERY_* environment variables and an optional .env file.
type configLoader struct {
	viper *viper.Viper
}

func newConfigLoader() *configLoader {
	loader := viper.New()
	loader.SetEnvPrefix(envPrefix)
	loader.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	loader.AutomaticEnv()
	return &configLoader{viper: loader}
}

// loadDotEnv reads .env when present; a missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (loader *configLoader) bind(cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := loader.viper.BindPFlag(name, flag); err != nil {
			return err
		}
	}
	return nil
}

func (loader *configLoader) loadRuntime(cmd *cobra.Command, cfg *runtimeConfig) error {
	if err := loader.bind(cmd,
		flagDatabaseURL,
		flagStore,
		flagLogLevel,
		flagTelegramToken,
		flagTelegramChatID,
		flagTelegramInterval,
		flagEligibilityConcurrency,
		flagNotificationTimeout,
	); err != nil {
		return err
	}
	// DATABASE_URL is honored without the prefix for parity with hosting platforms.
	if err := loader.viper.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(loader.viper.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(loader.viper.GetString(flagStore)))
	if cfg.Store == "" {
		cfg.Store = storeGorm
	}
	if cfg.Store != storeGorm && cfg.Store != storePgx {
		return fmt.Errorf("unsupported store %q (want %s or %s)", cfg.Store, storeGorm, storePgx)
	}
	level, err := zapcore.ParseLevel(defaultIfBlank(loader.viper.GetString(flagLogLevel), defaultLogLevel))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	cfg.LogLevel = level
	cfg.TelegramToken = strings.TrimSpace(loader.viper.GetString(flagTelegramToken))
	cfg.TelegramChatID = loader.viper.GetInt64(flagTelegramChatID)
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return fmt.Errorf("telegram chat id is required with a telegram token")
	}
	cfg.TelegramInterval = loader.viper.GetDuration(flagTelegramInterval)
	if cfg.TelegramInterval < 0 {
		return fmt.Errorf("telegram interval must not be negative")
	}
	cfg.EligibilityConcurrency = loader.viper.GetInt(flagEligibilityConcurrency)
	if cfg.EligibilityConcurrency <= 0 {
		return fmt.Errorf("eligibility concurrency must be positive")
	}
	cfg.NotificationTimeout = loader.viper.GetDuration(flagNotificationTimeout)
	if cfg.NotificationTimeout <= 0 {
		return fmt.Errorf("notification timeout must be positive")
	}
	return nil
}

func (loader *configLoader) loadServer(cmd *cobra.Command) (adminapi.Config, error) {
	if err := loader.bind(cmd,
		flagListenAddr,
		flagAllowedOrigins,
		flagSessionSigningKey,
		flagSessionIssuer,
		flagSessionCookie,
		flagAdminUserIDs,
		flagRequestTimeout,
		flagNotificationWait,
	); err != nil {
		return adminapi.Config{}, err
	}
	cfg := adminapi.Config{
		ListenAddr:        loader.viper.GetString(flagListenAddr),
		AllowedOrigins:    adminapi.ParseList(loader.viper.GetString(flagAllowedOrigins)),
		SessionSigningKey: loader.viper.GetString(flagSessionSigningKey),
		SessionIssuer:     loader.viper.GetString(flagSessionIssuer),
		SessionCookieName: loader.viper.GetString(flagSessionCookie),
		AdminUserIDs:      adminapi.ParseList(loader.viper.GetString(flagAdminUserIDs)),
		RequestTimeout:    loader.viper.GetDuration(flagRequestTimeout),
		NotificationWait:  loader.viper.GetDuration(flagNotificationWait),
	}
	if err := cfg.Validate(); err != nil {
		return adminapi.Config{}, err
	}
	return cfg, nil
}

func (loader *configLoader) requireString(cmd *cobra.Command, name string) (string, error) {
	if err := loader.bind(cmd, name); err != nil {
		return "", err
	}
	value := strings.TrimSpace(loader.viper.GetString(name))
	if value == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return value, nil
}

func (loader *configLoader) duration(cmd *cobra.Command, name string) (time.Duration, error) {
	if err := loader.bind(cmd, name); err != nil {
		return 0, err
	}
	return loader.viper.GetDuration(name), nil
}

func defaultIfBlank(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
