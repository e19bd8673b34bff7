package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/staylottery/internal/notify"
	"github.com/MarkoPoloResearchLab/staylottery/internal/oplog"
	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "staylottery: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	loader := newConfigLoader()
	cmd := &cobra.Command{
		Use:           "staylottery",
		Short:         "Accommodation lottery allocation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(); err != nil {
				return err
			}
			return loader.loadRuntime(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	flags.String(flagStore, storeGorm, "store implementation (gorm or pgx)")
	flags.String(flagLogLevel, defaultLogLevel, "log level")
	flags.String(flagTelegramToken, "", "Telegram bot token for draw notices")
	flags.Int64(flagTelegramChatID, 0, "Telegram chat receiving draw notices")
	flags.Duration(flagTelegramInterval, notify.DefaultSendInterval, "minimum gap between Telegram messages; raise --notification-timeout for large draws")
	flags.Int(flagEligibilityConcurrency, defaultEligibilityConcurrency, "parallel recent-win lookups per draw")
	flags.Duration(flagNotificationTimeout, defaultNotificationTimeout, "upper bound for one notification dispatch")

	cmd.AddCommand(
		newServeCommand(cfg, loader),
		newDrawCommand(cfg, loader),
		newResetCommand(cfg, loader),
		newStatusCommand(cfg, loader),
	)
	return cmd
}

func newLogger(cfg runtimeConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}

func buildNotifier(cfg runtimeConfig, logger *zap.Logger) (lottery.Notifier, error) {
	notifiers := []lottery.Notifier{notify.NewLogNotifier(logger)}
	if cfg.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		telegram, err := notify.NewTelegramNotifier(bot, cfg.TelegramChatID, notify.WithSendInterval(cfg.TelegramInterval))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, telegram)
	}
	fanout := notify.NewFanout(notifiers...)
	logger.Info("draw notifiers configured", zap.Int("count", fanout.Len()), zap.Bool("telegram", cfg.TelegramToken != ""))
	return fanout, nil
}

// application bundles the wired service with its cleanup.
type application struct {
	logger  *zap.Logger
	service *lottery.Service
	close   func()
}

func newApplication(ctx context.Context, cfg runtimeConfig) (*application, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		closeStore()
		_ = logger.Sync()
		return nil, err
	}
	clock := func() time.Time { return time.Now().UTC() }
	service, err := lottery.NewService(store, clock,
		lottery.WithOperationLogger(oplog.NewZapLogger(logger)),
		lottery.WithNotifier(notifier),
		lottery.WithEligibilityConcurrency(cfg.EligibilityConcurrency),
		lottery.WithNotificationTimeout(cfg.NotificationTimeout),
	)
	if err != nil {
		closeStore()
		_ = logger.Sync()
		return nil, fmt.Errorf("lottery service init: %w", err)
	}
	return &application{
		logger:  logger,
		service: service,
		close: func() {
			closeStore()
			_ = logger.Sync()
		},
	}, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
