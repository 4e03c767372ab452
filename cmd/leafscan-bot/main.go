package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/container"
	"github.com/example/leafscan/internal/telegram"
	"github.com/example/leafscan/internal/usecase"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	c, err := container.BuildContainer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := c.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "bot error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, res *container.Resources, uc *usecase.DiagnosisUseCase) error {
	defer logger.Sync() //nolint:errcheck
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	tc := cfg.Telegram()
	if tc.Token == "" {
		return errors.New("telegram.token is required")
	}

	api, err := telegram.NewBotAPI(tc.Token, tc.Debug)
	if err != nil {
		return err
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot := telegram.NewBot(api, uc, telegram.NewSessionStore(), tc.PollTimeout, logger)
	logger.Info("bot is running")
	if err := bot.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
