package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/api"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
	"github.com/oxenfxc/bilibili-autoreply/internal/conf"
	"github.com/oxenfxc/bilibili-autoreply/internal/data"
	"github.com/oxenfxc/bilibili-autoreply/internal/engine"
	"github.com/oxenfxc/bilibili-autoreply/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)

	stores, err := data.NewStores(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer stores.Close()

	rules := usecase.NewRuleStore(stores.Rules)
	stats := usecase.NewStatsCollector(stores.ReplyLogs, log)

	gateways := func(acct *domain.Account) repo.MessageGateway {
		return bilibili.NewClient(acct, log)
	}
	opts := engine.Options{
		SessionLimit:  cfg.ScanSessionLimit,
		FetchSize:     cfg.MessageFetchSize,
		MaxMessageAge: cfg.MaxMessageAge(),
		Retry:         cfg.RetryConfig(),
	}
	dispatcher := engine.NewDispatcher(gateways, stores.Accounts, stores.Cursors,
		stores.ReplyLogs, rules, stats, cfg.MatchOptions(), opts, log)
	dispatcher.OnSessionExpired = func(uid string) {
		log.Warn().Str("account", uid).Msg("account needs a fresh login")
	}

	startActiveAccounts(dispatcher, stores.Accounts, log)

	server := api.NewServer(stores.Accounts, rules, stats, stores.ReplyLogs, dispatcher,
		api.Defaults{
			MatchType:     domain.MatchType(cfg.DefaultMatchType),
			CaseSensitive: cfg.DefaultCaseSensitive,
		}, cfg.HTTPPort, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		dispatcher.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	log.Info().Msg("starting bilibili auto-reply engine")
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// startActiveAccounts launches pollers for every account that was left
// active with auto-reply enabled.
func startActiveAccounts(dispatcher *engine.Dispatcher, accounts repo.AccountRepo, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := accounts.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts")
		return
	}
	for _, acct := range list {
		if !acct.Active || !acct.Settings.AutoReplyEnabled {
			continue
		}
		if err := dispatcher.StartAccount(ctx, acct); err != nil {
			log.Error().Err(err).Str("account", acct.UID).Msg("failed to start account")
		}
	}
}
