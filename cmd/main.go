// Copyright (c) 2024, 0x0BSoD. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/0x0BSoD/feedRelay/internal/config"
	"github.com/0x0BSoD/feedRelay/internal/details"
	"github.com/0x0BSoD/feedRelay/internal/fetcher"
	"github.com/0x0BSoD/feedRelay/internal/housekeeping"
	"github.com/0x0BSoD/feedRelay/internal/images"
	"github.com/0x0BSoD/feedRelay/internal/metrics"
	"github.com/0x0BSoD/feedRelay/internal/notifier"
	"github.com/0x0BSoD/feedRelay/internal/reconciler"
	"github.com/0x0BSoD/feedRelay/internal/reporter"
	"github.com/0x0BSoD/feedRelay/internal/source"
	"github.com/0x0BSoD/feedRelay/internal/storage"
	"github.com/0x0BSoD/feedRelay/internal/summary"
)

func main() {
	cfg := config.Get()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	policy, err := reconciler.ParseRejectionPolicy(cfg.EditRejectionPolicy)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return
	}

	parser, err := source.NewParser(cfg.FeedParser)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return
	}

	summarizer, err := summary.New(summary.Options{
		Type:    cfg.AIType,
		BaseURL: cfg.AIBaseURL,
		Key:     cfg.AIKey,
		Prompt:  cfg.AIPrompt,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		log.Printf("[ERROR] failed to configure summarizer: %v", err)
		return
	}
	if summarizer != nil {
		log.Printf("[INFO] using %s summarizer (model: %s)", cfg.AIType, cfg.AIModel)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Printf("[ERROR] failed to create botAPI: %v", err)
		return
	}

	db, err := storage.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Printf("[ERROR] failed to connect to db: %v", err)
		return
	}
	defer db.Close()

	version, err := storage.Migrate(db)
	if err != nil {
		log.Printf("[ERROR] failed to migrate db: %v", err)
		return
	}
	log.Printf("[INFO] %s schema at version %d", cfg.DatabaseDriver, version)

	client := &http.Client{Timeout: cfg.HTTPTimeout}

	imageStore, err := images.New(cfg.ImagesDir, client)
	if err != nil {
		log.Printf("[ERROR] failed to prepare image cache: %v", err)
		return
	}

	var (
		articleStorage = storage.NewArticleStorage(db)
		feed           = source.NewFeedSource(cfg.FeedURL, cfg.UserAgent, cfg.CacheBust, client, parser)
		detailFetcher  = details.New(client, cfg.UserAgent, cfg.TagSelector, cfg.CacheBust, summarizer)
		publisher      = notifier.New(botAPI, cfg.TelegramChannelID, cfg.EditTimeLayout, cfg.Location(), cfg.PublishRate)
		audit          = reporter.New(botAPI, cfg.TelegramLogsChannelID)
		engine         = reconciler.New(articleStorage, publisher, detailFetcher, imageStore, audit, policy)
		feedFetcher    = fetcher.New(feed, engine, cfg.FetchInterval)
		cleaner        = housekeeping.New(articleStorage, imageStore, cfg.Retention, cfg.CleanInterval)
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func(ctx context.Context) {
		if err := cleaner.Start(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[ERROR] failed to run housekeeping: %v", err)
				return
			}

			log.Printf("[INFO] housekeeping stopped")
		}
	}(ctx)

	go func() {
		if err := server.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] failed to run http server: %v", err)
				return
			}

			log.Printf("[INFO] http server stopped")
		}
	}()

	log.Printf("[INFO] relaying %s to channel %d every %s", cfg.FeedURL, cfg.TelegramChannelID, cfg.FetchInterval)

	if err := feedFetcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[ERROR] failed to run fetcher: %v", err)
	}
	log.Printf("[INFO] fetcher stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] failed to shut down http server: %v", err)
	}
}
