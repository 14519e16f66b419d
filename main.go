package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deriflow/api"
	"deriflow/bridge"
	"deriflow/config"
	"deriflow/feed"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/server"
	"deriflow/store"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Deriflow.Name,
		"version":     cfg.Deriflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting deriflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	apiClient := api.NewClient(cfg, api.Auth{
		ClientID:     cfg.Feed.ClientID,
		ClientSecret: cfg.Feed.ClientSecret,
	})

	books := store.NewBooks()
	orders := store.NewOrders(apiClient)

	feedClient := feed.NewClient(cfg, apiClient, books, orders)

	channels := bridge.NewChannels(cfg.Channels.BookBuffer)
	defer channels.Close()

	feedClient.SetOrderbookCallback(func(book models.Orderbook) {
		channels.SendBook(ctx, book)
	})

	srv := server.NewServer(cfg.Server)
	if err := srv.Start(); err != nil {
		log.WithError(err).Error("failed to start websocket server")
		os.Exit(1)
	}

	relay := bridge.NewRelay(channels, srv)
	if err := relay.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start book relay")
		os.Exit(1)
	}

	if err := feedClient.Connect(ctx); err != nil {
		log.WithError(err).Error("failed to connect to upstream feed")
		srv.Stop()
		os.Exit(1)
	}

	for _, instrument := range cfg.Feed.Instruments {
		if err := feedClient.Subscribe(ctx, instrument); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"instrument": instrument,
			}).Warn("failed to subscribe to instrument")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	log.Info("closing upstream feed")
	feedClient.Close()

	cancel()

	log.Info("stopping book relay")
	relay.Stop()

	log.Info("stopping websocket server")
	srv.Stop()

	stats := channels.GetStats()
	log.WithFields(logger.Fields{
		"books_sent":    stats.BooksSent,
		"books_dropped": stats.BooksDropped,
	}).Info("deriflow stopped")
}
