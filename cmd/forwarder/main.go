package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-autoforwarder/internal/config"
	"github.com/blockedby/tg-autoforwarder/internal/database"
	"github.com/blockedby/tg-autoforwarder/internal/filter"
	"github.com/blockedby/tg-autoforwarder/internal/forwarder"
	"github.com/blockedby/tg-autoforwarder/internal/logger"
	"github.com/blockedby/tg-autoforwarder/internal/nats"
	"github.com/blockedby/tg-autoforwarder/internal/publisher"
	"github.com/blockedby/tg-autoforwarder/internal/state"
	"github.com/blockedby/tg-autoforwarder/internal/telegram"
	"github.com/blockedby/tg-autoforwarder/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting telegram auto-forwarder")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// session storage
	db, err := database.New(cfg.SessionDB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session database")
	}
	defer db.Close()

	// telegram client
	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	if tgManager.GetStatus() != telegram.StatusReady {
		log.Fatal().Msg("telegram client not authorized, run tg-auth first")
	}
	tgClient := telegram.NewClient(tgManager, telegram.NewRateLimiter(cfg.RateLimitRPS, 1))
	defer tgClient.Close()

	// persistent stores
	hashes := state.NewHashStore(cfg.HashFile, cfg.HashStoreSize)
	states := state.NewChatStates(cfg.StateFile)

	// classifier
	classifier := filter.New(filter.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Prompt:  cfg.LLMPrompt,
		Timeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})

	// optional event publishing
	var pub forwarder.EventPublisher
	var nc *nats.Client
	if cfg.NatsURL != "" {
		nc, err = nats.New(cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, event publishing disabled")
		} else {
			defer nc.Close()
			pub = publisher.NewNATSPublisher(nc.Conn)
		}
	}

	pipeline := forwarder.NewPipeline(
		tgClient,
		classifier,
		hashes,
		pub,
		cfg.Destination,
		time.Duration(cfg.GroupSettleSeconds)*time.Second,
	)
	poller := forwarder.NewPoller(
		tgClient,
		states,
		pipeline,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		cfg.FetchLimit,
	)

	if err := poller.InitChats(ctx, cfg.Sources); err != nil {
		log.Fatal().Err(err).Msg("no usable source chats")
	}

	// status endpoint
	statusSrc := &statusSource{
		manager:  tgManager,
		poller:   poller,
		hashes:   hashes,
		pipeline: pipeline,
	}
	server := web.NewServer(cfg.HTTPPort, statusSrc)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	// main polling loop; a loop failure triggers the shutdown sequence below
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("poll loop failed")
	}

	log.Info().Msg("shutting down...")
	grace := time.Duration(cfg.ShutdownGraceSec) * time.Second
	pipeline.Groups().Shutdown(grace)

	hashes.Flush()
	states.Flush()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Stop(shutdownCtx)

	log.Info().Msg("forwarder stopped, state saved")
}

// statusSource adapts the running components to the status endpoint.
type statusSource struct {
	manager  *telegram.Manager
	poller   *forwarder.Poller
	hashes   *state.HashStore
	pipeline *forwarder.Pipeline
}

func (s *statusSource) TelegramStatus() string {
	return string(s.manager.GetStatus())
}

func (s *statusSource) WatchedChats() []web.ChatStatus {
	var out []web.ChatStatus
	for _, chat := range s.poller.Chats() {
		out = append(out, web.ChatStatus{ID: chat.ID, Kind: string(chat.Kind), Title: chat.Title})
	}
	return out
}

func (s *statusSource) HashStoreFill() (int, int) {
	return s.hashes.Fill(), s.hashes.Capacity()
}

func (s *statusSource) PendingGroups() int {
	return s.pipeline.Groups().PendingCount()
}
