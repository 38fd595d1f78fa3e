package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"meatmarket/config"
	"meatmarket/engine"
	"meatmarket/hub"
	"meatmarket/laststatus"
	"meatmarket/logging"
	"meatmarket/messaging"
	"meatmarket/protocol"
	"meatmarket/store"
	"meatmarket/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "pushd.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "override web port")
	flag.Parse()

	if *showVersion {
		fmt.Println("pushd", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}

	log, err := logging.New(cfg.Log, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("pushd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Info("database open", zap.String("driver", cfg.Database.Driver))

	// Redis
	var cache laststatus.Cache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		rs := laststatus.NewRedisStore(redisClient, cfg.Redis.TTL)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pctx); err != nil {
			log.Warn("redis not available, running without cache", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Redis.Address))
			cache = rs
		}
		cancel()
	}
	orders := laststatus.NewManager(db, cache, log)
	if err := orders.SyncCacheFromSQL(ctx, 1000); err != nil {
		log.Warn("cache sync from SQL", zap.Error(err))
	}

	// Messaging
	msgClient := messaging.NewClient(&cfg.Messaging, log)
	if err := msgClient.Connect(ctx); err != nil {
		log.Warn("messaging connect failed", zap.Error(err))
	} else {
		log.Info("messaging connected", zap.String("backend", cfg.Messaging.Backend))
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Orders:    orders,
		Messaging: msgClient,
		Log:       log,
	})
	eng.Start()
	defer eng.Stop()

	handler := eng.Handler()
	ingestor := protocol.NewIngestor(handler, handler.Filter, log)
	consumer := messaging.NewConsumer(msgClient, ingestor, log, cfg.Messaging.StatusTopic, cfg.Messaging.OverrideTopic)
	if err := consumer.Start(); err != nil {
		log.Warn("bus subscribe failed", zap.Error(err))
	}

	// WebSocket hub
	h := hub.New(hub.Config{
		SendBuffer:   cfg.Web.SendBuffer,
		PingInterval: cfg.Web.PingInterval,
	}, log)
	h.SetupEngineListeners(eng)
	defer h.Close()

	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval, log)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           www.NewRouter(eng, h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return drainer.Run(gctx) })
	g.Go(func() error {
		log.Info("web server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("ready", zap.String("version", Version))
	return g.Wait()
}
