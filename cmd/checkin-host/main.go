package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/checkin/checkin_api"
	checkinredis "ms-checkin/internal/checkin/redis"
	"ms-checkin/internal/config"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/reconcile"
	"ms-checkin/internal/relay"
	"ms-checkin/internal/remote"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/tickets/db"
	tickets "ms-checkin/internal/tickets/service"
)

// peerDialer keeps the one relay connection of this device's station.
type peerDialer struct {
	mu       sync.Mutex
	current  *relay.Client
	onUpdate func(models.GuestSnapshot)
	logger   *logger.Logger
}

func (d *peerDialer) Dial(ctx context.Context, info relay.PeerInfo) (checkin.Peer, error) {
	client, err := relay.Dial(ctx, info, d.onUpdate, d.logger)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	previous := d.current
	d.current = client
	d.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	return client, nil
}

func (d *peerDialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
}

func connectRedis(ctx context.Context, cfg *config.Config, logger *logger.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Redis unreachable at %s, using in-process scan locks: %v", cfg.Redis.Addr, err))
		redisClient.Close()
		return nil
	}
	logger.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return redisClient
}

// pairingInfo is what relay clients scan to reach this host.
func pairingInfo(cfg *config.Config) (*relay.PeerInfo, error) {
	_, portStr, err := net.SplitHostPort(cfg.Relay.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("relay listen address %q: %w", cfg.Relay.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("relay port %q: %w", portStr, err)
	}
	ip := cfg.Relay.AdvertiseIP
	if ip == "" {
		if ip, err = relay.LocalIP(); err != nil {
			return nil, err
		}
	}
	return &relay.PeerInfo{IP: ip, Port: port}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	log := logger.NewLoggerInDir(cfg.Log.Dir, "checkin")
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	log.Info("APP", fmt.Sprintf("Starting check-in host for device %q, event %q", cfg.Device.ID, cfg.Device.EventID))

	mode, err := checkin.ParseMode(cfg.Device.Mode)
	if err != nil || mode == checkin.ModeClientRelay {
		log.Fatal("CONFIG", fmt.Sprintf("CHECKIN_MODE must be online, offline or host-scan, got %q", cfg.Device.Mode))
	}
	// Relay clients are served with the host's own connectivity.
	hostMode := mode
	if hostMode == checkin.ModeHostScan {
		hostMode = checkin.ModeOnline
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, err := db.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	log.Info("DATABASE", fmt.Sprintf("✅ SQLite store ready at %s", cfg.Database.Path))
	store := db.New(bunDB)

	if auth.TokenExpiresWithin(cfg.Remote.Token, time.Hour) {
		log.Warn("AUTH", "REMOTE_API_TOKEN expires within the hour, online check-ins will start failing")
	}
	httpClient := &http.Client{Timeout: cfg.Remote.Timeout}
	api := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, httpClient, log)

	highWater := checkin.NewHighWater()
	emitter := sse.NewCheckinEventEmitter()
	hub := relay.NewHub(cfg.Relay.WriteTimeout, log)
	local := checkin.Broadcasters{emitter, hub}
	broadcasters := checkin.Broadcasters{emitter, hub}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Device.ID, log)
		defer producer.Close()
		broadcasters = append(broadcasters, producer)

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Device.ID, log)
		go consumer.Start(ctx, checkin.NewPeerMirror(store, local, log).Apply)
		log.Info("KAFKA", "Kafka producer and consumer initialized successfully")
	}

	var locker checkin.ScanLocker = checkin.NewMemoryScanLocker(cfg.Redis.ScanLockTTL)
	if redisClient := connectRedis(ctx, cfg, log); redisClient != nil {
		defer redisClient.Close()
		locker = checkinredis.NewScanLocker(redisClient, cfg.Redis.ScanLockTTL, log)
	}

	verifier := checkin.NewVerifier(store, api, highWater, log)
	committer := checkin.NewCommitter(store, api, highWater, broadcasters, log)
	station := checkin.NewStation(verifier, committer, cfg.Device.EventID, mode, log)

	var pairing *relay.PeerInfo
	if cfg.Relay.Enabled {
		relayServer := relay.NewServer(
			checkin.NewRelayHandler(verifier, committer, locker, hostMode, log),
			hub,
			relay.ServerConfig{
				ReadTimeout:   cfg.Relay.ReadTimeout,
				WriteTimeout:  cfg.Relay.WriteTimeout,
				MaxLineLength: cfg.Relay.MaxLineLength,
			},
			log,
		)
		go func() {
			if err := relayServer.ListenAndServe(ctx, cfg.Relay.ListenAddr); err != nil {
				log.Error("RELAY", fmt.Sprintf("Relay server error: %v", err))
			}
		}()

		if pairing, err = pairingInfo(cfg); err != nil {
			log.Warn("RELAY", fmt.Sprintf("Pairing code unavailable: %v", err))
		}
	}

	dialer := &peerDialer{
		onUpdate: func(s models.GuestSnapshot) { emitter.Broadcast(ctx, s) },
		logger:   log,
	}
	defer dialer.Close()

	reconciler := reconcile.NewReconciler(store, api, log)
	watcher := reconcile.NewWatcher(api, cfg.Sync.ProbeInterval, log)
	go watcher.Run(ctx)
	go reconciler.Start(ctx, cfg.Sync.Interval, watcher.Restored())

	ticketService := tickets.NewTicketService(store, api, log)
	ticketService.Sync = reconciler
	ticketService.Link = watcher

	handler := &checkin_api.Handler{
		Station:       station,
		TicketService: ticketService,
		Reconciler:    reconciler,
		SSE:           checkin_api.NewSSEHandler(log, emitter),
		WS:            checkin_api.NewWSHandler(log, emitter),
		Dialer:        dialer.Dial,
		Pairing:       pairing,
		Logger:        log,
	}

	authMiddleware, err := auth.Middleware(auth.Options{
		OIDCIssuer:  cfg.Auth.OIDCIssuer,
		StaticToken: cfg.Auth.APIToken,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Route("/api", handler.RegisterRoutes)
	})
	log.Info("ROUTER", "Check-in routes registered under /api/checkin and /api/relay")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Check-in host running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if consumer != nil {
		consumer.Close()
	}
	log.Info("APP", "✅ Check-in host shutdown complete")
}
