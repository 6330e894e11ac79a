package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/api"
	"github.com/technosupport/ts-nvrbridge/internal/archive"
	"github.com/technosupport/ts-nvrbridge/internal/bus"
	"github.com/technosupport/ts-nvrbridge/internal/config"
	"github.com/technosupport/ts-nvrbridge/internal/history"
	"github.com/technosupport/ts-nvrbridge/internal/poll"
	"github.com/technosupport/ts-nvrbridge/internal/push"
	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
	"github.com/technosupport/ts-nvrbridge/internal/store"
	"github.com/technosupport/ts-nvrbridge/internal/tracker"
)

const faceGroupRefreshInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.JWTSigningKey == "" || cfg.Server.JWTSigningKey == "change-me" {
		log.Fatalf("server.jwt_signing_key must be set (JWT_SIGNING_KEY env works too)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device client
	client := raysharp.NewClient(cfg.NVR.Host, cfg.NVR.Port, cfg.NVR.Username, cfg.NVR.Password, cfg.Timeout())
	loginCtx, loginCancel := context.WithTimeout(ctx, cfg.Timeout())
	if _, err := client.Login(loginCtx); err != nil {
		// Device may be offline right now; the pollers retry on their own.
		log.Printf("[ERROR] Initial login to %s failed: %v", cfg.NVR.Host, err)
	}
	loginCancel()

	// Event plumbing
	eventBus := bus.New()
	dedup := poll.NewEventDedup(cfg.Dedup.MaxKeys, cfg.DedupTTL())
	ingestor := poll.NewIngestor(cfg.NVR.Host, eventBus, dedup)

	eventLoop := poll.NewEventLoop(client, ingestor, poll.LoopConfig{})
	coordinator := poll.NewCoordinator(client, cfg.PollInterval(), func(err error) {
		// Long-poll tokens die with the device session.
		eventLoop.ResetSubscription()
	})

	// Persistent state
	st, err := store.New(cfg.StateDir)
	if err != nil {
		log.Fatalf("Failed to init state dir: %v", err)
	}
	plates := tracker.NewPlateTracker(st, client)
	plates.SetMinCommon(cfg.Dedup.MinCommon)
	faces := tracker.NewFaceTracker(st, client)
	histMgr := history.NewManager(st, client, cfg.History.Slots)

	eventBus.SubscribeSnapshots(plates.HandleSnapshot)
	eventBus.SubscribeSnapshots(faces.HandleSnapshot)
	eventBus.SubscribeSnapshots(histMgr.HandleSnapshot)

	// Optional Postgres event archive
	var repo *archive.Repo
	if cfg.Archive.Enabled {
		repo, err = archive.Open(cfg.Archive.DSN)
		if err != nil {
			log.Fatalf("Failed to open event archive: %v", err)
		}
		eventBus.SubscribeAlarms(repo.HandleAlarm)
		log.Printf("Event archive enabled")
	}

	// Optional NATS mirror
	var publisher *bus.Publisher
	if cfg.NATS.Enabled {
		publisher, err = bus.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, eventBus)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		log.Printf("NATS publisher enabled on %s", cfg.NATS.URL)
	}

	// EventPush target on the device, pointed back at this bridge
	pushCfg := push.NewConfigurator(
		client,
		func() map[string]any { return coordinator.Get("event_push_config") },
		"ts-nvrbridge",
		cfg.Server.AdvertiseAddr,
		cfg.Server.AdvertisePort,
		cfg.Server.WebhookPath,
	)
	pushCtx, pushCancel := context.WithTimeout(ctx, cfg.Timeout())
	if err := pushCfg.Configure(pushCtx); err != nil {
		log.Printf("[ERROR] Initial EventPush configuration failed: %v", err)
	}
	pushCancel()

	// Background workers
	coordinator.Start()
	eventLoop.Start(ctx)
	pushCfg.Start()
	go faceGroupLoop(ctx, faces)

	// Hot-reloadable settings
	config.Watch(ctx, *configPath, func(next *config.Config) {
		plates.SetMinCommon(next.Dedup.MinCommon)
		log.Printf("[DEBUG] Config reloaded: dedup.min_common=%d", next.Dedup.MinCommon)
	})

	// HTTP surface
	tokens := api.NewTokenManager(cfg.Server.JWTSigningKey)
	hub := api.NewHub(tokens, eventBus)
	server := api.NewServer(api.ServerDeps{
		Client:      client,
		Coordinator: coordinator,
		Ingestor:    ingestor,
		Plates:      plates,
		Faces:       faces,
		History:     histMgr,
		Archive:     repo,
		PushCfg:     pushCfg,
		Tokens:      tokens,
		Hub:         hub,
		WebhookPath: cfg.Server.WebhookPath,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s (webhook at %s)", cfg.Server.ListenAddr, cfg.Server.WebhookPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] HTTP shutdown: %v", err)
	}

	cancel()
	eventLoop.Stop()
	coordinator.Stop()
	pushCfg.Stop()

	plates.Close()
	faces.Close()
	histMgr.Close()

	if publisher != nil {
		publisher.Close()
	}
	if repo != nil {
		repo.Close()
	}
	client.Close(shutdownCtx)
	log.Printf("Shutdown complete")
}

// faceGroupLoop keeps the face allow/block group policies fresh; list-type
// classification of face detections depends on them.
func faceGroupLoop(ctx context.Context, faces *tracker.FaceTracker) {
	refresh := func() {
		refreshCtx, refreshCancel := context.WithTimeout(ctx, 15*time.Second)
		faces.RefreshGroups(refreshCtx)
		refreshCancel()
	}
	refresh()

	ticker := time.NewTicker(faceGroupRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
