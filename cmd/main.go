package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/catalog"
	"github.com/ukydev/vahan-live/internal/config"
	"github.com/ukydev/vahan-live/internal/db"
	"github.com/ukydev/vahan-live/internal/handlers"
	"github.com/ukydev/vahan-live/internal/hub"
	"github.com/ukydev/vahan-live/internal/middleware"
	"github.com/ukydev/vahan-live/internal/models"
	"github.com/ukydev/vahan-live/internal/mqttbridge"
	"github.com/ukydev/vahan-live/internal/reaper"
	"github.com/ukydev/vahan-live/internal/ws"
)

const (
	writeBehindQueue = 1024
	shutdownTimeout  = 10 * time.Second
)

// newRouter mounts the stream endpoint and the one-shot API.
func newRouter(h *hub.Hub, cfg config.Server, logger *log.Entry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(h, cfg.AllowedOrigin, logger))
	handlers.NewAPIHandler(h, logger.WithField("component", "api")).Register(mux)

	return middleware.Chain(mux,
		middleware.RequestLogger(logger.WithField("component", "http")),
		middleware.CORS(cfg.AllowedOrigin),
		middleware.NewRateLimitMiddleware().RateLimit(cfg.RateLimitPerMinute, 60),
	)
}

// openStore connects the write-behind status store and loads statuses
// recent enough to restore. A nil store means persistence is disabled.
func openStore(ctx context.Context, cfg config.Server, since time.Time, logger *log.Entry) (*db.WriteBehind, []models.VehicleStatus, func(), error) {
	if cfg.MongoURI == "" {
		return nil, nil, func() {}, nil
	}
	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}

	coll := db.NewStatusCollection(client, cfg.MongoDB)
	if err := coll.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("Failed to create status indexes")
	}
	statuses, err := db.LoadActiveSince(ctx, coll, since)
	if err != nil {
		logger.WithError(err).Warn("Failed to load persisted vehicle status")
	}
	return db.NewWriteBehind(coll, writeBehindQueue, logger.WithField("component", "store")), statuses, closeFn, nil
}

func run(ctx context.Context, cfg config.Server) error {
	logger := log.NewEntry(log.StandardLogger())

	cat, err := catalog.Load(cfg.RoutesFile)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}

	now := time.Now()
	store, restored, closeStore, err := openStore(ctx, cfg, now.Add(-cfg.StaleTimeout), logger)
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer closeStore()

	opts := hub.Options{Logger: logger.WithField("component", "hub")}
	if store != nil {
		opts.Store = store
	}
	h := hub.New(cat, opts)
	if len(restored) > 0 {
		n := h.Restore(restored, now.Add(-cfg.StaleTimeout))
		logger.WithField("vehicles", n).Info("Restored vehicle status")
	}

	var wg sync.WaitGroup
	bg, stop := context.WithCancel(context.Background())
	defer func() {
		stop()
		wg.Wait()
	}()

	if store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Run(bg)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.New(cfg.ReapInterval, cfg.StaleTimeout, h).Run(bg)
	}()

	if cfg.MQTTBrokerURL != "" {
		bridge := mqttbridge.New(cfg.MQTTTopicPrefix, h, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(bg, cfg.MQTTBrokerURL); err != nil {
				logger.WithError(err).Error("MQTT ingress stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(h, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"port":        cfg.Port,
			"routes":      len(cat.Routes()),
			"persistence": store != nil,
			"mqtt":        cfg.MQTTBrokerURL != "",
		}).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadServer(os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := config.SetupLogging(cfg.Logging); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
