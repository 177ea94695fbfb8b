package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"roomsync/internal/cache"
	"roomsync/internal/config"
	"roomsync/internal/engine"
	"roomsync/internal/service"
	"roomsync/internal/store"
	"roomsync/internal/transport/rest"
	"roomsync/internal/transport/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()
	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("failed to ping MongoDB", zap.Error(err))
	}
	log.Info("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)
	roomStore := store.NewMongoStore(db, "rooms")

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("failed to ping Redis", zap.Error(err))
	}
	log.Info("connected to Redis")

	roomCache := cache.NewRoomCache(rdb)

	// Access gate: external paywall service, or wide open for local dev
	var access service.AccessChecker = service.AllowAll{}
	if cfg.PaywallURL != "" {
		access = service.NewHTTPAccessGate(cfg.PaywallURL, cfg.PaywallToken)
		log.Info("paywall access gate enabled", zap.String("url", cfg.PaywallURL))
	}

	clk := clock.New()
	subs := engine.NewSubscriber(roomStore, clk, log, engine.Config{
		BaseDelay:           cfg.BaseRetryDelay,
		MaxAttempts:         cfg.MaxRetryAttempts,
		StabilizationWindow: cfg.StabilizationWindow,
		DebounceWindow:      cfg.DebounceWindow,
	})

	authSvc := service.NewAuthService()
	roomSvc := service.NewRoomService(roomStore, roomCache, access, authSvc, subs, clk, log, service.Options{
		Policy:     service.FireAndForget,
		GraceDelay: cfg.GraceDelay,
		StaleAfter: cfg.StaleAfter,
	})

	wsHub := ws.NewHub(roomSvc, log)

	router := rest.NewRouter(&rest.Container{
		RoomService: roomSvc,
		AuthService: authSvc,
		WSHub:       wsHub,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen and serve", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
