package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/checkoutstore"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/editor"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/projection"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("storefront", "info").WithError(err).Fatal("failed to load config")
	}
	log := logger.New("storefront", cfg.LogLevel)
	log.Info("storefront starting...")

	ctx := context.Background()

	// Cart store: Mongo is the source of truth, Redis caches and fans out changes
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer mongoDB.Client().Disconnect(context.Background())

	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(ctx); err != nil {
		log.WithError(err).Fatal("failed to create cart indexes")
	}
	log.WithField("db", cfg.MongoDBName).Info("connected to MongoDB")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	log.WithField("addr", cfg.RedisAddr).Info("redis ping succeeded")

	cartStore := store.New(repo, cache.NewRedisCache(redisClient), cache.NewRedisNotifier(redisClient), log)
	proj := projection.New(cartStore, projection.NewOverlay(cfg.PendingTTL), log)
	cartEditor := editor.New(cartStore, proj, log)

	// Checkout markers and outbox
	creds := &checkoutstore.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
	checkoutRepo, err := checkoutstore.NewRepository(ctx, creds)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer checkoutRepo.Close()

	if err := checkoutRepo.RunMigrations(creds); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}
	log.Info("database migrations completed")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orderClient := orders.NewClient(cfg.OrderServiceURL, cfg.OrderServiceToken, cfg.OrderTimeout, log)
	gateway := orders.NewGateway(orderClient, log)
	coordinator := checkout.NewCoordinator(checkoutRepo, proj, cartStore, orderClient, m, log)

	poller := publisher.NewOutboxPoller(publisher.Config{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		Grace:          cfg.RecoveryGrace,
		ReconcileAfter: cfg.ReconcileAfter,
	}, checkoutRepo, coordinator, m, log)
	defer poller.Close()

	pollerCtx, stopPoller := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(pollerCtx)
	}()

	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(proj, cartEditor, cfg.RequestTimeout, log),
		Checkout: h.NewCheckoutHandler(coordinator, cfg.RequestTimeout, log),
		Orders:   h.NewOrdersHandler(gateway, cfg.RequestTimeout, log),
		Stream:   h.NewStreamHandler(proj, m, log),
	}, m, h.RouterConfig{
		JWTSecret:    []byte(cfg.JWTSecret),
		MaxBodyBytes: cfg.MaxRequestBodySize,
		Log:          log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("storefront listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	stopPoller()
	wg.Wait()

	log.Info("server exited")
}
