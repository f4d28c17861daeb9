package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-ledger/config"
	"credit-ledger/internal/api"
	"credit-ledger/internal/broker"
	"credit-ledger/internal/redisclient"
	"credit-ledger/internal/service"
	"credit-ledger/internal/store"
	"credit-ledger/internal/util"
	"credit-ledger/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting credit ledger service")

	tp, err := util.InitTracer("credit-ledger", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	var gateway service.PaymentGateway
	if cfg.Gateway.BaseURL != "" {
		gateway = service.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)
	}

	grantService := service.NewGrantService(
		db,
		redisClient,
		gateway,
		eventPublisher,
		cfg.Ledger.DuplicateWindow,
		cfg.Gateway.VerifyReferences,
	)
	deductionService := service.NewDeductionService(db, eventPublisher, cfg.Ledger.DeductionBatch)
	reconciliationService := service.NewReconciliationService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	cartConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger, cfg.Kafka.ConsumerGroup)
	cartWorker := worker.NewCartWorker(cartConsumer, grantService, db)
	go func() {
		if err := cartWorker.Start(workerCtx); err != nil {
			log.Printf("Cart worker error: %v", err)
		}
	}()

	deductionWorker := worker.NewDeductionWorker(deductionService, redisClient, cfg.Ledger.DeductionInterval)
	go func() {
		if err := deductionWorker.Start(workerCtx); err != nil {
			log.Printf("Deduction worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(grantService, deductionService, reconciliationService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	cartWorker.Stop()
	deductionWorker.Stop()

	log.Println("Server exited")
}
