package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"cold-outreach-go/internal/auth"
	"cold-outreach-go/internal/config"
	"cold-outreach-go/internal/db"
	"cold-outreach-go/internal/drafting"
	"cold-outreach-go/internal/gmail"
	"cold-outreach-go/internal/handler"
	"cold-outreach-go/internal/lock"
	"cold-outreach-go/internal/metrics"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/reconcile"
	"cold-outreach-go/internal/repository"
	"cold-outreach-go/internal/router"
	"cold-outreach-go/internal/scheduler"
	"cold-outreach-go/internal/service"
	"cold-outreach-go/internal/vault"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logrus.Info("Starting Cold Outreach Service")

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(dbConn)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	v := vault.New(cfg.Security.EncryptionKey)
	if !v.Configured() {
		logrus.Warn("ENCRYPTION_KEY is not set, Gmail connections and reconciliation will fail")
	}

	httpClient := &http.Client{Timeout: cfg.Reconcile.CallTimeout}
	exchanger := oauth.NewExchanger(cfg.Gmail, httpClient)
	mail := gmail.NewClient(cfg.Gmail.APIEndpoint, httpClient)

	var locker lock.Locker
	if cfg.Redis.Enabled {
		redisLock, err := lock.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			if err := redisLock.Close(); err != nil {
				logrus.Errorf("Failed to close redis: %v", err)
			}
		}()
		locker = redisLock
		logrus.Info("Using redis run lock")
	} else {
		locker = lock.NewLocal()
	}

	job := reconcile.NewJob(repo, v, exchanger, mail, m, cfg.Reconcile)
	sched := scheduler.NewScheduler(&cfg.Scheduler, job, locker, repo, m)

	verifier := auth.NewVerifier(cfg.Security.JWTSecret)
	state := auth.NewStateSigner(cfg.Security.JWTSecret, cfg.Security.StateTTL)
	credentials := service.NewCredentialService(repo, exchanger, mail, v, state, cfg.Reconcile.CallTimeout)
	dispatch := service.NewDispatchService(credentials, mail, repo, m)
	drafts := service.NewDraftService(drafting.NewOpenAIComposer(cfg.Drafting, &http.Client{Timeout: cfg.Drafting.Timeout}))

	h := handler.NewHandlers(credentials, dispatch, drafts, repo, sched, verifier, prometheus.DefaultGatherer)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	sched.Wait()

	logrus.Info("Server stopped gracefully")
	return nil
}
