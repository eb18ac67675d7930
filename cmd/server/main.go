// Package main runs the appointment platform API server: it wires the
// postgres store, the unit-of-work manager, the services and the HTTP
// middleware chain, then serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/careslot/careslot/internal/backup"
	"github.com/careslot/careslot/internal/config"
	"github.com/careslot/careslot/internal/httpapi"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/middleware"
	"github.com/careslot/careslot/internal/platform/migrations"
	"github.com/careslot/careslot/internal/services/accounts"
	availabilitysvc "github.com/careslot/careslot/internal/services/availability"
	"github.com/careslot/careslot/internal/services/booking"
	"github.com/careslot/careslot/internal/storage/postgres"
	"github.com/careslot/careslot/internal/token"
	"github.com/careslot/careslot/internal/uow"
)

func main() {
	// A .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("careslot", cfg.Logging.Level, cfg.Logging.Format)

	db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Error("open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSec) * time.Second)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		log.WithError(err).Error("database unreachable")
		os.Exit(1)
	}

	if err := migrations.Apply(db); err != nil {
		log.WithError(err).Error("apply migrations")
		os.Exit(1)
	}
	log.Info("migrations applied")

	issuer, err := token.NewIssuer(cfg.Auth)
	if err != nil {
		log.WithError(err).Error("token issuer")
		os.Exit(1)
	}

	store := postgres.New(db)
	manager := uow.New(store, store, log, cfg.Database.TxTimeout())

	accountsSvc := accounts.New(store, manager, issuer, nil, log)
	if cfg.Bootstrap.AdminEmail != "" {
		seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
		err = accountsSvc.EnsureAdmin(seedCtx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		cancelSeed()
		if err != nil {
			log.WithError(err).Error("seed admin account")
			os.Exit(1)
		}
	}
	bookingSvc := booking.New(store, manager, log)
	availabilitySvc := availabilitysvc.New(store, manager, log)
	backupSvc := backup.NewService(backup.PgDump{DSN: cfg.Database.DSN, Dir: cfg.Backup.Dir}, manager, log)

	scheduler, err := backup.NewScheduler(backupSvc, bookingSvc, cfg.Backup.Schedule, cfg.Backup.SweepSchedule, log)
	if err != nil {
		log.WithError(err).Error("scheduler")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	gate := middleware.NewGate(issuer, log,
		middleware.WithAllowedPaths(httpapi.AllowedPaths()...),
		middleware.WithRoleRules(httpapi.RoleRules()...),
	)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		limiter.StartCleanup(5 * time.Minute)
	}

	api := httpapi.New(httpapi.Deps{
		Accounts:     accountsSvc,
		Booking:      bookingSvc,
		Availability: availabilitySvc,
		Backup:       backupSvc,
		Audit:        store,
		Gate:         gate,
		RateLimiter:  limiter,
		Logger:       log,
		DB:           db,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{"addr": addr}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
