// Package main starts the ledger HTTP API and the reconciliation worker.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paysa/internal/app"
	"paysa/internal/config"
	"paysa/internal/handlers"
	"paysa/internal/logger"
	"paysa/internal/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const version = "0.1.0"

func main() {
	config.LoadEnv()
	cfg := config.Load()
	log := logger.Setup(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	server := fiber.New(fiber.Config{
		AppName:      "paysa " + version,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	server.Use(recover.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-API-Key",
		AllowMethods:     "GET,POST,HEAD",
		AllowCredentials: true,
	}))
	server.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(server, routes.Deps{
		Ledger:            ledger.Ledger,
		Health:            handlers.NewHealthHandler(version, ledger.Checks),
		Metrics:           ledger.Metrics,
		JWTSecret:         cfg.Auth.JWTSecret,
		PartnerKeyHashes:  cfg.Auth.PartnerKeyHashes,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            log,
	})

	go func() {
		if err := ledger.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconciler stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("ledger listening", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Error("server stopped", "error", err)
	}
}
