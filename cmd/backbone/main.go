// Command backbone runs the sportsbook operations backbone: the agent
// hierarchy, wager/settlement engine, P2P matching queue, commission
// engine, and the event fabric that fans their state changes out over SSE
// and WebSocket, all behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/app"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
	"github.com/sportsbook-ops/backbone/internal/domain/store/postgres"
	"github.com/sportsbook-ops/backbone/internal/httpapi"
	"github.com/sportsbook-ops/backbone/internal/platform/migrations"
	"github.com/sportsbook-ops/backbone/pkg/config"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewFromEnv("backbone")
	rootCtx := context.Background()

	var s store.Store
	dsnVal := resolveDSN(*dsn, cfg)
	var closeDB func() error

	if dsnVal != "" {
		db, err := sqlx.Connect(cfg.Database.Driver, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db.DB, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db.DB); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		s = postgres.New(db)
		closeDB = db.Close
	} else {
		s = memory.New()
		logger.Warn("no database DSN configured, running against the in-memory store")
	}
	if closeDB != nil {
		defer func() { _ = closeDB() }()
	}

	application, err := app.New(s, cfg, logger)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	httpService := httpapi.NewService(listenAddr, httpapi.Deps{
		Store:       application.Store,
		AgentGraph:  application.AgentGraph,
		WagerEngine: application.WagerEngine,
		Commissions: application.Commissions,
		Queue:       application.Queue,
		SSE:         application.SSE,
		Chatbot:     application.Chatbot,
		Logger:      logger,
	}, httpapi.Config{
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 10 * time.Second,
	})
	if err := application.Attach(httpService); err != nil {
		log.Fatalf("attach http service: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	logger.WithFields(map[string]interface{}{"addr": listenAddr}).Info("backbone listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}
