// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up|down.
// With -version it only reports the applied schema version.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"flowcrm/backend/internal/config"
	"flowcrm/backend/internal/db/migrate"
	"flowcrm/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	versionOnly := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, "console", "flowcrm-migrate")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if !*versionOnly {
		if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
			log.Fatal("migrate failed", zap.String("direction", *direction), zap.Error(err))
		}
	}
	v, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("read schema version", zap.Error(err))
	}
	log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
}
