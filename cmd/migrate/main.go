package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config file")
		action        = flag.String("action", "up", "migration action: up, down, version")
		steps         = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
		migrationsDir = flag.String("dir", "migrations", "migrations directory")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	m, err := migrate.New("file://"+*migrationsDir, cfg.Database.URL)
	if err != nil {
		logger.Fatal("open migrator", zap.Error(err))
	}
	defer m.Close()

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Fatal("read version", zap.Error(verr))
		}
		logger.Info("migration state", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	default:
		logger.Fatal("unknown action", zap.String("action", *action))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete", zap.String("action", *action))
}
