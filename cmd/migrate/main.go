package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/logging"
	"github.com/Rrens/lean-coffee/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const usage = "usage: migrate [up | down [steps] | version]"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if _, err := logging.Setup(config.LoggingConfig{Level: cfg.Logging.Level, Format: logging.FormatConsole}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("Migrations only apply to the postgres driver")
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	dsn := cfg.Database.DSN()
	log.Info().Str("host", cfg.Database.Host).Int("port", cfg.Database.Port).Str("command", command).Msg("Running migrations")

	switch command {
	case "up":
		err = postgres.RunMigrations(dsn)

	case "down":
		steps := 1
		if len(os.Args) > 2 {
			steps, err = strconv.Atoi(os.Args[2])
			if err != nil || steps < 1 {
				log.Fatal().Str("steps", os.Args[2]).Msg("steps must be a positive integer")
			}
		}
		err = postgres.RollbackMigrations(dsn, steps)

	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = postgres.MigrationVersion(dsn)
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}

	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
