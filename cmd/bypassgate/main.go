package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vortixworld/bypassgate/internal/app"
	"github.com/vortixworld/bypassgate/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server or runs migrations.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bypassgate", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port (overrides config and PORT)")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
		cfg.Port = *port
	}
	configureLogging(cfg.Logging)

	if *migrateOnly {
		return app.Migrate(cfg)
	}
	return app.RunServer(ctx, cfg)
}

func configureLogging(cfg config.LoggingConfig) {
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		log.Warnf("unknown log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
