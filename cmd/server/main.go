// Package main is the entry point for the messenger server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration
// 2. Create the logger
// 3. Build the server and start it
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// CONFIGURATION (environment variables, see internal/config):
//
//	JWT_SECRET=$(openssl rand -hex 32)   required, at least 16 characters
//	STORAGE=sqlite|postgres|memory        default sqlite
//	DB_PATH=data/messenger.db             sqlite only
//	DATABASE_URL=postgres://...           postgres only
//	TRUST_PROXY=false                     true only behind a proxy that sets X-Forwarded-For
//	PORT=8080  LOG_LEVEL=info  LOG_FORMAT=text|json
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/messenger/internal/config"
	"github.com/sakif/messenger/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// A bad configuration is reported on stderr before any logger exists.
	// errors.Join inside Load means every problem is listed, not just the first.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json for log shippers, text for a terminal.
	logger := cfg.NewLogger()

	// === 3. CREATE AND START THE SERVER ===
	// server.New opens the storage backend and creates the system user on
	// first run.
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
