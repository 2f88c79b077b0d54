// Command dbcheck verifies that the configured postgres database accepts
// connections, without migrating anything.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	timeout := flag.Duration("timeout", 5*time.Second, "Ping timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != "postgres" {
		fmt.Fprintf(os.Stderr, "dbcheck only supports postgres, configured driver is %s\n", cfg.Database.Driver)
		os.Exit(2)
	}

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("❌ %s@%s:%s/%s: %v\n", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, err)
		os.Exit(1)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		fmt.Printf("✅ connected, version query failed: %v\n", err)
		return
	}
	fmt.Printf("✅ connected to %s:%s/%s\n   %s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, version)
}
