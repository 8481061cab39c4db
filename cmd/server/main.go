package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/relaymesh/ccproxy/internal/adapter/provider/antigravity"
	_ "github.com/relaymesh/ccproxy/internal/adapter/provider/custom"
	"github.com/relaymesh/ccproxy/internal/core"
)

func getDefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".config", "ccproxy")
}

func main() {
	defaultDataDir := getDefaultDataDir()

	addr := flag.String("addr", ":9880", "HTTP listen address")
	dataDir := flag.String("data-dir", defaultDataDir, "Directory for database and logs")
	instanceID := flag.String("instance-id", "server", "Identifies this process in stale-request cleanup")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory %s: %v", *dataDir, err)
	}

	dbPath := filepath.Join(*dataDir, "ccproxy.db")
	logPath := filepath.Join(*dataDir, "ccproxy.log")

	repos, err := core.InitializeDatabase(&core.DatabaseConfig{
		DataDir: *dataDir,
		DBPath:  dbPath,
		LogPath: logPath,
	})
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer core.CloseDatabase(repos)

	components, err := core.InitializeServerComponents(repos, *addr, *instanceID, logPath)
	if err != nil {
		log.Fatalf("failed to initialize server components: %v", err)
	}

	core.StartBackgroundTasks(core.BackgroundTaskDeps{
		UsageStats:   repos.UsageStatsRepo,
		ProxyRequest: repos.ProxyRequestRepo,
		Settings:     repos.SettingRepo,
	})

	server, err := core.NewManagedServer(&core.ServerConfig{
		Addr:        *addr,
		DataDir:     *dataDir,
		InstanceID:  *instanceID,
		Components:  components,
		ServeStatic: true,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	log.Printf("ccproxy listening on %s", *addr)
	<-ctx.Done()

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
