package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kartadb/internal/mcp"
	"github.com/sanonone/kartadb/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config, default :9091)")
	declPath := flag.String("decl", "", "Build the store from one declaration file instead of a config")
	snapshotPath := flag.String("snapshot", "", "Serve from a snapshot file instead of a config")
	mcpStdio := flag.Bool("mcp", false, "Serve the MCP tool surface on stdio alongside HTTP")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *declPath, *snapshotPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if *httpAddr != "" {
		cfg.ListenAddr = *httpAddr
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if *mcpStdio {
		if srv.Federated() {
			log.Fatal("MCP stdio surface is not available in federated mode")
		}
		mcpServer := mcp.NewMCPServer(srv.Snapshot)
		go func() {
			if err := mcpServer.Run(context.Background(), &gomcp.StdioTransport{}); err != nil {
				slog.Error("MCP server stopped", "error", err)
			}
		}()
	}

	<-shutdownChan

	if err := srv.Shutdown(); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// loadConfig resolves the three startup modes: full YAML config, one
// declaration file, or one snapshot file.
func loadConfig(configPath, declPath, snapshotPath string) (*server.Config, error) {
	if configPath != "" {
		return server.LoadConfig(configPath)
	}
	cfg := &server.Config{ListenAddr: ":9091"}
	if declPath != "" {
		cfg.Declarations = []string{declPath}
	}
	if snapshotPath != "" {
		cfg.SnapshotPath = snapshotPath
	}
	if len(cfg.Declarations) == 0 && cfg.SnapshotPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	return cfg, nil
}
