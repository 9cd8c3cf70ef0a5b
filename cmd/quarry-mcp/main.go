// Package main provides the MCP server entry point for quarry.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/quarrylabs/quarry/internal/config"
	mcpserver "github.com/quarrylabs/quarry/internal/mcp"
	"github.com/quarrylabs/quarry/internal/pipeline"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	configPath := getEnv("QUARRY_CONFIG", "quarry.yaml")
	port := getEnv("PORT", "8080")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	core, err := pipeline.Open(cfg, nil)
	if err != nil {
		log.Fatalf("failed to open pipeline: %v", err)
	}
	defer func() {
		if err := core.Close(context.Background()); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	// Create MCP server
	server := mcpserver.NewServer(core)

	// Create HTTP server with multiple endpoints
	mux := http.NewServeMux()
	mux.Handle("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(core))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	// Check if running in server mode (HTTP) or stdio mode (local development)
	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Stdio mode: run MCP server over stdin/stdout for local clients
		log.Println("Starting quarry MCP server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
