// ABOUTME: Entry point for the switchboard coordination hub
// ABOUTME: Hosts the daemon set and accepts client connections over WebSocket

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/signalhouse/switchboard/internal/config"
	"github.com/signalhouse/switchboard/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _ _       _     _                         _
 _____      __(_) |_ ___| |__ | |__   ___   __ _ _ __ __| |
/ __\ \ /\ / /| | __/ __| '_ \| '_ \ / _ \ / _' | '__/ _' |
\__ \\ V  V / | | || (__| | | | |_) | (_) | (_| | | | (_| |
|___/ \_/\_/  |_|\__\___|_| |_|_.__/ \___/ \__,_|_|  \__,_|
`

// getConfigPath returns the path to the switchboard config file.
// Priority: SWITCHBOARD_CONFIG env var > XDG_CONFIG_HOME/switchboard/switchboard.yaml
// > ~/.config/switchboard/switchboard.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SWITCHBOARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "switchboard.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "switchboard", "switchboard.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: switchboard <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the coordination hub")
		fmt.Println("  init     Create a default config file")
		fmt.Println("  health   Check hub health")
		fmt.Println("  status   Show daemon registry and client count")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting switchboard",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

const defaultConfig = `# switchboard configuration

server:
  http_addr: "localhost:8192"

database:
  path: "data/switchboard.db"

connections:
  max_clients: 100
  heartbeat_interval: "30s"
  heartbeat_timeout: "90s"

daemons:
  heartbeat_interval: "30s"

# routing:
#   preferences:
#     render_request: [rendering]

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Created %s\n", configPath)
	return nil
}

func runHealth(ctx context.Context) error {
	body, err := fetch(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Print(string(body))
	return nil
}

func runStatus(ctx context.Context) error {
	body, err := fetch(ctx, "/status")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

func fetch(ctx context.Context, path string) ([]byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
