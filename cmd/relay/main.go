package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"relay/internal/agent"
	"relay/internal/config"
	"relay/internal/credentials"
	"relay/internal/llm"
	mockclient "relay/internal/llm/mockclient"
	"relay/internal/logging"
	"relay/internal/openrouter"
	"relay/internal/prompts"
	"relay/internal/store"
	"relay/internal/tooling"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config.yaml (default: $RELAY_CONFIG_DIR/config.yaml)")
		webFlag     = flag.Bool("web", false, "Serve the HTTP API instead of the interactive prompt")
		addrFlag    = flag.String("addr", "", "Listen address for -web (default from config)")
		ownerFlag   = flag.String("owner", "local", "Owner name for threads created at the terminal")
		workspace   = flag.String("workspace", "", "Override the tool workspace root")
		setupFlag   = flag.Bool("setup", false, "Store an API key interactively and exit")
		versionFlag = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("relay version %s\n", Version)
		return
	}

	credManager := credentials.NewManager()
	if *setupFlag {
		if err := credentials.Setup(credManager); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if ws := strings.TrimSpace(*workspace); ws != "" {
		cfg.WorkspaceRoot = ws
	}

	absRoot, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	logSink := logging.Setup(cfg.LogPath)
	defer logSink.Close()
	logger := logging.Logger

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	tools := tooling.NewRegistry(tooling.DefaultTools(tooling.Options{
		WorkspaceRoot: absRoot,
		BashTimeout:   cfg.BashTimeout(),
		FetchTimeout:  cfg.RequestTimeout(),
	})...)

	prompts.SetMetadata(buildEnvironmentMetadata(absRoot))
	cfg.SystemPrompt = prompts.Combine(cfg.SystemPrompt)

	var client llm.Client
	if os.Getenv("RELAY_MOCK_LLM") == "1" {
		logger.Println("RELAY_MOCK_LLM=1 detected; using mock LLM client")
		client = mockclient.New()
	} else {
		apiKey := cfg.APIKey()
		if apiKey == "" {
			creds, err := credManager.Load()
			if err != nil {
				log.Fatalf("Failed to load credentials: %v", err)
			}
			apiKey = creds.Get("openrouter")
		}
		if apiKey == "" {
			log.Fatalf("No API key found. Set %s or run: relay -setup", cfg.APIKeyEnv)
		}
		client = openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
		logger.Printf("OpenRouter provider ready (model %s)", cfg.Model)
	}

	runner := agent.NewRunner(client, cfg, st, tools, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *webFlag {
		addr := strings.TrimSpace(*addrFlag)
		if addr == "" {
			addr = findAvailableAddr(cfg.ListenAddr)
		}
		fmt.Printf("relay %s listening on http://%s\n", Version, addr)
		if err := runner.RunWeb(ctx, addr); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
		return
	}

	if err := agent.NewCLI(runner, *ownerFlag).Run(ctx); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

// buildEnvironmentMetadata describes the runtime environment for the
// system prompt so the model knows where its tools operate.
func buildEnvironmentMetadata(workspace string) string {
	now := time.Now()
	zoneName, offset := now.Zone()
	if strings.TrimSpace(zoneName) == "" {
		zoneName = "Local"
	}
	lines := []string{
		fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("- Date: %s", now.Format("2006-01-02")),
		fmt.Sprintf("- Timezone: %s (UTC%s)", zoneName, formatUTCOffset(offset)),
	}
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		lines = append(lines, fmt.Sprintf("- Shell: %s", shell))
	}
	if workspace != "" {
		lines = append(lines, fmt.Sprintf("- Workspace Root: %s", workspace))
	}
	return strings.Join(lines, "\n")
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := (offsetSeconds % 3600) / 60
	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}

// findAvailableAddr probes upward from the configured port so a second
// instance on the same machine does not fail to start.
func findAvailableAddr(addr string) string {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port <= 0 {
		return addr
	}
	for p := port; p < port+100; p++ {
		candidate := net.JoinHostPort(host, fmt.Sprintf("%d", p))
		listener, err := net.Listen("tcp", candidate)
		if err == nil {
			listener.Close()
			return candidate
		}
	}
	// Fallback to let OS pick
	return net.JoinHostPort(host, "0")
}
