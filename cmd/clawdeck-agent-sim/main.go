// Command clawdeck-agent-sim is a scripted agent that polls a clawdeck server
// and answers claims from a YAML behavior file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/castleridge-io/clawdeck-sub002/internal/api"
)

var (
	configPath string
	serverURL  string
	agentList  string
	maxIdle    int
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to behavior config YAML")
	flag.StringVar(&serverURL, "server", "http://127.0.0.1:7420", "clawdeck server URL")
	flag.StringVar(&agentList, "agents", "", "Comma-separated agent ids to poll for")
	flag.IntVar(&maxIdle, "max-idle", 0, "Exit after this many polls without work (0: never)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug/info/warn/error)")
}

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CLAWDECK_SIM_CONFIG"); envConfig != "" && configPath == "" {
		configPath = envConfig
	}
	if envServer := os.Getenv("CLAWDECK_SERVER"); envServer != "" && !flagSet("server") {
		serverURL = envServer
	}
	if envAgent := os.Getenv("CLAWDECK_AGENT"); envAgent != "" && agentList == "" {
		agentList = envAgent
	}

	config := NewDefaultSimConfig()
	if configPath != "" {
		var err error
		config, err = LoadConfig(configPath)
		if err != nil {
			slog.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(1)
		}
	}
	if logLevel == "" {
		logLevel = config.Logging.Level
	}
	logger := setupLogger(logLevel, config.Logging.Format)

	agents := splitAgents(agentList)
	if len(agents) == 0 {
		logger.Error("no agents given: pass -agents or set CLAWDECK_AGENT")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := NewSimulator(config, api.NewClient(serverURL), agents, logger)
	sim.MaxIdle = maxIdle
	if err := sim.Run(ctx); err != nil {
		logger.Error("simulator error", "error", err)
		os.Exit(1)
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func splitAgents(list string) []string {
	var agents []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			agents = append(agents, a)
		}
	}
	return agents
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
