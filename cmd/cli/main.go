package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"judgecore/internal/cli/command"
	"judgecore/internal/cli/config"
	"judgecore/internal/cli/repl"
	"judgecore/internal/cli/state"
	"judgecore/internal/common/httpclient"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 90s)")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		return
	}

	client := httpclient.New(cfg.BaseURL, httpclient.Options{Timeout: cfg.Timeout})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	session := repl.New(client, command.Registry(), &sessionState, repl.Options{
		StatePath:   cfg.StatePath,
		HistoryFile: cfg.HistoryFile,
		PrettyJSON:  cfg.PrettyJSON != nil && *cfg.PrettyJSON,
	})
	if err := session.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
