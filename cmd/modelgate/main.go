package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/modelgate/internal/advice"
	"github.com/roelfdiedericks/modelgate/internal/config"
	"github.com/roelfdiedericks/modelgate/internal/gateway"
	"github.com/roelfdiedericks/modelgate/internal/idiom"
	"github.com/roelfdiedericks/modelgate/internal/limits"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/store"
	"github.com/roelfdiedericks/modelgate/internal/turns"
)

var cli struct {
	Config   string           `help:"Path to YAML config file." type:"path"`
	DB       string           `help:"Path to the conversation database." default:""`
	LogLevel string           `help:"Log level (trace, debug, info, warn, error)." default:""`
	Version  kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("modelgate"),
		kong.Description("Multi-provider language model gateway over stdio JSON-RPC."),
		kong.Vars{"version": "modelgate " + gateway.Version},
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "modelgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.DB != "" {
		cfg.DBPath = cli.DB
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	Init(&Config{Level: ParseLevel(cfg.LogLevel)})
	L_info("modelgate %s starting", gateway.Version)

	bindings := cfg.Bindings()
	registry := models.NewRegistry(bindings)
	if providers := registry.ConfiguredProviders(); len(providers) == 0 {
		L_warn("no providers configured; the models tool will show setup hints")
	} else {
		L_info("providers configured", "providers", providers)
	}

	generators, err := llm.BuildAll(bindings)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			L_warn("store close failed", "error", cerr)
		}
	}()

	table := limits.NewTable()
	engine := advice.NewEngine(registry, generators, table)
	runner := turns.NewRunner(st, registry, generators, table)
	advisor := idiom.NewAdvisor(engine)

	server := gateway.NewServer(registry, generators, engine, runner, advisor, os.Stdin, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	L_info("modelgate ready", "db", cfg.DBPath)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	L_info("modelgate shutting down")
	return nil
}
