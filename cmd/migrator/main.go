package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wallet-migrator/internal/config"
	"wallet-migrator/internal/logger"
)

const usage = `usage: migrator <command> [flags]

commands:
  balances [-csv file]          show token balances of the legacy wallet
  run [-user id] [-yes]         migrate the legacy wallet to the owner wallet
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "balances":
		fs := flag.NewFlagSet("balances", flag.ExitOnError)
		csvPath := fs.String("csv", "", "write balances to this CSV file")
		_ = fs.Parse(os.Args[2:])
		code = runBalances(ctx, cfg, *csvPath)
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		userID := fs.String("user", cfg.Backend.UserID, "backend user id")
		yes := fs.Bool("yes", false, "confirm the transfer without prompting")
		_ = fs.Parse(os.Args[2:])
		code = runMigration(ctx, cfg, *userID, *yes)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}
