package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"wallet-migrator/internal/config"
	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/migration"
	"wallet-migrator/internal/status"
)

func runMigration(ctx context.Context, cfg *config.Config, userID string, autoConfirm bool) int {
	log := logger.GetLogger()

	if userID == "" {
		log.Error().Msg("A backend user id is required (-user or BACKEND_USER_ID)")
		return 2
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	defer a.Close()

	state := status.WalletState{UserID: userID, EOA: a.owner, Legacy: a.legacy}
	if a.status.ShouldUseEOA(ctx, state) {
		fmt.Printf("Wallet %s is already migrated to %s\n", a.legacy.Hex(), a.owner.Hex())
		return 0
	}

	session, err := a.orch.NewSession(userID, a.legacy, a.owner)
	if err != nil {
		log.Error().Err(err).Msg("Cannot start migration")
		return 1
	}

	fmt.Printf("Migrating %s -> %s\n", a.legacy.Hex(), a.owner.Hex())
	p := &prompter{in: bufio.NewReader(os.Stdin), auto: autoConfirm}

	if err := a.orch.Approve(ctx, session); err != nil {
		log.Error().Err(err).Msg("Migration could not start")
		return 1
	}

	for {
		switch session.Step() {
		case migration.StepReviewingTransfer:
			fmt.Println()
			printSnapshots(os.Stdout, session.Snapshots())
			switch p.ask("Transfer these balances to "+a.owner.Hex()+"? [y]es/[r]efresh/[N]o", "y") {
			case "y":
				err = a.orch.ConfirmTransfer(ctx, session)
			case "r":
				err = a.orch.RefreshBalances(ctx, session)
			default:
				return abandon(a.orch, session)
			}

		case migration.StepFailure:
			f := session.Failure()
			fmt.Printf("\n%s\n", f.Message)
			log.Debug().Err(f.Err).Str("kind", string(f.Kind)).Msg("Migration failure")
			if !f.Retryable() || p.ask("Retry? [y/N]", "") != "y" {
				if session.Cancellable() {
					return abandon(a.orch, session)
				}
				fmt.Println("Funds were moved; run again later to record the migration.")
				return 1
			}
			err = a.orch.Retry(ctx, session)

		case migration.StepSuccess:
			printResult(a, session)
			return 0

		default:
			log.Error().Str("step", session.Step().String()).Msg("Migration stopped unexpectedly")
			return 1
		}

		if err != nil {
			log.Error().Err(err).Msg("Migration step rejected")
			return 1
		}
	}
}

func abandon(orch *migration.Orchestrator, session *migration.Session) int {
	if err := orch.Abandon(session); err != nil {
		logger.GetLogger().Error().Err(err).Msg("Cannot abandon migration")
		return 1
	}
	fmt.Println("Migration abandoned, nothing was changed.")
	return 1
}

func printResult(a *app, session *migration.Session) {
	fmt.Printf("\nMigration complete. %s now replaces %s.\n", a.owner.Hex(), a.legacy.Hex())
	if session.KYCMigrated() {
		fmt.Println("Identity verification moved to the new wallet.")
	}
	for _, b := range session.Batches() {
		desc, _ := a.registry.Get(b.Network)
		if b.Confirmed() {
			fmt.Printf("  %-10s %s\n", b.Network, desc.ExplorerURL(b.TxHash))
			continue
		}
		fmt.Printf("  %-10s transfer failed: %v\n", b.Network, b.Err)
	}
	if failed := session.FailedNetworks(); len(failed) > 0 {
		fmt.Printf("Funds on %d network(s) are still in %s.\n", len(failed), a.legacy.Hex())
	}
}

type prompter struct {
	in   *bufio.Reader
	auto bool
}

// ask prints question and returns the lowercased first letter of the
// answer. With auto set it answers def without reading.
func (p *prompter) ask(question, def string) string {
	fmt.Printf("%s ", question)
	if p.auto && def != "" {
		fmt.Println(def)
		return def
	}
	line, _ := p.in.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return ""
	}
	return line[:1]
}
