package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"wallet-migrator/internal/balances"
	"wallet-migrator/internal/config"
	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/models"

	"github.com/gocarina/gocsv"
)

// balanceRow is one token balance in the CSV export
type balanceRow struct {
	Network     string `csv:"network"`
	ChainID     uint64 `csv:"chain_id"`
	Token       string `csv:"token"`
	TokenAddr   string `csv:"token_address"`
	Amount      string `csv:"amount"`
	Decimals    uint8  `csv:"decimals"`
	NetworkUSD  string `csv:"network_total_usd"`
	Approximate bool   `csv:"approximate"`
	Error       string `csv:"error"`
}

func snapshotRows(snapshots []models.BalanceSnapshot) []*balanceRow {
	var rows []*balanceRow
	for _, s := range snapshots {
		if s.Err != nil {
			rows = append(rows, &balanceRow{Network: s.Network.String(), ChainID: s.ChainID, Error: s.Err.Error()})
			continue
		}
		symbols := make([]string, 0, len(s.Balances))
		for sym := range s.Balances {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			b := s.Balances[sym]
			rows = append(rows, &balanceRow{
				Network:     s.Network.String(),
				ChainID:     s.ChainID,
				Token:       sym,
				TokenAddr:   b.Token.Address.Hex(),
				Amount:      b.Amount.String(),
				Decimals:    b.Decimals,
				NetworkUSD:  s.Total.StringFixed(2),
				Approximate: s.Approximate,
			})
		}
	}
	return rows
}

func printSnapshots(w io.Writer, snapshots []models.BalanceSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NETWORK\tTOKEN\tAMOUNT\tUSD")
	for _, row := range snapshotRows(snapshots) {
		if row.Error != "" {
			fmt.Fprintf(tw, "%s\t-\tunavailable: %s\t-\n", row.Network, row.Error)
			continue
		}
		if row.Amount == "0" {
			continue
		}
		usd := row.NetworkUSD
		if row.Approximate {
			usd = "~" + usd
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Network, row.Token, row.Amount, usd)
	}
	total := balances.Total(snapshots).StringFixed(2)
	if balances.Approximate(snapshots) {
		total = "~" + total
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\n", total)
	tw.Flush()
}

func runBalances(ctx context.Context, cfg *config.Config, csvPath string) int {
	log := logger.GetLogger()

	a, err := newApp(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	defer a.Close()

	snapshots := a.aggregator.FetchAllNetworkBalances(ctx, a.legacy)
	fmt.Printf("Balances of %s\n\n", a.legacy.Hex())
	printSnapshots(os.Stdout, snapshots)

	if csvPath != "" {
		out, err := os.Create(csvPath)
		if err != nil {
			log.Error().Err(err).Str("path", csvPath).Msg("Failed to create CSV file")
			return 1
		}
		defer out.Close()
		rows := snapshotRows(snapshots)
		if err := gocsv.MarshalFile(&rows, out); err != nil {
			log.Error().Err(err).Str("path", csvPath).Msg("Failed to write CSV file")
			return 1
		}
		fmt.Printf("\nWrote %s\n", csvPath)
	}

	if balances.AllFailed(snapshots) {
		return 1
	}
	return 0
}
