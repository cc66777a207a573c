// qbo-bulkdelete removes one period's generated transactions from a client's
// QBO company so a sandbox month can be re-run from scratch. It only touches
// transactions whose DocNumber or note carries a generated ID prefix.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kzoteam/qbo-bridge/internal/config"
	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/qbo"
	"github.com/kzoteam/qbo-bridge/internal/records"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

func main() {
	log := logger.New()

	var (
		clientName = flag.String("client", "", "client name from the master workbook (required)")
		month      = flag.String("month", "", "target period, e.g. \"October 2025\" (required)")
		families   = flag.String("families", "journal,expense,transfer", "comma-separated families to delete")
		yes        = flag.Bool("yes", false, "skip the confirmation prompt")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	)
	flag.Parse()

	if *clientName == "" || *month == "" {
		log.Fatal().Msg("-client and -month are required")
	}
	period, err := records.ParsePeriod(*month)
	if err != nil {
		log.Fatal().Err(err).Msg("Unparsable -month")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	sheetsClient, err := sheets.New(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}
	registry := control.NewRegistry(sheetsClient, cfg.MasterSpreadsheetID, cfg.MasterTab)

	clients, err := registry.ActiveClients(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load client registry")
	}
	var client control.Client
	found := false
	for _, c := range clients {
		if strings.EqualFold(c.Name, *clientName) {
			client, found = c, true
			break
		}
	}
	if !found {
		log.Fatal().Str("client", *clientName).Msg("No active client with that name")
	}
	if client.Country == "" {
		log.Fatal().Str("client", client.Name).Msg("Client has no country code, cannot derive ID prefixes")
	}

	qc, err := control.NewQBOClient(ctx, cfg, registry, client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open QBO client")
	}

	where := qbo.TxnDateRange(period.Start(), period.End())
	type target struct {
		entity string
		items  []qbo.DeleteItem
	}
	var targets []target

	for _, family := range strings.Split(*families, ",") {
		switch strings.TrimSpace(strings.ToLower(family)) {
		case "journal":
			entries, err := qc.QueryJournalEntries(ctx, where)
			if err != nil {
				log.Fatal().Err(err).Msg("Querying journal entries failed")
			}
			var items []qbo.DeleteItem
			for _, e := range entries {
				if strings.HasPrefix(e.DocNumber, records.JournalIDPrefix) {
					items = append(items, qbo.DeleteItem{ID: e.ID, SyncToken: e.SyncToken})
				}
			}
			targets = append(targets, target{qbo.EntityJournalEntry, items})
		case "expense":
			purchases, err := qc.QueryPurchases(ctx, where)
			if err != nil {
				log.Fatal().Err(err).Msg("Querying purchases failed")
			}
			prefix := records.ExpenseIDPrefix(client.Country, period)
			var items []qbo.DeleteItem
			for _, p := range purchases {
				if strings.HasPrefix(p.DocNumber, prefix) {
					items = append(items, qbo.DeleteItem{ID: p.ID, SyncToken: p.SyncToken})
				}
			}
			targets = append(targets, target{qbo.EntityPurchase, items})
		case "transfer":
			transfers, err := qc.QueryTransfers(ctx, where)
			if err != nil {
				log.Fatal().Err(err).Msg("Querying transfers failed")
			}
			prefix := records.TransferIDPrefix(client.Country, period)
			var items []qbo.DeleteItem
			for _, t := range transfers {
				if strings.HasPrefix(t.PrivateNote, prefix) {
					items = append(items, qbo.DeleteItem{ID: t.ID, SyncToken: t.SyncToken})
				}
			}
			targets = append(targets, target{qbo.EntityTransfer, items})
		default:
			log.Fatal().Str("family", family).Msg("Unknown family, want journal, expense or transfer")
		}
	}

	total := 0
	for _, t := range targets {
		fmt.Printf("%-12s %d transactions\n", t.entity, len(t.items))
		total += len(t.items)
	}
	if total == 0 {
		fmt.Printf("Nothing generated for %s in %s.\n", client.Name, period)
		return
	}

	if !*yes {
		fmt.Printf("Delete %d transactions from %s (%s)? Type yes to continue: ", total, client.Name, *month)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	failed := 0
	for _, t := range targets {
		if len(t.items) == 0 {
			continue
		}
		results, err := qc.BatchDelete(ctx, t.entity, t.items)
		if err != nil {
			log.Fatal().Err(err).Str("entity", t.entity).Msg("Batch delete failed")
		}
		for _, res := range results {
			if res.Err != nil {
				failed++
				log.Warn().Str("entity", t.entity).Str("id", res.ID).Err(res.Err).Msg("Delete failed")
			}
		}
	}

	fmt.Printf("Deleted %d of %d transactions (%d failed).\n", total-failed, total, failed)
}
