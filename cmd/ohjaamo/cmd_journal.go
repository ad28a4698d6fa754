package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/journal"
)

var (
	journalSince    time.Duration
	journalResource string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the operation journal",
	Long: `Replay the append-only operation journal.

Every admitted request, executed step, error, forced override and
reconciliation summary is journaled. Replay reads the journal files in
order, oldest first.`,
	Example: `  ohjaamo journal --since 24h
  ohjaamo journal --resource 4f7c...`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "Only entries newer than this age (0 = all)")
	journalCmd.Flags().StringVar(&journalResource, "resource", "", "Only entries for this resource")
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var since time.Time
	if journalSince > 0 {
		since = time.Now().UTC().Add(-journalSince)
	}

	return journal.Replay(cfg.Storage.Dir, since, func(entry *journal.Entry) error {
		if journalResource != "" && entry.ResourceID != journalResource {
			return nil
		}
		fmt.Printf("%s  %-12s seq=%d", entry.Timestamp.Format(time.RFC3339), entry.Type, entry.Sequence)
		if entry.ResourceID != "" {
			fmt.Printf("  resource=%s", entry.ResourceID)
		}
		if entry.RequestID != "" {
			fmt.Printf("  request=%s", entry.RequestID)
		}
		if entry.Error != "" {
			fmt.Printf("  error=%q", entry.Error)
		}
		fmt.Println()
		return nil
	})
}
