package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var requestsOpenOnly bool

var requestsCmd = &cobra.Command{
	Use:     "requests <resource-id>",
	Short:   "List the request history of a resource",
	Example: `  ohjaamo requests 4f7c... --open`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRequests,
}

func init() {
	rootCmd.AddCommand(requestsCmd)

	requestsCmd.Flags().BoolVar(&requestsOpenOnly, "open", false, "Only show non-terminal requests")
}

func runRequests(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	requests, err := d.Store().RequestsForResource(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tCOMPONENT\tSTATE\tCREATED")
	for _, req := range requests {
		if requestsOpenOnly && !req.Open() {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.Category, req.ComponentKey, req.State,
			req.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
