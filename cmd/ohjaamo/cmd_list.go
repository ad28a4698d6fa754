package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/types"
)

var (
	listScopeID string
	listType    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in a scope",
	Example: `  ohjaamo list --scope acme
  ohjaamo list --scope acme --type network`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listScopeID, "scope", "", "Scope ID")
	listCmd.Flags().StringVar(&listType, "type", "", "Only this entity type")

	_ = listCmd.MarkFlagRequired("scope")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	resources, err := d.Store().ListResources(ctx, listScopeID, types.EntityType(listType))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tSTATE\tBACKEND")
	for _, res := range resources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			res.ID, res.Type, res.Name, res.State, res.BackendID)
	}
	return w.Flush()
}
