package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileScopes []string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation cycle",
	Long: `Run one reconciliation cycle for the given scopes.

Each cycle lists what the backend has, diffs it against local records,
adopts unknown objects, removes records whose backend object vanished
(policy permitting, terminal states only) and patches drifted fields.`,
	Example: `  ohjaamo reconcile --scope acme
  ohjaamo reconcile --scope acme --scope globex`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringArrayVar(&reconcileScopes, "scope", nil, "Scope ID to reconcile (repeatable; defaults to configured scopes)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scopes := reconcileScopes
	if len(scopes) == 0 {
		scopes = cfg.Reconciler.Scopes
	}
	if len(scopes) == 0 {
		return fmt.Errorf("no scopes given and none configured")
	}

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	for _, scopeID := range scopes {
		summary, err := d.Reconciler().ReconcileScope(ctx, scopeID)
		if err != nil {
			return fmt.Errorf("reconcile scope %s: %w", scopeID, err)
		}

		fmt.Printf("Scope %s reconciled in %s\n", summary.ScopeID, summary.Duration)
		for _, pass := range summary.Passes {
			if pass.Skipped {
				fmt.Printf("  %-16s skipped\n", pass.Type)
				continue
			}
			fmt.Printf("  %-16s created=%d updated=%d deleted=%d denied=%d\n",
				pass.Type, pass.Created, pass.Updated, pass.Deleted, pass.Denied)
		}
	}
	return nil
}
