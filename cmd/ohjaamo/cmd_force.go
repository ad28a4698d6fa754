package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/journal"
	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

var forceReason string

var forceCmd = &cobra.Command{
	Use:   "force",
	Short: "Out-of-band lifecycle overrides",
	Long: `Out-of-band lifecycle overrides for operators.

These commands bypass the normal request flow. Every use is journaled
and logged with the operator's name.`,
}

var forceErredCmd = &cobra.Command{
	Use:     "erred <resource-id>",
	Short:   "Force a resource into ERRED",
	Example: `  ohjaamo force erred 4f7c... --reason "backend object corrupted"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runForceErred,
}

var forceRecoverCmd = &cobra.Command{
	Use:     "recover <resource-id>",
	Short:   "Recover an ERRED resource back to OK",
	Example: `  ohjaamo force recover 4f7c...`,
	Args:    cobra.ExactArgs(1),
	RunE:    runForceRecover,
}

func init() {
	rootCmd.AddCommand(forceCmd)
	forceCmd.AddCommand(forceErredCmd)
	forceCmd.AddCommand(forceRecoverCmd)

	forceErredCmd.Flags().StringVar(&forceReason, "reason", "", "Why the override is needed")
	_ = forceErredCmd.MarkFlagRequired("reason")
}

func runForceErred(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	resourceID := args[0]

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	if _, err := d.Store().GetResource(ctx, resourceID); err != nil {
		return err
	}
	if err := d.Store().ForceResourceState(ctx, resourceID, types.StateErred); err != nil {
		return err
	}
	if err := d.Store().SetResourceError(ctx, resourceID, forceReason, "forced by operator"); err != nil {
		return err
	}

	operator := operatorName()
	telemetry.NewLogger("cli").LogForcedOverride(ctx, resourceID, string(types.StateErred), operator)
	_ = d.Journal().Append(journal.EntryForced, resourceID, "", map[string]string{
		"state":    string(types.StateErred),
		"reason":   forceReason,
		"operator": operator,
	})

	fmt.Printf("Resource %s forced to %s\n", resourceID, types.StateErred)
	return nil
}

func runForceRecover(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	resourceID := args[0]

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	res, err := d.Store().GetResource(ctx, resourceID)
	if err != nil {
		return err
	}

	machine := lifecycle.NewMachine(d.Store())
	ref := lifecycle.RecordRef{Kind: lifecycle.KindResource, ID: resourceID}
	next, err := machine.Transition(ctx, ref, lifecycle.Recover, res.State)
	if err != nil {
		return fmt.Errorf("recover %s: %w", resourceID, err)
	}
	if err := d.Store().ClearResourceError(ctx, resourceID); err != nil {
		return err
	}

	operator := operatorName()
	telemetry.NewLogger("cli").LogForcedOverride(ctx, resourceID, string(next), operator)
	_ = d.Journal().Append(journal.EntryForced, resourceID, "", map[string]string{
		"state":    string(next),
		"operator": operator,
	})

	fmt.Printf("Resource %s recovered to %s\n", resourceID, next)
	return nil
}

func operatorName() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
