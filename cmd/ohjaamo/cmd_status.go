package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <resource-id>",
	Short: "Show a resource and its composite status",
	Long: `Show a resource row together with the composite status derived
from its request history. A non-terminal configuration sync dominates;
otherwise the busiest pending request category wins.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	res, err := d.Store().GetResource(ctx, args[0])
	if err != nil {
		return err
	}

	composite, err := d.Aggregator().Aggregate(ctx, res.ID)
	if err != nil {
		return fmt.Errorf("aggregate status: %w", err)
	}

	fmt.Printf("Resource:  %s\n", res.ID)
	fmt.Printf("Type:      %s\n", res.Type)
	fmt.Printf("Scope:     %s\n", res.Scope)
	fmt.Printf("Name:      %s\n", res.Name)
	fmt.Printf("State:     %s\n", res.State)
	fmt.Printf("Composite: %s\n", composite)
	if res.BackendID != "" {
		fmt.Printf("Backend:   %s\n", res.BackendID)
	}
	if res.Status != "" {
		fmt.Printf("Status:    %s\n", res.Status)
	}
	if res.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", res.ErrorMessage)
	}
	return nil
}
