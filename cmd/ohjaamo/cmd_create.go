package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yairfalse/ohjaamo/types"
)

var (
	createScopeID     string
	createScopeKind   string
	createType        string
	createName        string
	createDescription string
	createAttrs       []string
	createNoWait      bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a resource",
	Long: `Create a resource record and run its provisioning request.

The resource row is inserted in CREATION_SCHEDULED, a create request is
admitted against it, and unless --no-wait is given the request is
executed immediately.`,
	Example: `  ohjaamo create --scope acme --type network --name backbone --attr cidr=10.1.0.0/16
  ohjaamo create --scope acme --type subnet --name web --attr cidr=10.1.1.0/24 --attr parent_id=vpc-123`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createScopeID, "scope", "", "Owning scope ID")
	createCmd.Flags().StringVar(&createScopeKind, "scope-kind", "tenant", "Scope kind (tenant, project)")
	createCmd.Flags().StringVar(&createType, "type", "", "Entity type (tenant, network, subnet, security_group, floating_ip, virtual_env)")
	createCmd.Flags().StringVar(&createName, "name", "", "Resource name")
	createCmd.Flags().StringVar(&createDescription, "description", "", "Resource description")
	createCmd.Flags().StringArrayVar(&createAttrs, "attr", nil, "Backend attribute as key=value (repeatable)")
	createCmd.Flags().BoolVar(&createNoWait, "no-wait", false, "Admit the request without executing it")

	_ = createCmd.MarkFlagRequired("scope")
	_ = createCmd.MarkFlagRequired("type")
}

func runCreate(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	d, err := openControlPlane(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	res := types.Resource{
		ID:          uuid.NewString(),
		Type:        types.EntityType(createType),
		Scope:       types.ScopeRef{Kind: types.ScopeKind(createScopeKind), ID: createScopeID},
		State:       types.StateCreationScheduled,
		Name:        createName,
		Description: createDescription,
	}
	if err := d.Store().CreateResource(ctx, res); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	args := parseArgs(createAttrs)
	req, err := d.Coordinator().TryAdmit(ctx, res.ID, "", types.CategoryCreate, args)
	if err != nil {
		return fmt.Errorf("admit create request: %w", err)
	}

	fmt.Printf("Resource %s (%s) scheduled, request %s\n", res.ID, res.Type, req.ID)
	if createNoWait {
		return nil
	}

	if err := d.Executor().Execute(ctx, *req); err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	return printOutcome(ctx, d, res.ID, req.ID)
}

// parseArgs turns repeated key=value flags into a map.
func parseArgs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			args[pair] = ""
			continue
		}
		args[key] = value
	}
	return args
}
