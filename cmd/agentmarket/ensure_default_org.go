package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/agentmarket/internal/apikey"
	apikeydomain "github.com/smallbiznis/agentmarket/internal/apikey/domain"
	"github.com/smallbiznis/agentmarket/internal/migration"
	"github.com/smallbiznis/agentmarket/internal/organization"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	"github.com/smallbiznis/agentmarket/internal/subscription"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type ensureDefaultOrgFlags struct {
	userID   string
	email    string
	name     string
	issueKey bool
	keyName  string
}

var onboarding ensureDefaultOrgFlags

var ensureDefaultOrgCmd = &cobra.Command{
	Use:   "ensure-default-org",
	Short: "Create the default organization for a principal if it has none",
	Long: `Onboard a principal from the identity provider.

The command is idempotent: a principal that already belongs to an organization
gets its first membership back and nothing is created. With --issue-key an API
key bound to that membership is minted and printed once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnsureDefaultOrg(cmd.Context(), cmd.OutOrStdout(), onboarding)
	},
}

func init() {
	flags := ensureDefaultOrgCmd.Flags()
	flags.StringVar(&onboarding.userID, "user-id", "", "identity provider user id")
	flags.StringVar(&onboarding.email, "email", "", "principal email")
	flags.StringVar(&onboarding.name, "name", "", "display name used for the organization name and slug")
	flags.BoolVar(&onboarding.issueKey, "issue-key", false, "also issue an API key for the membership")
	flags.StringVar(&onboarding.keyName, "key-name", "default", "name of the issued API key")
	_ = ensureDefaultOrgCmd.MarkFlagRequired("user-id")
	_ = ensureDefaultOrgCmd.MarkFlagRequired("email")
}

type onboardingServices struct {
	fx.In

	Organizations orgdomain.Service
	APIKeys       apikeydomain.Service
}

func runEnsureDefaultOrg(ctx context.Context, out io.Writer, flags ensureDefaultOrgFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var svc onboardingServices
	app := fx.New(
		coreOptions(),
		migration.Module,
		subscription.Module,
		organization.Module,
		apikey.Module,
		fx.Populate(&svc),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	resp, err := svc.Organizations.EnsureDefaultOrg(startCtx, orgdomain.EnsureDefaultOrgRequest{
		UserID: flags.userID,
		Email:  flags.email,
		Name:   flags.name,
	})
	if err != nil {
		return err
	}

	status := "existing"
	if resp.Created {
		status = "created"
	}
	fmt.Fprintf(out, "organization: %s (%s, %s)\n", resp.Membership.OrgID, resp.Membership.OrgSlug, status)
	fmt.Fprintf(out, "membership: %s role=%s\n", resp.Membership.ID, resp.Membership.Role)

	if !flags.issueKey {
		return nil
	}

	key, err := svc.APIKeys.Issue(startCtx, apikeydomain.IssueRequest{
		OrgID:  resp.Membership.OrgID,
		UserID: resp.Membership.UserID,
		Name:   strings.TrimSpace(flags.keyName),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "api key: %s\n", key.APIKey)
	fmt.Fprintf(out, "key id: %s (shown once, store it now)\n", key.KeyID)
	return nil
}
