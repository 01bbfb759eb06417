package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/claimship/internal/adapters/fs"
	"github.com/bft-labs/claimship/internal/app"
	"github.com/bft-labs/claimship/internal/cliconfig"
	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/recovery"
	"github.com/bft-labs/claimship/internal/store"
	"github.com/bft-labs/claimship/pkg/log"
)

// maintenance resolves config for a command that works on the database
// only. requireProvider rejects an empty provider code.
func maintenance(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string, requireProvider bool) (log.Logger, error) {
	if _, err := resolveConfig(cmd, cfg, cfgPath); err != nil {
		return nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	if requireProvider && cfg.ProviderDhsCode == "" {
		return nil, fmt.Errorf("%w: provider is required", domain.ErrInvalidConfig)
	}
	return log.NewZerologAdapterWithLogger(cliconfig.LoggerWithLevel(cfg.LogLevel)), nil
}

// agentActive reports whether the state file shows a live agent.
func agentActive(ctx context.Context, dataDir string) (fs.AgentState, bool) {
	st, err := fs.NewStateFile(dataDir).Load(ctx)
	if err != nil {
		return st, false
	}
	switch st.State {
	case "Starting", "Running", "Stopping":
		return st, true
	}
	return st, false
}

func newRecoverCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Release abandoned claim leases and fail abandoned dispatches",
		Long: "Run the startup repair sweep on its own. The agent runs it on every start; " +
			"use this when inspecting a database left behind by a crashed agent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := maintenance(cmd, cfg, *cfgPath, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if st, active := agentActive(ctx, cfg.DataDir()); active && !force {
				return fmt.Errorf("agent (pid %d) is %s; stop it first or pass --force", st.PID, st.State)
			}

			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := recovery.New(s, logger).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d claims, %d dispatches\n",
				res.RecoveredClaims, res.RecoveredDispatches)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the state file shows a running agent")
	return cmd
}

func newMigrateCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := maintenance(cmd, cfg, *cfgPath, false); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir(), 0o700); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			db, err := store.OpenDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.Migrate(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := maintenance(cmd, cfg, *cfgPath, false); err != nil {
				return err
			}
			db, err := store.OpenDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.MigrationStatus(db)
			if err != nil {
				return err
			}
			pending, err := store.PendingMigrations(db)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tAPPLIED")
			for _, r := range applied {
				fmt.Fprintf(w, "%s\t%s\n", r.Id, r.AppliedAt.UTC().Format(time.RFC3339))
			}
			for _, id := range pending {
				fmt.Fprintf(w, "%s\tpending\n", id)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Agent      fs.AgentState    `json:"agent"`
	Provider   string           `json:"provider_dhs_code"`
	Claims     map[string]int   `json:"claims"`
	OpenIssues int              `json:"open_issues"`
	RecentAPI  []apiCallSummary `json:"recent_api_calls"`
}

type apiCallSummary struct {
	Endpoint   string    `json:"endpoint"`
	RequestUtc time.Time `json:"request_utc"`
	Status     int       `json:"status"`
	Succeeded  bool      `json:"succeeded"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

func newStatusCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	var asJSON bool
	var calls int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent state and queue counts for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := maintenance(cmd, cfg, *cfgPath, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			out := statusOutput{Provider: cfg.ProviderDhsCode, Claims: map[string]int{}}
			out.Agent, _ = fs.NewStateFile(cfg.DataDir()).Load(ctx)

			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			counts, err := s.CountClaimsByStatus(ctx, cfg.ProviderDhsCode)
			if err != nil {
				return err
			}
			for status, n := range counts {
				out.Claims[status.String()] = n
			}
			issues, err := s.ListOpenValidationIssues(ctx, cfg.ProviderDhsCode)
			if err != nil {
				return err
			}
			out.OpenIssues = len(issues)
			recent, err := s.ListRecentAPICalls(ctx, calls)
			if err != nil {
				return err
			}
			for _, c := range recent {
				out.RecentAPI = append(out.RecentAPI, apiCallSummary{
					Endpoint:   c.EndpointName,
					RequestUtc: c.RequestUtc,
					Status:     c.HTTPStatusCode,
					Succeeded:  c.Succeeded,
					DurationMs: c.Duration.Milliseconds(),
					Error:      c.ErrorMessage,
				})
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printStatus(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&calls, "calls", 5, "number of recent API calls to show")
	return cmd
}

func printStatus(out io.Writer, s statusOutput) error {
	state := s.Agent.State
	if state == "" {
		state = "unknown"
	}
	fmt.Fprintf(out, "agent:       %s", state)
	if s.Agent.PID != 0 {
		fmt.Fprintf(out, " (pid %d, updated %s)", s.Agent.PID, s.Agent.UpdatedUtc.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "provider:    %s\n", s.Provider)
	fmt.Fprintf(out, "open issues: %d\n", s.OpenIssues)

	names := make([]string, 0, len(s.Claims))
	for name := range s.Claims {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTATUS\tCLAIMS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, s.Claims[name])
	}
	if len(s.RecentAPI) > 0 {
		fmt.Fprintln(w, "\nENDPOINT\tHTTP\tOK\tMS\tAT")
		for _, c := range s.RecentAPI {
			fmt.Fprintf(w, "%s\t%d\t%t\t%d\t%s\n", c.Endpoint, c.Status, c.Succeeded, c.DurationMs, c.RequestUtc.Format(time.RFC3339))
		}
	}
	return w.Flush()
}

func newRetryCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	var claims []int64
	var batch int64
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Make failed claims due now, or resume an enqueued batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(claims) == 0 && batch == 0 {
				return errors.New("pass --claim or --batch")
			}
			logger, err := maintenance(cmd, cfg, *cfgPath, true)
			if err != nil {
				return err
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			op := app.NewOperator(s, cfg.ProviderDhsCode, logger, nil)
			if len(claims) > 0 {
				if err := op.RetryClaims(cmd.Context(), claims); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled %d claims for retry\n", len(claims))
			}
			if batch != 0 {
				if err := op.RequestResume(cmd.Context(), batch); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch %d flagged for resume\n", batch)
			}
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&claims, "claim", nil, "ProIdClaim to retry (repeatable)")
	cmd.Flags().Int64Var(&batch, "batch", 0, "batch id to resume")
	return cmd
}

func newIssuesCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List or resolve validation issues",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List open validation issues for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := maintenance(cmd, cfg, *cfgPath, true)
			if err != nil {
				return err
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			issues, err := s.ListOpenValidationIssues(cmd.Context(), cfg.ProviderDhsCode)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLAIM\tTYPE\tBLOCKING\tMESSAGE")
			for _, i := range issues {
				claim := "-"
				if i.ProIdClaim != nil {
					claim = fmt.Sprint(*i.ProIdClaim)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", i.ID, claim, i.IssueType, i.IsBlocking, i.Message)
			}
			return w.Flush()
		},
	}

	var id int64
	var by string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Mark a validation issue resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return errors.New("pass --id")
			}
			logger, err := maintenance(cmd, cfg, *cfgPath, false)
			if err != nil {
				return err
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ResolveValidationIssue(cmd.Context(), id, by, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "issue %d resolved\n", id)
			return nil
		},
	}
	resolve.Flags().Int64Var(&id, "id", 0, "issue id")
	resolve.Flags().StringVar(&by, "by", os.Getenv("USER"), "who resolved the issue")

	cmd.AddCommand(list, resolve)
	return cmd
}

func newProviderCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage provider connection profiles",
	}

	var p domain.ProviderProfile
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update a provider profile",
		Long: "Store a provider profile. The connection string is encrypted at rest when " +
			"an encryption key is configured. An active profile deactivates the provider's others.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := maintenance(cmd, cfg, *cfgPath, true)
			if err != nil {
				return err
			}
			if p.ProviderCode == "" {
				return errors.New("pass --code")
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			p.ProviderDhsCode = cfg.ProviderDhsCode
			p.UpdatedUtc = time.Now().UTC()
			if err := s.UpsertProviderProfile(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile %s saved (active=%t)\n", p.ProviderCode, p.IsActive)
			return nil
		},
	}
	set.Flags().StringVar(&p.ProviderCode, "code", "", "profile code")
	set.Flags().StringVar(&p.DBEngine, "engine", "", "source database engine")
	set.Flags().StringVar(&p.IntegrationType, "integration", "", "integration type")
	set.Flags().StringVar(&p.ConnectionString, "connection", "", "source connection string")
	set.Flags().StringVar(&p.EncryptionKeyID, "key-id", "", "identifier of the key protecting the connection string")
	set.Flags().BoolVar(&p.IsActive, "active", true, "make this the provider's active profile")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active profile of a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := maintenance(cmd, cfg, *cfgPath, true)
			if err != nil {
				return err
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			prof, err := s.GetActiveProviderProfile(cmd.Context(), cfg.ProviderDhsCode)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "code\t%s\n", prof.ProviderCode)
			fmt.Fprintf(w, "provider\t%s\n", prof.ProviderDhsCode)
			fmt.Fprintf(w, "engine\t%s\n", prof.DBEngine)
			fmt.Fprintf(w, "integration\t%s\n", prof.IntegrationType)
			fmt.Fprintf(w, "key id\t%s\n", prof.EncryptionKeyID)
			fmt.Fprintf(w, "updated\t%s\n", prof.UpdatedUtc.Format(time.RFC3339))
			return w.Flush()
		},
	}

	var code string
	var active bool
	activate := &cobra.Command{
		Use:   "activate",
		Short: "Activate or deactivate a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return errors.New("pass --code")
			}
			logger, err := maintenance(cmd, cfg, *cfgPath, false)
			if err != nil {
				return err
			}
			s, err := openStore(*cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.SetProviderActive(cmd.Context(), code, active, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile %s active=%t\n", code, active)
			return nil
		},
	}
	activate.Flags().StringVar(&code, "code", "", "profile code")
	activate.Flags().BoolVar(&active, "active", true, "false to deactivate")

	cmd.AddCommand(set, show, activate)
	return cmd
}
