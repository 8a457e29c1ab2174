package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/supportdesk/triage-service/internal/api/dto"
	"github.com/supportdesk/triage-service/internal/auth"
	"github.com/supportdesk/triage-service/internal/domain"
	"github.com/supportdesk/triage-service/internal/observability"
	"github.com/supportdesk/triage-service/internal/persistence"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation sweep",
	RunE:  runSweep,
}

var batchAssignCmd = &cobra.Command{
	Use:   "batch-assign",
	Short: "Route unassigned queries oldest first",
	RunE:  runBatchAssign,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backlog per team and agent load",
	RunE:  runStats,
}

var atRiskCmd = &cobra.Command{
	Use:   "at-risk",
	Short: "List queries close to breaching their SLA",
	RunE:  runAtRisk,
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List unanswered queries idle long enough to be getting stale",
	RunE:  runStale,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator bearer token",
	RunE:  runToken,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations to the configured database",
	RunE:  runMigrate,
}

var (
	nowFlag      string
	limitFlag    int
	subjectFlag  string
	roleFlag     string
	ttlFlag      int
	migrationDir string
)

func init() {
	sweepCmd.Flags().StringVar(&nowFlag, "now", "", "Evaluate at this RFC3339 instant instead of the current time")
	atRiskCmd.Flags().StringVar(&nowFlag, "now", "", "Evaluate at this RFC3339 instant instead of the current time")
	staleCmd.Flags().StringVar(&nowFlag, "now", "", "Evaluate at this RFC3339 instant instead of the current time")
	batchAssignCmd.Flags().IntVar(&limitFlag, "limit", 50, "Maximum queries to route (0 routes all)")

	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "", "Operator identity (required)")
	tokenCmd.Flags().StringVar(&roleFlag, "role", string(auth.RoleAgent), "Role: admin or agent")
	tokenCmd.Flags().IntVar(&ttlFlag, "ttl", 0, "Lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	_ = tokenCmd.MarkFlagRequired("subject")

	migrateCmd.Flags().StringVar(&migrationDir, "dir", "", "Migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	now, err := parseNow(nowFlag)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	transitions, err := engine.EscalationService.Sweep(ctx, now)
	if err != nil {
		return err
	}
	resp := dto.NewSweepResponse(now, transitions)
	if jsonOutput {
		return printJSON(resp)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUERY\tFROM\tTO\tPRIORITY\tREASSIGNED")
	for _, t := range resp.Transitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s→%s\t%t\n", t.QueryID, t.From, t.To, t.OldPriority, t.NewPriority, t.Reassigned)
	}
	w.Flush()
	fmt.Printf("%d transition(s) at %s\n", len(resp.Transitions), now.Format(time.RFC3339))
	return nil
}

func runBatchAssign(cmd *cobra.Command, _ []string) error {
	if limitFlag < 0 {
		return errors.New("--limit must not be negative")
	}
	ctx := cmd.Context()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.AssignmentService.BatchAssign(ctx, limitFlag)
	if err != nil {
		return err
	}
	resp := dto.NewBatchResponse(result)
	if jsonOutput {
		return printJSON(resp)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUERY\tTEAM\tPRIORITY\tAGENT\tREASON")
	for _, o := range resp.Outcomes {
		agent := "-"
		if o.AgentID != nil {
			agent = *o.AgentID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.QueryID, o.Team, o.Priority, agent, o.Reason)
	}
	w.Flush()
	fmt.Printf("processed=%d assigned=%d unassigned=%d skipped=%d\n", resp.Processed, resp.Assigned, resp.Unassigned, resp.Skipped)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.AssignmentService.Stats(ctx)
	if err != nil {
		return err
	}
	resp := dto.NewStatsResponse(stats)
	if jsonOutput {
		return printJSON(resp)
	}
	teams := make([]string, 0, len(resp.Unassigned))
	for team := range resp.Unassigned {
		teams = append(teams, string(team))
	}
	sort.Strings(teams)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEAM\tUNASSIGNED")
	for _, team := range teams {
		fmt.Fprintf(w, "%s\t%d\n", team, resp.Unassigned[domain.Team(team)])
	}
	fmt.Fprintf(w, "unclassified\t%d\n", resp.Unclassified)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "AGENT\tTEAM\tACTIVE\tURGENT\tHIGH\tMEDIUM\tLOW")
	for _, a := range resp.Agents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", a.AgentID, a.Team, a.ActiveTickets,
			a.ByPriority[domain.PriorityUrgent], a.ByPriority[domain.PriorityHigh],
			a.ByPriority[domain.PriorityMedium], a.ByPriority[domain.PriorityLow])
	}
	return w.Flush()
}

func runAtRisk(cmd *cobra.Command, _ []string) error {
	now, err := parseNow(nowFlag)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	entries, err := engine.EscalationService.AtRisk(ctx, now)
	if err != nil {
		return err
	}
	resp := dto.NewAtRiskResponses(entries)
	if jsonOutput {
		return printJSON(resp)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUERY\tPRIORITY\tELAPSED\tREMAINING\tASSIGNEE")
	for _, e := range resp {
		assignee := "-"
		if e.Query.AssigneeID != nil {
			assignee = *e.Query.AssigneeID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Query.ID, e.Priority, e.Elapsed, e.Remaining, assignee)
	}
	return w.Flush()
}

func runStale(cmd *cobra.Command, _ []string) error {
	now, err := parseNow(nowFlag)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	entries, err := engine.EscalationService.Stale(ctx, now)
	if err != nil {
		return err
	}
	resp := dto.NewStaleResponses(entries)
	if jsonOutput {
		return printJSON(resp)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUERY\tPRIORITY\tIDLE\tSTUCK IN\tASSIGNEE")
	for _, e := range resp {
		assignee := "-"
		if e.Query.AssigneeID != nil {
			assignee = *e.Query.AssigneeID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Query.ID, e.Priority, e.Idle, e.Remaining, assignee)
	}
	return w.Flush()
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	role := auth.Role(roleFlag)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", roleFlag)
	}
	ttl := cfg.Auth.AccessTokenTTLMinutes
	if ttlFlag > 0 {
		ttl = ttlFlag
	}
	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).Issue(subjectFlag, role)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"token": token, "expires_at": expiresAt})
	}
	fmt.Println(token)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if cfg.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required for migrate")
	}
	dir := cfg.Postgres.MigrationsDir
	if migrationDir != "" {
		dir = migrationDir
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	applied, err := persistence.RunMigrations(ctx, pg.PoolHandle(), dir, logger)
	if err != nil {
		return err
	}
	fmt.Printf("%d migration(s) applied from %s\n", applied, dir)
	return nil
}
