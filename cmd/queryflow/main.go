package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/postgres"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	envFile    string
	verbose    bool
	jsonOutput bool
	sessionID  string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queryflow",
		Short: "Answer natural language questions with SQL",
		Long: `queryflow turns a natural language question into a validated, read-only
SQL query, runs it against the configured database and summarizes the result.
Ambiguous questions pause the session until a clarifying choice is supplied.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to environment file (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long:  "Run a session for the question. A paused session prints its options and id for resume.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringVar(&sessionID, "session", "", "Session id to use (generated when empty)")

	resumeCmd := &cobra.Command{
		Use:   "resume <session-id> <choice>",
		Short: "Resume a paused session",
		Long:  "Continue a paused session with the chosen option number or free-text answer.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runResume,
	}

	for _, cmd := range []*cobra.Command{askCmd, resumeCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
		cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Minute, "Session timeout")
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	sessionsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored sessions",
			Args:  cobra.NoArgs,
			RunE:  listSessions,
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Show a stored session and its stage history",
			Args:  cobra.ExactArgs(1),
			RunE:  showSession,
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a stored session",
			Args:  cobra.ExactArgs(1),
			RunE:  deleteSession,
		},
	)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres checkpoint migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	rootCmd.AddCommand(serveCmd, askCmd, resumeCmd, sessionsCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := a.engine.Run(ctx, sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printResult(result, time.Since(start))
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := a.engine.Resume(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return printResult(result, time.Since(start))
}

func printResult(result *queryflow.Result, duration time.Duration) error {
	if jsonOutput {
		return printJSON(result)
	}

	if result.Paused() {
		color.Yellow("Your question needs clarification (session %s):", result.SessionID)
		for i, option := range result.Options() {
			fmt.Printf("  %d. %s\n", i+1, option)
		}
		fmt.Println()
		color.White("Continue with: queryflow resume %s <choice>", result.SessionID)
		return nil
	}

	state := result.State
	if state.SafeSQL != "" {
		color.Cyan("SQL: %s", state.SafeSQL)
	}
	if state.Executed {
		color.White("Rows: %d", len(state.Rows))
	}
	fmt.Println()
	fmt.Println(state.Answer)
	fmt.Println()
	color.White("Session %s %s in %v (attempts: %d)", result.SessionID, result.Status, duration.Round(time.Millisecond), state.Attempts)

	if wErr := result.Err(); wErr != nil {
		return fmt.Errorf("session ended with %s: %s", wErr.Type, wErr.Cause)
	}
	return nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.engine.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No stored sessions.")
		return nil
	}

	fmt.Printf("%-34s %-10s %-14s %-8s %s\n", "SESSION", "STATUS", "NEXT STAGE", "ATTEMPTS", "QUESTION")
	fmt.Println(strings.Repeat("-", 100))
	for _, s := range sessions {
		status := string(s.Status)
		switch s.Status {
		case queryflow.ExecutionStatusPaused:
			status = color.YellowString("%-10s", status)
		case queryflow.ExecutionStatusFailed:
			status = color.RedString("%-10s", status)
		default:
			status = fmt.Sprintf("%-10s", status)
		}
		fmt.Printf("%-34s %s %-14s %-8d %s\n", s.SessionID, status, s.NextStage, s.Attempts, truncate(s.Question, 60))
	}
	return nil
}

func showSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	checkpoint, err := a.engine.Session(ctx, args[0])
	if err != nil {
		return err
	}
	history, err := a.engine.StageHistory(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"checkpoint": checkpoint,
		"stages":     history,
	})
}

func deleteSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.DeleteSession(ctx, args[0]); err != nil {
		return err
	}
	color.Green("Deleted session %s", args[0])
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := loadConfig()
	if err != nil {
		return err
	}
	defer a.Close()

	pool, err := a.checkpointPool(ctx)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, pool, a.logger); err != nil {
		return err
	}
	color.Green("Checkpoint migrations applied")
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
