// Command crew runs the agent crew once against a single request and prints
// the conversation.
//
// Usage:
//
//	crew run [request] [flags]
//
// Configuration is read from the environment (and .env), the same way the
// API server reads it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/agent-crew/backend/internal/app"
	"github.com/zhouzirui/agent-crew/backend/internal/config"
	"github.com/zhouzirui/agent-crew/backend/internal/logging"
	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
	"github.com/zhouzirui/agent-crew/backend/internal/service/transcript"
)

type runFlags struct {
	agentsFile     string
	maxIterations  int
	noPublish      bool
	jsonOutput     bool
	transcriptPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crew: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "crew",
		Short:         "Multi-agent crew that turns a request into a published HTML page",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newAgentsCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run the crew once and print the conversation",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flags.agentsFile != "" {
				cfg.Crew.AgentsFile = flags.agentsFile
			}
			if flags.maxIterations > 0 {
				cfg.Crew.MaxIterations = flags.maxIterations
			}
			if flags.noPublish {
				cfg.Crew.PublishEnabled = false
			}

			logger := logging.NewWithWriter(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())
			logger.Warn().Msg("Start multi-agent system...")

			agents, err := app.LoadAgents(cfg.Crew)
			if err != nil {
				return err
			}
			driver, err := app.NewDriver(cmd.Context(), cfg, agents, app.Deps{}, logger)
			if err != nil {
				return err
			}

			result := driver.RunSafely(cmd.Context(), requestFromArgs(args))
			if result == nil {
				// already logged by RunSafely
				return nil
			}

			if err := printRecords(cmd.OutOrStdout(), result.Messages, flags.jsonOutput); err != nil {
				return err
			}
			if flags.transcriptPath != "" {
				return writeTranscript(flags.transcriptPath, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.agentsFile, "agents", "", "YAML crew definition (overrides CREW_AGENTS_FILE)")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "turn ceiling (overrides CREW_MAX_ITERATIONS)")
	cmd.Flags().BoolVar(&flags.noPublish, "no-publish", false, "write the artifact but skip the publish script")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print the conversation as JSON")
	cmd.Flags().StringVar(&flags.transcriptPath, "transcript", "", "also write an HTML transcript to this path")
	return cmd
}

func newAgentsCommand() *cobra.Command {
	var agentsFile string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the configured crew",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := app.LoadAgents(config.CrewConfig{AgentsFile: agentsFile})
			if err != nil {
				return err
			}
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a.Name, a.Role, a.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentsFile, "agents", os.Getenv("CREW_AGENTS_FILE"), "YAML crew definition")
	return cmd
}

func requestFromArgs(args []string) string {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return app.DefaultRequest
	}
	return request
}

func printRecords(w io.Writer, records []chat.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]chat.Record{"messages": records})
	}
	for _, record := range records {
		if _, err := fmt.Fprintf(w, "# %s:\n%s\n\n", record.Role, record.Content); err != nil {
			return err
		}
	}
	return nil
}

func writeTranscript(path string, result *crew.Result) error {
	page, err := transcript.RenderHTML("Run "+result.Session.ID, result.Messages)
	if err != nil {
		return err
	}
	return os.WriteFile(path, page, 0o644)
}
