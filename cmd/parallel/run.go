package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pi-parallel/parallel/internal/dispatch"
	"github.com/pi-parallel/parallel/internal/types"
)

var (
	flagTask           string
	flagChainFile      string
	flagRaceModels     []string
	flagRaceTask       string
	flagTeamFile       string
	flagMaxConcurrency int
	flagContext        string
	flagContextFiles   []string
	flagGitContext     bool
	flagCwd            string
	flagAgent          string
	flagModel          string
	flagOutputJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single tool invocation from flags, for local testing without a host runtime.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mustLogger(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()
		defer cancel()

		req := dispatch.Request{
			Context:        flagContext,
			ContextFiles:   flagContextFiles,
			MaxConcurrency: flagMaxConcurrency,
			Cwd:            flagCwd,
			Agent:          flagAgent,
			Model:          flagModel,
		}
		if flagGitContext {
			req.GitContext = &dispatch.GitContextSpec{Enabled: true, Branch: true, Status: true}
		}

		switch {
		case flagTask != "":
			req.Task = flagTask
		case flagChainFile != "":
			if err := readJSONFile(flagChainFile, &req.Chain); err != nil {
				return err
			}
		case flagTeamFile != "":
			var team dispatch.TeamSpec
			if err := readJSONFile(flagTeamFile, &team); err != nil {
				return err
			}
			req.Team = &team
		case len(flagRaceModels) > 0:
			req.Race = &dispatch.RaceSpec{Task: flagRaceTask, Models: flagRaceModels}
		default:
			return fmt.Errorf("one of --task, --chain-file, --race-models, --team-file is required")
		}

		d := dispatch.New(cfg)
		resp := d.Dispatch(ctx, req, func(*types.TaskProgress) {}, nil)

		if flagOutputJSON {
			return json.NewEncoder(os.Stdout).Encode(resp)
		}
		for _, c := range resp.Content {
			fmt.Println(c.Text)
		}
		if resp.IsError {
			os.Exit(1)
		}
		return nil
	},
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&flagTask, "task", "", "single-mode task prompt")
	runCmd.Flags().StringVar(&flagChainFile, "chain-file", "", "JSON file containing chain-mode steps")
	runCmd.Flags().StringVar(&flagTeamFile, "team-file", "", "JSON file containing a team-mode spec")
	runCmd.Flags().StringSliceVar(&flagRaceModels, "race-models", nil, "comma-separated models to race")
	runCmd.Flags().StringVar(&flagRaceTask, "race-task", "", "prompt shared by every race-mode model")
	runCmd.Flags().IntVar(&flagMaxConcurrency, "max-concurrency", 0, "concurrency cap (1-8)")
	runCmd.Flags().StringVar(&flagContext, "context", "", "shared context string")
	runCmd.Flags().StringSliceVar(&flagContextFiles, "context-file", nil, "file(s) to inline as additional context")
	runCmd.Flags().BoolVar(&flagGitContext, "git-context", false, "include branch+status git context")
	runCmd.Flags().StringVar(&flagCwd, "cwd", "", "working directory for spawned agents")
	runCmd.Flags().StringVar(&flagAgent, "agent", "", "named agent definition to apply")
	runCmd.Flags().StringVar(&flagModel, "model", "", "model override")
	runCmd.Flags().BoolVar(&flagOutputJSON, "json", false, "print the full Result object as JSON")
}
