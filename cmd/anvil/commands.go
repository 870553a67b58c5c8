package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/observability"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/internal/workflow"
	"github.com/forgeworks/anvil/pkg/models"
)

func configPathFromFlags(cmd *cobra.Command) (string, bool) {
	path, _ := cmd.Flags().GetString("config")
	return path, cmd.Flags().Changed("config")
}

func buildRunCmd() *cobra.Command {
	var (
		threadID string
		title    string
		model    string
		fromSeq  int64
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a prompt through the checkpointed agent pipeline",
		Long: `Run appends the prompt to a thread and streams the assistant response,
executing tool calls as the model requests them. Every run is recorded as a
workflow trace; a crashed run can be re-entered with "anvil resume".

Without --thread a new thread is created and its id printed on stderr.`,
		Example: `  # New thread
  anvil run "summarize the open todos"

  # Continue a thread
  anvil run "now fix the first one" --thread t1

  # Rewind the thread to seq 4 first
  anvil run "take a different approach" --thread t1 --from-seq 4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, explicit := configPathFromFlags(cmd)
			return runRun(cmd.Context(), path, explicit, runOptions{
				threadID: threadID,
				title:    title,
				model:    model,
				fromSeq:  fromSeq,
				prompt:   strings.Join(args, " "),
			})
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id (created when absent)")
	cmd.Flags().StringVar(&title, "title", "", "title for a newly created thread")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id override for this run")
	cmd.Flags().Int64Var(&fromSeq, "from-seq", -1, "discard turns after this sequence number before running")
	return cmd
}

type runOptions struct {
	threadID string
	title    string
	model    string
	fromSeq  int64
	prompt   string
	runID    string
}

func runRun(ctx context.Context, configPath string, explicit bool, opts runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(configPath, explicit)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	stopMaintenance := a.startMaintenance(ctx)
	defer stopMaintenance()

	thread, err := resolveThread(ctx, a, opts.threadID, opts.title)
	if err != nil {
		return err
	}

	if opts.fromSeq >= 0 {
		removed, err := a.store.RemoveAfterSequence(ctx, thread.ID, opts.fromSeq)
		if err != nil {
			return fmt.Errorf("rewind thread: %w", err)
		}
		if removed > 0 {
			fmt.Fprintf(os.Stderr, "discarded %d turns after seq %d\n", removed, opts.fromSeq)
		}
	}

	engine, err := a.engineForThread(ctx, thread)
	if err != nil {
		return err
	}

	ctx = observability.WithThreadID(ctx, thread.ID)
	result, err := engine.Execute(ctx, workflow.RunRequest{
		RunID:    opts.runID,
		ThreadID: thread.ID,
		Prompt:   opts.prompt,
		Model:    opts.model,
		OnChunk:  printChunk,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintf(os.Stderr, "run %s finished: %s, %d tokens, %d tool calls\n",
		result.RunID, result.FinishReason, result.Usage.TotalTokens, result.ToolCalls)
	return nil
}

func resolveThread(ctx context.Context, a *app, threadID, title string) (*models.Thread, error) {
	if threadID != "" {
		thread, err := a.store.GetThread(ctx, threadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	thread := &models.Thread{
		ID:        threadID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if err := a.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	fmt.Fprintf(os.Stderr, "thread %s created\n", thread.ID)
	return thread, nil
}

func printChunk(chunk *agent.ResponseChunk) {
	switch {
	case chunk.Delta != "":
		fmt.Fprint(os.Stdout, chunk.Delta)
	case chunk.ToolCall != nil:
		fmt.Fprintf(os.Stderr, "\n[tool] %s\n", chunk.ToolCall.ToolName)
	}
}

func buildResumeCmd() *cobra.Command {
	var (
		threadID string
		prompt   string
	)

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Re-enter a crashed workflow run",
		Long: `Resume replays a run through its persisted checkpoints: completed steps
are skipped and execution continues from the first step without a result.
A finished run replays without side effects and prints its stored result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				return errors.New("--thread is required")
			}
			path, explicit := configPathFromFlags(cmd)
			return runRun(cmd.Context(), path, explicit, runOptions{
				threadID: threadID,
				prompt:   prompt,
				runID:    args[0],
				fromSeq:  -1,
			})
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread the run belongs to")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt, used only when the run crashed before persisting one")
	return cmd
}

func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Show the workflow trace for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, explicit := configPathFromFlags(cmd)
			a, err := newApp(path, explicit)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			trace, err := a.store.GetTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			payload, err := json.MarshalIndent(trace, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(payload))
			return nil
		},
	}
	return cmd
}

func buildThreadsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List recent threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, explicit := configPathFromFlags(cmd)
			a, err := newApp(path, explicit)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			threads, err := a.store.ListThreads(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Fprintln(os.Stdout, "no threads")
				return nil
			}
			for _, thread := range threads {
				title := thread.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(os.Stdout, "%s  %s  %s\n",
					thread.ID, thread.UpdatedAt.Format(time.RFC3339), title)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum threads to list")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anvil %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
