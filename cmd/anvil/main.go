// Package main is the anvil CLI: it drives the checkpointed agent pipeline
// against a local sqlite store.
//
// Basic usage:
//
//	anvil run "refactor the parser" --thread t1
//	anvil resume <run-id> --thread t1
//	anvil trace <run-id>
//	anvil threads
//
// Configuration is read from anvil.yaml (or --config). Provider credentials
// can also come from the environment: ANTHROPIC_API_KEY, OPENAI_API_KEY, or
// the AWS credential chain for Bedrock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "anvil",
		Short:         "Agent pipeline runner",
		Long:          "Anvil runs checkpointed agent workflows: streamed LLM sessions with tool dispatch, durable traces, and resumable runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "anvil.yaml", "path to configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildTraceCmd(),
		buildThreadsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
