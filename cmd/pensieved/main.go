package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pensieve-ai/pensieve/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pensieved",
		Short: "Pensieve daemon",
		Long:  "Pensieve daemon for running the knowledge ingestion and retrieval API server",
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
