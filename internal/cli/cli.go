// Package cli defines the wrangler command tree.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/wrangler/internal/config"
	"github.com/HendryAvila/wrangler/internal/server"
)

// NewRootCmd builds the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wrangler",
		Short: "Multi-agent orchestration and project knowledge server",
		Long: `Wrangler coordinates autonomous software agents on a shared project:
agent lifecycle, a dependency-linked task graph, advisory file claims,
a serialized write queue over one SQLite file, and an incremental
knowledge index with hybrid retrieval.

Configuration comes from wrangler.yaml and WRANGLER_* environment
variables (WRANGLER_ADMIN_TOKEN and WRANGLER_TOKEN_SECRET are required).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			s, cleanup, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			// Run cleanup on interrupt too — ServeStdio returns when
			// stdin closes, but agents are usually killed by signal.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cleanup()
				os.Exit(0)
			}()

			return mcpserver.ServeStdio(s)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wrangler version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wrangler v%s\n", server.Version)
		},
	}
}
