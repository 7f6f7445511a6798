// Package main provides the toolweave CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/toolweave/cli"
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts cli.Options

	root := &cobra.Command{
		Use:   "toolweave",
		Short: "LLM agent that calls tools served by MCP subprocesses",
		Long: `Run an LLM agent whose tools are served by Model Context Protocol
servers launched as subprocesses.

The model asks for tools in natural language inside <tool_request> tags.
Each request is turned into structured tool calls, routed to the server
that owns the tool, and the results are fed back until the model answers.

Servers come from a tools file (--tools, mcp.tools_file) or --mcp flags:
  --mcp calculator=servers/calculator.py
  --mcp "memory=npx -y @modelcontextprotocol/server-memory"`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (.toml or .json)")
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (deepseek, openai, qwen, anthropic, gemini)")
	flags.StringVar(&opts.Model, "model", "", "Model for the active provider")
	flags.IntVarP(&opts.MaxIter, "max-iter", "m", 0, "Maximum iterations per query")
	flags.StringVar(&opts.Version, "tool-calling", "", "Tool call strategy (strict, repair)")
	flags.BoolVar(&opts.Parallel, "parallel", false, "Run the tool calls of one iteration concurrently")
	flags.StringVarP(&opts.ToolsFile, "tools", "t", "", "Tools file")
	flags.StringArrayVar(&opts.Servers, "mcp", nil, "MCP server, name=command or script path (repeatable)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "Log format (console, json)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Show steps and usage")

	root.AddCommand(runCmd(&opts), chatCmd(&opts), toolsCmd(&opts), serveCmd(&opts))
	return root
}

func runCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [query]",
		Short: "Answer a single query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd.Context(), args[0], *opts, cmd.OutOrStdout())
		},
	}
}

func chatCmd(opts *cli.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Type 'clear' to reset the conversation and 'exit' to quit. With --session the
transcript is saved to SQLite and restored on the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), *opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Session ID for conversation persistence")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "Database path (default "+cli.DefaultDBPath+")")
	return cmd
}

func toolsCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Launch the configured servers and list their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), *opts, cmd.OutOrStdout())
		},
	}
}

func serveCmd(opts *cli.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP, or as an MCP tool with --stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), *opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default :8080)")
	cmd.Flags().BoolVar(&opts.Stdio, "stdio", false, "Serve the agent as an MCP tool on stdin/stdout")
	return cmd
}
