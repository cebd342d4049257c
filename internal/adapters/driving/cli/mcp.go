package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driving/mcp"
	"github.com/custodia-labs/sercha-rag/internal/config"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can ask
questions about the indexed documents and queue new files.

By default the server speaks JSON-RPC over stdio. Use --port to serve the
streamable HTTP transport instead.

Tools:     ask, retrieve, ingest, job_status
Resources: sercha-rag://jobs, sercha-rag://jobs/{jobId}, sercha-rag://formats

With the in-process memory queue an ingestion worker runs inside the MCP
server so queued files are processed.`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	server, err := mcp.NewServer(&mcp.Ports{
		Chat:      a.Chat,
		Retriever: a.Retriever,
		Ingestion: a.Ingestion,
	})
	if err != nil {
		return err
	}

	if a.Config.Queue.Backend == config.BackendMemory {
		w := a.NewWorker()
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer w.Stop()
	}

	if mcpPort > 0 {
		addr := fmt.Sprintf(":%d", mcpPort)
		a.Logger.Info("mcp server listening", "addr", addr)
		return server.RunHTTP(ctx, addr)
	}
	return server.Run(ctx)
}
