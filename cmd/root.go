package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "retoucher",
		Short: "Photo editing sessions backed by generative image models",
		Long: `Retoucher runs layered photo editing sessions whose edits are produced by
generative image models.

Each session keeps an undoable history of layer stacks, a paintable selection
mask and a pending result that can be previewed before it is committed.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "retoucher.yaml", "Path to the YAML config file")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkflowCmd())
	cmd.AddCommand(newToolsCmd())

	return cmd
}
