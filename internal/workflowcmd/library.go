package workflowcmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/lehigh-university-libraries/retoucher/internal/config"
	"github.com/lehigh-university-libraries/retoucher/internal/storage"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
	"github.com/spf13/cobra"
)

// openLibrary opens the workflow library named by --db, falling back to the
// storage section of the file given by --config.
func openLibrary(cmd *cobra.Command, dbPath string) (*storage.WorkflowStore, error) {
	if dbPath == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Storage.WorkflowDB
	}
	return storage.OpenWorkflows(dbPath)
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := openLibrary(cmd, dbPath)
			if err != nil {
				return err
			}
			defer lib.Close()

			saved, err := lib.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(saved) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved workflows")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTEPS\tTOOLS\tUPDATED")
			for _, s := range saved {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, len(s.Tools), strings.Join(s.Names(), " → "), s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the workflow library (defaults to the configured one)")
	return cmd
}

// NewSaveCmd creates the save command
func NewSaveCmd() *cobra.Command {
	var dbPath string
	var name string

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save workflows from a file into the library",
		Example: `  # Save every workflow in a parquet export
  retoucher workflow save workflows.parquet

  # Save a single workflow under a new name
  retoucher workflow save portrait.json --name headshots`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := workflow.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load workflows: %w", err)
			}
			if name != "" {
				if len(workflows) != 1 {
					return fmt.Errorf("--name needs a file with exactly one workflow, got %d", len(workflows))
				}
				workflows[0].Name = name
			}

			lib, err := openLibrary(cmd, dbPath)
			if err != nil {
				return err
			}
			defer lib.Close()

			for _, wf := range workflows {
				if err := lib.Save(cmd.Context(), wf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d steps)\n", wf.Name, len(wf.Tools))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the workflow library (defaults to the configured one)")
	cmd.Flags().StringVar(&name, "name", "", "Name to save a single workflow under")
	return cmd
}

// NewDeleteCmd creates the delete command
func NewDeleteCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a workflow from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := openLibrary(cmd, dbPath)
			if err != nil {
				return err
			}
			defer lib.Close()

			if err := lib.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the workflow library (defaults to the configured one)")
	return cmd
}
