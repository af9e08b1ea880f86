package cmd

import (
	"github.com/lehigh-university-libraries/retoucher/internal/workflowcmd"
	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect, convert and store guided workflows",
		Long: `A workflow is the ordered list of tools applied in a session. Workflows can
be exported from a session, converted between JSON and Parquet, and kept in a
sqlite library so later sessions can replay them step by step.`,
	}

	cmd.AddCommand(workflowcmd.NewInspectCmd())
	cmd.AddCommand(workflowcmd.NewConvertCmd())
	cmd.AddCommand(workflowcmd.NewListCmd())
	cmd.AddCommand(workflowcmd.NewSaveCmd())
	cmd.AddCommand(workflowcmd.NewDeleteCmd())

	return cmd
}
