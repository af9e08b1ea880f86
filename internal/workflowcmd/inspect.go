package workflowcmd

import (
	"fmt"
	"io"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type stepReport struct {
	Step   int    `yaml:"step"`
	Tool   string `yaml:"tool"`
	Policy string `yaml:"policy"`

	tools.Capabilities `yaml:",inline"`
}

type workflowReport struct {
	Name  string       `yaml:"name"`
	Steps []stepReport `yaml:"steps"`
}

// NewInspectCmd creates the inspect command
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the workflows in a file as YAML",
		Long: `Inspect reads workflows from a .json, .jsonl or .parquet file and prints
each step with the inputs its tool needs and how its result is blended.`,
		Example: `  # Inspect a single exported workflow
  retoucher workflow inspect portrait.json

  # Inspect a parquet export
  retoucher workflow inspect workflows.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := workflow.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load workflows: %w", err)
			}
			return writeReport(cmd.OutOrStdout(), workflows)
		},
	}
	return cmd
}

func writeReport(w io.Writer, workflows []workflow.Workflow) error {
	reports := make([]workflowReport, 0, len(workflows))
	for _, wf := range workflows {
		r := workflowReport{Name: wf.Name}
		for i, k := range wf.Tools {
			r.Steps = append(r.Steps, stepReport{
				Step:         i + 1,
				Tool:         k.String(),
				Policy:       tools.PolicyOf(k).String(),
				Capabilities: tools.CapabilitiesOf(k),
			})
		}
		reports = append(reports, r)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}

// NewConvertCmd creates the convert command
func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert workflows between JSON, JSONL and Parquet",
		Long: `Convert reads workflows from the input file and writes them to the output
file. Formats are chosen by file extension.`,
		Example: `  # Export a JSON workflow to parquet
  retoucher workflow convert portrait.json portrait.parquet`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := workflow.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load workflows: %w", err)
			}
			if err := workflow.Save(args[1], workflows...); err != nil {
				return fmt.Errorf("failed to save workflows: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %d workflow(s) to %s\n", len(workflows), args[1])
			return nil
		},
	}
	return cmd
}
