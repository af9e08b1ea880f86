package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/spf13/cobra"
)

type toolEntry struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
	tools.Capabilities
}

func newToolsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the editing tools and what each one needs",
		Example: `  # Table of tools
  retoucher tools

  # Machine readable
  retoucher tools --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []toolEntry
			for _, k := range tools.Selectable() {
				entries = append(entries, toolEntry{
					ID:           k.String(),
					Policy:       tools.PolicyOf(k).String(),
					Capabilities: tools.CapabilitiesOf(k),
				})
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				return printToolsText(out, entries)
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			case "csv":
				return printToolsCSV(out, entries)
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, or csv)")
	return cmd
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func printToolsText(w io.Writer, entries []toolEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tBLEND\tMASK\tPROMPT\tSECOND IMAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Policy, mark(e.RequiresMask), mark(e.RequiresPrompt), mark(e.RequiresMultipleImages))
	}
	return tw.Flush()
}

func printToolsCSV(w io.Writer, entries []toolEntry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"tool", "policy", "requires_base_image", "requires_mask", "requires_prompt", "requires_multiple_images"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Policy,
			strconv.FormatBool(e.RequiresBaseImage),
			strconv.FormatBool(e.RequiresMask),
			strconv.FormatBool(e.RequiresPrompt),
			strconv.FormatBool(e.RequiresMultipleImages),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}
