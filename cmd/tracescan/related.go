package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tracescan/internal/report"
	"tracescan/internal/scan"
	"tracescan/internal/trace"
)

var relatedFormat string

var relatedCmd = &cobra.Command{
	Use:   "related <ID>",
	Short: "List identifiers related to one identifier",
	Long: `Show every identifier linked to ID in either direction, including
"mentions" links that do not count toward alignment.

Example:
  tracescan related FT-CORE-001`,
	Args: cobra.ExactArgs(1),
	RunE: runRelated,
}

func init() {
	relatedCmd.Flags().StringVar(&relatedFormat, "format", "human", "Output format (human, json)")
	rootCmd.AddCommand(relatedCmd)
}

func runRelated(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	id := args[0]
	items, ok, err := scan.New(env.compiled, env.loggers.For("scan")).Related(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("identifier %s does not occur in the corpus", id)
	}

	out := cmd.OutOrStdout()
	if relatedFormat == "json" {
		return writeEncoded(out, report.EncodeJSON, map[string]interface{}{"id": id, "related": items})
	}
	return renderRelated(out, id, items)
}

func renderRelated(out io.Writer, id string, items []trace.RelatedItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintf(out, "%s has no related identifiers.\n", id)
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tDIRECTION\tCONFIDENCE\tSOURCE")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Kind, it.Direction, it.Confidence, it.Source)
	}
	return w.Flush()
}
