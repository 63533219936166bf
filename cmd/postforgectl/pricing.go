package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/postforge-api/internal/llm"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "LLM pricing utilities",
}

var pricingExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the built-in pricing table",
	Long: `Prints the built-in pricing. With -o json the output is the override
object format read from the pricing bucket, so it can be edited and uploaded.`,
	Example: `  postforgectl pricing export -o json > pricing.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := llm.DefaultPricingFile()
		if done, err := printStructured(os.Stdout, file); done {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "SCOPE\tNAME\tINPUT/1M\tOUTPUT/1M\tPER IMAGE")
		writePricingRows(w, "provider", file.ProviderDefaults)
		writePricingRows(w, "model", file.ModelOverrides)
		return nil
	},
}

func writePricingRows(w *tabwriter.Writer, scope string, rows map[string]llm.ModelPricing) {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := rows[name]
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.3f\n", scope, name, p.PromptPricePer1M, p.CompletionPricePer1M, p.PerImage)
	}
}

func init() {
	pricingCmd.AddCommand(pricingExportCmd)
	rootCmd.AddCommand(pricingCmd)
}
