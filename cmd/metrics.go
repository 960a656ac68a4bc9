package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dqc/pkg/catalog"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var metricsBackend string

//nolint:gochecknoglobals // Cobra commands are typically global
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metrics each backend provides",
	Long:  `List the builtin metric providers per backend with their execution strategy and dependencies.`,
	RunE:  runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().StringVar(&metricsBackend, "backend", "", "only list one backend (memory, sql, partitioned)")
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	kinds := metrics.Kinds()

	if metricsBackend != "" {
		kind, err := metrics.ParseKind(metricsBackend)
		if err != nil {
			return err
		}

		kinds = []metrics.Kind{kind}
	}

	c, err := catalog.Default()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tMETRIC\tSTRATEGY\tREQUIRES")

	for _, kind := range kinds {
		for _, d := range c.Descriptors(kind) {
			requires := "-"
			if len(d.Requires) > 0 {
				requires = strings.Join(d.Requires, ", ")
			}

			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, d.Name, d.Strategy, requires)
		}
	}

	return tw.Flush()
}
