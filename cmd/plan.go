package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dqc/pkg/catalog"
	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/metrics"
	"github.com/ethpandaops/dqc/pkg/validation"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var planBackend string

//nolint:gochecknoglobals // Cobra commands are typically global
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the metric graph a suite resolves",
	Long: `Configure every rule of a suite and print the metric dependency graph it
resolves on a backend, grouped by dependency level. Nothing is executed.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&suiteFile, "suite", "suite.yaml", "suite file listing the rules to plan")
	planCmd.Flags().StringVar(&planBackend, "backend", string(metrics.KindMemory), "backend to plan for (memory, sql, partitioned)")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	kind, err := metrics.ParseKind(planBackend)
	if err != nil {
		return err
	}

	suite, err := expectations.LoadSuite(suiteFile)
	if err != nil {
		return err
	}

	c, err := catalog.Default()
	if err != nil {
		return err
	}

	registry, err := expectations.Builtin()
	if err != nil {
		return err
	}

	requested := make([]metrics.Config, 0, len(suite.Expectations))

	for i, req := range suite.Expectations {
		plan, err := registry.Configure(req, suite.Name)
		if err != nil {
			return fmt.Errorf("expectation %d (%s): %w", i, req.Type, err)
		}

		configs, err := validation.MetricRequests(plan)
		if err != nil {
			return fmt.Errorf("expectation %d (%s): %w", i, req.Type, err)
		}

		requested = append(requested, configs...)
	}

	graph, err := metrics.NewResolver(logger, c, metrics.ResolverConfig{}).Plan(kind, requested)
	if err != nil {
		return err
	}

	return writePlan(cmd.OutOrStdout(), kind, graph)
}

func writePlan(w io.Writer, kind metrics.Kind, graph *metrics.Graph) error {
	levels := graph.Levels()

	fmt.Fprintf(w, "%d metrics in %d levels on the %s backend\n\n", graph.Len(), len(levels), kind)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tMETRIC\tDOMAIN\tDEPENDS ON")

	for level, ids := range levels {
		for _, id := range ids {
			cfg, _ := graph.Config(id)

			deps := graph.Dependencies(id)
			roles := make([]string, 0, len(deps))

			for role, dep := range deps {
				depCfg, _ := graph.Config(dep)
				roles = append(roles, fmt.Sprintf("%s=%s", role, depCfg.Name()))
			}

			sort.Strings(roles)

			depends := "-"
			if len(roles) > 0 {
				depends = strings.Join(roles, ", ")
			}

			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", level, cfg.Name(), cfg.Domain(), depends)
		}
	}

	return tw.Flush()
}
