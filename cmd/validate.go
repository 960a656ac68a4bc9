package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dqc/pkg/expectations"
	"github.com/ethpandaops/dqc/pkg/result"
	"github.com/ethpandaops/dqc/pkg/service"
	"github.com/ethpandaops/dqc/pkg/validation"
)

var (
	// ErrSuiteFailed is returned when at least one rule of the suite did not succeed
	ErrSuiteFailed = errors.New("suite validation failed")
	// ErrUnknownOutput is returned for an unsupported --output value
	ErrUnknownOutput = errors.New("unknown output format, expected text, json or yaml")
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	suiteFile    string
	outputFormat string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured batch against a suite",
	Long: `Load the batch described by the source section of the config and validate it
against every rule of a suite file. Exits non-zero when any rule fails.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&suiteFile, "suite", "suite.yaml", "suite file listing the rules to validate")
	validateCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	switch outputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutput, outputFormat)
	}

	config, err := service.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	// Only the report goes to stdout unless logs were asked for.
	if !cmd.Flags().Changed("log-level") {
		logger.SetLevel(logrus.WarnLevel)
	}

	suite, err := expectations.LoadSuite(suiteFile)
	if err != nil {
		return err
	}

	svc, err := service.NewService(logger, config)
	if err != nil {
		return err
	}

	out, err := svc.ValidateSuite(cmd.Context(), suite)
	if err != nil {
		return err
	}

	if err := writeSuiteResult(cmd.OutOrStdout(), out, outputFormat); err != nil {
		return err
	}

	if !out.Success {
		return fmt.Errorf("%w: %d of %d rules failed", ErrSuiteFailed,
			out.Statistics.UnsuccessfulExpectations, out.Statistics.EvaluatedExpectations)
	}

	return nil
}

func writeSuiteResult(w io.Writer, out *validation.SuiteResult, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		return encoder.Encode(out)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)

		if err := encoder.Encode(out); err != nil {
			return err
		}

		return encoder.Close()
	default:
		return writeSuiteTable(w, out)
	}
}

func writeSuiteTable(w io.Writer, out *validation.SuiteResult) error {
	fmt.Fprintf(w, "Suite %s on batch %s (%s backend), run %s\n\n", out.SuiteName, out.BatchID, out.Backend, out.RunID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tEXPECTATION\tCOLUMN\tSUCCESS\tDETAIL")

	for i, res := range out.Results {
		column, _ := res.ExpectationConfig.Kwargs[expectations.KeyColumn].(string)
		if column == "" {
			column = "-"
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", i, res.ExpectationConfig.Type, column, res.Success, detail(res))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d evaluated, %d successful, %d unsuccessful (%.2f%%)\n",
		out.Statistics.EvaluatedExpectations,
		out.Statistics.SuccessfulExpectations,
		out.Statistics.UnsuccessfulExpectations,
		out.Statistics.SuccessPercent)

	return nil
}

func detail(res validation.RuleResult) string {
	switch {
	case res.ExceptionInfo.RaisedException && res.ExceptionInfo.ExceptionMessage != nil:
		return "exception: " + *res.ExceptionInfo.ExceptionMessage
	case res.ObservedValue != nil:
		return fmt.Sprintf("observed %v", res.ObservedValue)
	}

	if count, ok := res.Result[result.FieldUnexpectedCount]; ok {
		return fmt.Sprintf("%v unexpected of %v", count, res.Result[result.FieldElementCount])
	}

	return ""
}
