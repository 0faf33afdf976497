package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
)

type validateFlags struct {
	runDir  string
	runID   string
	dataset string
	json    bool
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Verify the stored artifacts of a run",
		Long: `Re-hash every file listed in a run manifest and compare it with the stored
BLAKE3 digest. With --dataset the dataset is checked against the fingerprint
recorded at analysis time.`,
		Example: `  iotstats validate --run-dir runs/3f1c...
  iotstats validate --run-id 3f1c... --dataset iot_ddos_synthetic.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			runDir := flags.runDir
			if runDir == "" {
				if flags.runID == "" {
					return fmt.Errorf("required flag --run-dir or --run-id not set")
				}
				runDir = evaluation.NewFileSystemArtifactStore(cfg.Output.Dir, logger).RunDir(flags.runID)
			}

			validator := evaluation.NewReproducibilityValidator(logger)
			result, err := validator.ValidateRun(cmd.Context(), runDir, flags.dataset)
			if err != nil {
				return userFriendlyError{
					Message: fmt.Sprintf("Cannot validate %s", runDir),
					Reason:  err.Error(),
					Hint:    "The directory must contain the " + evaluation.ManifestFile + " written by analyze",
					Try:     "iotstats runs",
					Err:     err,
				}
			}

			out := cmd.OutOrStdout()
			if flags.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CHECK\tTARGET\tSTATUS\tMESSAGE")
				fmt.Fprintln(w, "-----\t------\t------\t-------")
				for _, c := range result.Checks {
					msg := c.Message
					if msg == "" {
						msg = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Target, c.Status, msg)
				}
				w.Flush()
				fmt.Fprintln(out, result.String())
			}

			if !result.Valid {
				return fmt.Errorf("run %s failed validation: %d checks failed", result.RunID, result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.runDir, "run-dir", "", "Run artifact directory")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run id under output.dir")
	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "Dataset to check against the recorded fingerprint")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the result as JSON")

	return cmd
}
