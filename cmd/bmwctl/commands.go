package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// errRejected means the command ran but the input or the run was not clean
var errRejected = errors.New("rejected")

// --- Global Command Variables ---
var (
	logLevel   string
	jsonOutput bool

	structureURL     string
	structureTimeout time.Duration
	runMode          string
	runOnFailure     string
	runOrder         string
	runPolicyPath    string
	runStrict        bool
	runExport        string
	runForceExport   bool

	rootCmd = &cobra.Command{
		Use:           "bmwctl",
		Short:         "Stage and apply protein point mutations from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [file.csv]",
		Short: "Parse a mutation list offline and report rejected lines",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	runCmd = &cobra.Command{
		Use:   "run [file.csv]",
		Short: "Import a mutation list and apply it against a structure bridge",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun, // Defined in cmd_run.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	runCmd.Flags().StringVar(&structureURL, "structure-url", "http://localhost:9800", "structure bridge base URL")
	runCmd.Flags().DurationVar(&structureTimeout, "timeout", 2*time.Minute, "timeout of one bridge request")
	runCmd.Flags().StringVar(&runMode, "mode", "batch", "run mode (batch, individual)")
	runCmd.Flags().StringVar(&runOnFailure, "on-failure", "", "failure policy (stop_run, skip_and_continue); default from the policy")
	runCmd.Flags().StringVar(&runOrder, "order", "", "processing order (insertion, residue); default keeps file order")
	runCmd.Flags().StringVar(&runPolicyPath, "policy", "", "YAML file with policy defaults")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "refuse to run if any line was rejected")
	runCmd.Flags().StringVar(&runExport, "export", "", "export the structure after the run (pdb, session, both)")
	runCmd.Flags().BoolVar(&runForceExport, "force-export", false, "export even if severe clashes are found")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
}
