package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyzr/mutwizard/common/clients"
	"github.com/lyzr/mutwizard/common/csvimport"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/staging"
)

// bridge is what a CLI run needs from the structure bridge
type bridge interface {
	engine.Primitive
	engine.Lookup
	engine.Exporter
	engine.ClashScanner
}

// fileRun configures one "bmwctl run"
type fileRun struct {
	Path     string
	Options  engine.Options
	Defaults engine.Defaults
	Strict   bool
	Export   engine.ExportFormat
	Force    bool
}

// fileRunResult is printed by "bmwctl run"
type fileRunResult struct {
	Import *csvimport.Result `json:"import"`
	Report *engine.Report    `json:"report,omitempty"`
	Export []string          `json:"export,omitempty"`
}

// runRun is the handler for "bmwctl run"
func runRun(cmd *cobra.Command, args []string) error {
	log := logger.NewWithWriter(os.Stderr, logLevel, "text")

	defaults := engine.DefaultPolicy()
	if runPolicyPath != "" {
		var err error
		if defaults, err = loadPolicy(runPolicyPath); err != nil {
			return err
		}
	}

	structure := clients.NewStructureClient(&clients.StructureClientOpts{
		BaseURL: structureURL,
		Timeout: structureTimeout,
		Logger:  log,
	})

	res, err := executeFile(cmd.Context(), structure, fileRun{
		Path: args[0],
		Options: engine.Options{
			Mode:      engine.Mode(runMode),
			OnFailure: engine.FailurePolicy(runOnFailure),
			Order:     staging.Order(runOrder),
		},
		Defaults: defaults,
		Strict:   runStrict,
		Export:   engine.ExportFormat(runExport),
		Force:    runForceExport,
	}, log)
	if res != nil {
		if jsonOutput {
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
		} else {
			printRun(cmd.OutOrStdout(), args[0], res)
		}
	}
	if err != nil {
		return err
	}

	if !res.Import.OK() || res.Report.Counts.Failed > 0 {
		return errRejected
	}
	return nil
}

// executeFile imports a mutation list into a fresh table and runs it to the
// end. The partial result is returned alongside any error after the import.
func executeFile(ctx context.Context, structure bridge, fr fileRun, log *logger.Logger) (*fileRunResult, error) {
	switch fr.Options.Mode {
	case engine.ModeBatch, engine.ModeIndividual:
	case engine.ModeStep:
		return nil, fmt.Errorf("step mode is interactive, use the wizard service")
	default:
		return nil, fmt.Errorf("unknown mode %q", fr.Options.Mode)
	}
	if fr.Export != "" && !fr.Export.Valid() {
		return nil, fmt.Errorf("unknown export format %q", fr.Export)
	}

	imported, err := csvimport.ParseFile(ctx, fr.Path, structure)
	if err != nil {
		return nil, err
	}
	out := &fileRunResult{Import: imported}
	if fr.Strict && !imported.OK() {
		return out, errRejected
	}
	if len(imported.Records) == 0 {
		log.Warn("nothing to run", "path", fr.Path, "rejected", len(imported.Errors))
		return out, errRejected
	}

	table := staging.NewTable()
	table.Merge(imported.Records)

	eng, err := engine.New(&engine.EngineOpts{
		Table:        table,
		Primitive:    structure,
		Lookup:       structure,
		Exporter:     structure,
		ClashScanner: structure,
		Sinks:        []engine.Sink{feedback.NewLogSink(log)},
		Defaults:     &fr.Defaults,
		Logger:       log,
	})
	if err != nil {
		return out, err
	}

	opts := fr.Options
	opts.FromImport = true
	run, err := eng.Start(ctx, opts)
	if err != nil {
		return out, err
	}
	report := run.Report()
	if run.State() == engine.StateRunning {
		if report, err = run.Execute(ctx); err != nil {
			return out, err
		}
	}
	out.Report = &report

	if fr.Export != "" {
		paths, err := eng.Export(ctx, fr.Export, fr.Force)
		if err != nil {
			return out, err
		}
		out.Export = paths
	}
	return out, nil
}

func printRun(w io.Writer, path string, res *fileRunResult) {
	printImport(w, path, res.Import)
	if res.Report != nil {
		fmt.Fprintln(w)
		printReport(w, *res.Report)
	}
	for _, p := range res.Export {
		fmt.Fprintf(w, "exported %s\n", p)
	}
}
